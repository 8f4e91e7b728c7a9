// Package exchange implements the server-side half of the login flow: the
// per-provider endpoints that trade an authorization code for a session
// token, plus their configuration diagnostics.
package exchange

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uvaco/cardauth/internal/http/dto"
	httperrors "github.com/uvaco/cardauth/internal/http/errors"
	"github.com/uvaco/cardauth/internal/http/helpers"
	"github.com/uvaco/cardauth/internal/identity"
	"github.com/uvaco/cardauth/internal/metrics"
	"github.com/uvaco/cardauth/internal/observability/logger"
	"github.com/uvaco/cardauth/internal/provider"
	"github.com/uvaco/cardauth/internal/session"
)

// ProviderRuntime bundles what one configured provider needs at request
// time. Secrets maps each required configuration name to its value; diag
// reports presence per name, and an empty value fails the exchange before
// any upstream call.
type ProviderRuntime struct {
	Exchanger *provider.Exchanger
	Secrets   map[string]string
}

// Controller serves the exchange endpoints for every configured provider.
type Controller struct {
	providers map[identity.Provider]*ProviderRuntime
	identity  *identity.Service
	issuer    *session.Issuer
	build     string
}

func NewController(providers map[identity.Provider]*ProviderRuntime, svc *identity.Service, issuer *session.Issuer, build string) *Controller {
	return &Controller{
		providers: providers,
		identity:  svc,
		issuer:    issuer,
		build:     build,
	}
}

// Handle dispatches one exchange endpoint: POST runs the code exchange
// (or the diag action when the body asks for it), GET returns the
// configuration diagnostic.
func (c *Controller) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		c.exchange(w, r)
	case http.MethodGet:
		c.diag(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		httperrors.Write(w, httperrors.ErrMethodNotAllowed)
	}
}

func (c *Controller) exchange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	p, err := identity.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		httperrors.Write(w, httperrors.ErrUnknownProvider)
		return
	}
	log := logger.From(ctx).With(
		logger.Layer("controller"),
		logger.Component("exchange"),
		logger.Provider(string(p)),
	)
	outcome := func(o string) {
		metrics.ExchangeTotal.WithLabelValues(string(p), o).Inc()
		metrics.ExchangeDuration.WithLabelValues(string(p)).Observe(time.Since(start).Seconds())
	}

	var req dto.ExchangeRequest
	if !helpers.ReadJSON(w, r, &req) {
		outcome(metrics.OutcomeBadRequest)
		return
	}
	// The diag action answers even for a misconfigured provider; reporting
	// which secrets are absent is its whole purpose.
	if req.Action == "diag" {
		helpers.WriteJSON(w, http.StatusOK, c.diagResponse(p))
		return
	}

	rt := c.providers[p]
	if rt == nil {
		outcome(metrics.OutcomeConfig)
		httperrors.Write(w, httperrors.MissingSecrets(string(p)))
		return
	}
	if missing := missingSecrets(rt.Secrets); len(missing) > 0 {
		log.Error("exchange misconfigured", logger.Any("missing", missing))
		outcome(metrics.OutcomeConfig)
		detail, _ := json.Marshal(missing)
		httperrors.Write(w, httperrors.MissingSecrets(string(p)).WithDetail(detail))
		return
	}

	if req.Code == "" {
		outcome(metrics.OutcomeBadRequest)
		httperrors.Write(w, httperrors.ErrMissingCode)
		return
	}
	if req.RedirectURI == "" {
		outcome(metrics.OutcomeBadRequest)
		httperrors.Write(w, httperrors.ErrMissingRedirectURI)
		return
	}

	upStart := time.Now()
	tr, err := rt.Exchanger.ExchangeCode(ctx, req.Code, req.RedirectURI)
	metrics.UpstreamDuration.WithLabelValues(string(p), "token_exchange").Observe(time.Since(upStart).Seconds())
	if err != nil {
		provider.LogUpstreamFailure(ctx, rt.Exchanger.Descriptor(), err)
		outcome(metrics.OutcomeUpstream)
		httperrors.Write(w, httperrors.TokenExchangeFailed(string(p), upstreamDetail(err)))
		return
	}

	upStart = time.Now()
	id, err := rt.Exchanger.Identity(ctx, tr, req.IDToken)
	metrics.UpstreamDuration.WithLabelValues(string(p), "identity").Observe(time.Since(upStart).Seconds())
	if err != nil {
		provider.LogUpstreamFailure(ctx, rt.Exchanger.Descriptor(), err)
		outcome(metrics.OutcomeUpstream)
		httperrors.Write(w, httperrors.ProfileFailed(string(p), upstreamDetail(err)))
		return
	}
	if id.ProviderUserID == "" {
		outcome(metrics.OutcomeUpstream)
		httperrors.Write(w, httperrors.NoUserID(string(p)))
		return
	}

	// Apple sends the user's name once, on first consent, alongside the
	// callback rather than in any token.
	if id.DisplayName == "" {
		id.DisplayName = req.User.DisplayName()
	}
	if id.Email == "" && req.User != nil {
		id.Email = req.User.Email
	}

	userID, err := c.identity.Resolve(ctx, p, id.ProviderUserID, identity.Profile{
		DisplayName: id.DisplayName,
		Email:       id.Email,
	})
	if err != nil {
		log.Error("identity resolution failed", logger.Err(err))
		outcome(metrics.OutcomeStore)
		switch {
		case errors.Is(err, identity.ErrStoreInsert):
			httperrors.Write(w, httperrors.ErrDBInsertFailed)
		case errors.Is(err, identity.ErrStoreQuery):
			httperrors.Write(w, httperrors.ErrDBQueryFailed)
		default:
			httperrors.Write(w, httperrors.ErrInternal)
		}
		return
	}

	sess, err := c.issuer.Issue(userID, id.Email)
	if err != nil {
		log.Error("session signing failed", logger.Err(err))
		outcome(metrics.OutcomeStore)
		httperrors.Write(w, httperrors.ErrTokenSignFailed)
		return
	}

	log.Info("exchange completed", logger.UserID(userID))
	outcome(metrics.OutcomeOK)
	helpers.WriteJSON(w, http.StatusOK, dto.ExchangeResponse{
		AccessToken: sess.Token,
		TokenType:   "bearer",
		ExpiresIn:   sess.ExpiresIn,
		UserID:      userID,
		Email:       id.Email,
	})
}

func (c *Controller) diag(w http.ResponseWriter, r *http.Request) {
	p, err := identity.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		httperrors.Write(w, httperrors.ErrUnknownProvider)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, c.diagResponse(p))
}

func (c *Controller) diagResponse(p identity.Provider) dto.DiagResponse {
	resp := dto.DiagResponse{
		Build: c.build,
		Has:   map[string]bool{},
		Len:   map[string]int{},
	}
	if rt := c.providers[p]; rt != nil {
		resp.OK = true
		for name, v := range rt.Secrets {
			resp.Has[name] = v != ""
			resp.Len[name] = len(v)
			if v == "" {
				resp.OK = false
			}
		}
	}
	return resp
}

func missingSecrets(secrets map[string]string) []string {
	var missing []string
	for name, v := range secrets {
		if v == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// upstreamDetail normalizes an upstream failure for the response body:
// deadline failures become the TIMEOUT marker, rejections keep the
// provider's body, transport failures keep only the error class.
func upstreamDetail(err error) json.RawMessage {
	var ue *provider.UpstreamError
	if !errors.As(err, &ue) {
		b, _ := json.Marshal(err.Error())
		return b
	}
	if ue.Timeout() {
		return json.RawMessage(`"TIMEOUT"`)
	}
	if len(ue.Detail) > 0 {
		return ue.Detail
	}
	b, _ := json.Marshal(ue.Error())
	return b
}
