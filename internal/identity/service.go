package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/uvaco/cardauth/internal/metrics"
	"github.com/uvaco/cardauth/internal/observability/logger"
	"github.com/uvaco/cardauth/internal/util"

	"github.com/google/uuid"
)

const touchTimeout = 5 * time.Second

// Service resolves a provider identity to an internal user id, creating the
// link on first login and refreshing profile metadata afterwards.
type Service struct {
	store Store
}

// NewService creates a Service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Resolve returns the internal user id for the provider identity. Missing
// links are created with a fresh UUID through the store's atomic
// insert-if-absent, so concurrent first logins converge on one id. Existing
// links get a detached best-effort profile refresh that never blocks or
// fails the login.
func (s *Service) Resolve(ctx context.Context, p Provider, providerUserID string, profile Profile) (string, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("identity"),
		logger.Provider(string(p)),
	)

	if providerUserID == "" {
		return "", fmt.Errorf("identity: empty provider user id")
	}

	link, err := s.store.Lookup(ctx, p, providerUserID)
	switch {
	case err == nil:
		s.touchDetached(ctx, p, providerUserID, profile)
		return link.InternalUserID, nil
	case err != ErrNotFound:
		return "", fmt.Errorf("%w: %w", ErrStoreQuery, err)
	}

	stored, err := s.store.EnsureLink(ctx, Link{
		Provider:       p,
		ProviderUserID: providerUserID,
		InternalUserID: uuid.NewString(),
		DisplayName:    profile.DisplayName,
		Email:          profile.Email,
		LastLoginAt:    time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreInsert, err)
	}

	metrics.IdentityLinksCreated.WithLabelValues(string(p)).Inc()
	log.Info("identity link created",
		logger.UserID(stored.InternalUserID),
		logger.String("email_masked", util.MaskEmail(profile.Email)),
	)
	return stored.InternalUserID, nil
}

// touchDetached refreshes profile metadata without joining the result into
// the login path. The parent cancellation is dropped so an already-finished
// request does not abort the update mid-flight.
func (s *Service) touchDetached(ctx context.Context, p Provider, providerUserID string, profile Profile) {
	log := logger.From(ctx).With(logger.Component("identity"), logger.Provider(string(p)))
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
	go func() {
		defer cancel()
		if err := s.store.Touch(bg, p, providerUserID, profile); err != nil {
			log.Warn("profile touch failed", logger.Err(err))
		}
	}()
}
