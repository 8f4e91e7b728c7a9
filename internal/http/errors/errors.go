// Package errors defines the structured error surface of the exchange
// endpoints. Every failure the handler can produce is an AppError; the
// wire shape is {error, detail?, status?} and nothing else.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// AppError is the standard application error.
type AppError struct {
	Code       string          `json:"error"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	HTTPStatus int             `json:"status,omitempty"`
	Err        error           `json:"-"` // cause, for logs only
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.Err)
	}
	return fmt.Sprintf("[%s]", e.Code)
}

func (e *AppError) Unwrap() error { return e.Err }

// New builds an AppError.
func New(status int, code string) *AppError {
	return &AppError{Code: code, HTTPStatus: status}
}

// WithDetail returns a copy carrying a raw JSON detail. Copies keep the
// predefined errors immutable.
func (e *AppError) WithDetail(detail json.RawMessage) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithDetailString returns a copy with a plain-string detail.
func (e *AppError) WithDetailString(detail string) *AppError {
	b, _ := json.Marshal(detail)
	return e.WithDetail(b)
}

// WithCause returns a copy carrying the underlying error for logging.
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// Write serializes e to w with its status code.
func Write(w http.ResponseWriter, e *AppError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(e)
}

// Request validation errors (user side, 400).
var (
	ErrMissingCode = &AppError{
		Code:       "MISSING_CODE",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrMissingRedirectURI = &AppError{
		Code:       "MISSING_REDIRECT_URI",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrUnknownProvider = &AppError{
		Code:       "UNKNOWN_PROVIDER",
		HTTPStatus: http.StatusNotFound,
	}
	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		HTTPStatus: http.StatusMethodNotAllowed,
	}
	ErrRateLimited = &AppError{
		Code:       "RATE_LIMITED",
		HTTPStatus: http.StatusTooManyRequests,
	}
	ErrMissingAPIKey = &AppError{
		Code:       "MISSING_API_KEY",
		HTTPStatus: http.StatusUnauthorized,
	}
)

// Infrastructure errors (our side, 500).
var (
	ErrDBQueryFailed = &AppError{
		Code:       "DB_QUERY_FAILED",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrDBInsertFailed = &AppError{
		Code:       "DB_INSERT_FAILED",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrTokenSignFailed = &AppError{
		Code:       "TOKEN_SIGN_FAILED",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrInternal = &AppError{
		Code:       "INTERNAL",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// MissingSecrets is the operational error for absent provider
// configuration, e.g. MISSING_LINE_SECRETS. 500 because it is a deployment
// defect, not something the user caused.
func MissingSecrets(provider string) *AppError {
	return &AppError{
		Code:       "MISSING_" + strings.ToUpper(provider) + "_SECRETS",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// TokenExchangeFailed is the 400 for a provider-side rejection of the
// code exchange, e.g. LINE_TOKEN_EXCHANGE_FAILED.
func TokenExchangeFailed(provider string, detail json.RawMessage) *AppError {
	return &AppError{
		Code:       strings.ToUpper(provider) + "_TOKEN_EXCHANGE_FAILED",
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ProfileFailed is the 400 for a failed profile or id_token resolution,
// e.g. GOOGLE_PROFILE_FAILED.
func ProfileFailed(provider string, detail json.RawMessage) *AppError {
	return &AppError{
		Code:       strings.ToUpper(provider) + "_PROFILE_FAILED",
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NoUserID is the 400 for a provider reply that carried no stable user id.
func NoUserID(provider string) *AppError {
	return &AppError{
		Code:       strings.ToUpper(provider) + "_NO_USER_ID",
		HTTPStatus: http.StatusBadRequest,
	}
}
