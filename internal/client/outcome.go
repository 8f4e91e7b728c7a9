package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/uvaco/cardauth/internal/provider"
)

// Outcome is the result of a callback-processing attempt. Handled is false
// when the URL was not this provider's callback at all; in that case the
// caller should hand the URL to the next adapter or render normally.
type Outcome struct {
	Handled bool
	OK      bool
	Err     *FlowError
}

// FlowError is a structured login failure. It is a value carried inside an
// Outcome, never panicked or raised across the package boundary.
type FlowError struct {
	Code   string
	Status int             // HTTP status from the exchange endpoint, if any
	Detail json.RawMessage // response body or normalized marker, if any
}

func (e *FlowError) Error() string {
	if len(e.Detail) > 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

// Error code suffixes. Full codes are provider-prefixed so a support log
// line identifies the adapter without extra context.
const (
	suffixNoCode         = "NO_CODE"
	suffixBadState       = "BAD_STATE"
	suffixFetchFailed    = "FETCH_FAILED"
	suffixExchangeFailed = "EXCHANGE_FAILED"
	suffixNoToken        = "NO_TOKEN"
	suffixCallback       = "CALLBACK_FAILED"
)

func errCode(d provider.Descriptor, suffix string) string {
	return strings.ToUpper(string(d.Name)) + "_" + suffix
}

func notHandled() Outcome { return Outcome{Handled: false} }

func failed(code string, status int, detail json.RawMessage) Outcome {
	return Outcome{Handled: true, Err: &FlowError{Code: code, Status: status, Detail: detail}}
}

func succeeded() Outcome { return Outcome{Handled: true, OK: true} }
