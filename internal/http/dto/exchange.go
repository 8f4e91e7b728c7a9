// Package dto holds the wire shapes of the exchange endpoints.
package dto

// ExchangeRequest is the POST body of an exchange endpoint. Action selects
// a non-exchange operation; "diag" returns the configuration diagnostic
// instead of running the code exchange.
type ExchangeRequest struct {
	Action      string `json:"action,omitempty"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	IDToken     string `json:"idToken,omitempty"`

	// User arrives only from Apple, only on first consent; the name never
	// appears again, so it is folded into the identity link here or lost.
	User *AppleUser `json:"user,omitempty"`
}

// AppleUser is the optional first-consent payload from Sign in with Apple.
type AppleUser struct {
	Name struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
	Email string `json:"email,omitempty"`
}

// DisplayName joins the name parts, or returns "".
func (u *AppleUser) DisplayName() string {
	if u == nil {
		return ""
	}
	switch {
	case u.Name.FirstName != "" && u.Name.LastName != "":
		return u.Name.FirstName + " " + u.Name.LastName
	case u.Name.FirstName != "":
		return u.Name.FirstName
	default:
		return u.Name.LastName
	}
}

// ExchangeResponse is the success body of an exchange endpoint.
type ExchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
}

// DiagResponse is the configuration-presence diagnostic, served on GET and
// on POST with action "diag". Booleans and lengths only; secret values
// never leave the process.
type DiagResponse struct {
	OK    bool            `json:"ok"`
	Build string          `json:"build"`
	Has   map[string]bool `json:"has"`
	Len   map[string]int  `json:"len,omitempty"`
}
