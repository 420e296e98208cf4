package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates missing or malformed protocol parameters.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrInvalidClient indicates client credentials that do not match the
	// configured relying party.
	ErrInvalidClient = errors.New("oauth: invalid client")
	// ErrInvalidGrant covers expired, mismatched, or unverifiable
	// authorization codes. Signature and expiry failures are deliberately
	// indistinguishable.
	ErrInvalidGrant = errors.New("oauth: invalid grant")
	// ErrTokenInvalid indicates malformed or unverifiable bearer tokens.
	ErrTokenInvalid = errors.New("oauth: token invalid")
	// ErrUpstreamFailure indicates QQ rejected the code/token exchange.
	ErrUpstreamFailure = errors.New("oauth: upstream failure")
	// ErrNotInitialized indicates key material was accessed before
	// generation. A programming error, fatal to the call.
	ErrNotInitialized = errors.New("oauth: signing keys not initialized")
)

// Error standardizes OAuth compliant errors so relying-party libraries can
// parse the {error, error_description} body uniformly.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError builds a protocol error with an HTTP status.
func NewError(code, desc string, status int) *Error {
	return &Error{Code: code, Description: desc, Status: status}
}
