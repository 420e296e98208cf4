// Package state packs relying-party OAuth parameters into the opaque state
// string carried through QQ's own state parameter. The blob is unsigned: it
// round-trips through an untrusted third party and carries no ambient
// authority, only routing data that is re-validated at the token endpoint.
package state

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/k99k5/oidc-convert/internal/domain/oauth"
)

// Encode serializes the request as base64url JSON.
func Encode(req oauth.RelyingPartyRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode is best-effort: nil on any malformed input. Callers fall back to
// the non-bridged callback response rather than aborting the flow.
func Decode(encoded string) *oauth.RelyingPartyRequest {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		// Tolerate padded input from callers that use standard base64url.
		raw, err = base64.URLEncoding.DecodeString(trimmed)
		if err != nil {
			return nil
		}
	}

	var req oauth.RelyingPartyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return &req
}
