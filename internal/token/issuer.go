package token

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/k99k5/oidc-convert/internal/domain/oauth"
	"github.com/k99k5/oidc-convert/internal/replay"
)

// Defaults for issued credentials. Authorization codes are deliberately
// short-lived: as self-contained tokens they are not deleted at redemption,
// so the TTL bounds the replay window when no guard is configured.
const (
	DefaultCodeTTL        = 10 * time.Minute
	DefaultAccessTokenTTL = time.Hour
	DefaultIDTokenTTL     = time.Hour
)

// Issuer mints authorization codes, access tokens, and ID tokens from
// verified identities. Codes and access tokens are HMAC-signed and read only
// by this service; ID tokens are RSA-signed so relying parties can verify
// them against the published JWKS.
type Issuer struct {
	codes     *Signer
	ids       *Signer
	guard     replay.Guard
	codeTTL   time.Duration
	accessTTL time.Duration
}

// NewIssuer wires the issuer. guard may be nil, in which case redemption is
// purely stateless. Zero TTLs fall back to the defaults.
func NewIssuer(codeSigner, idSigner *Signer, guard replay.Guard, codeTTL, accessTTL time.Duration) *Issuer {
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	return &Issuer{
		codes:     codeSigner,
		ids:       idSigner,
		guard:     guard,
		codeTTL:   codeTTL,
		accessTTL: accessTTL,
	}
}

// AccessTokenTTL reports the lifetime stamped on access tokens, for the
// token endpoint's expires_in field.
func (i *Issuer) AccessTokenTTL() time.Duration {
	return i.accessTTL
}

// IssueCode mints a one-time authorization code carrying the grant.
func (i *Issuer) IssueCode(grant oauth.AuthorizationGrant) (string, error) {
	claims := map[string]any{
		"sub":          grant.Subject,
		"identity":     identityClaim(grant.Identity),
		"client_id":    grant.ClientID,
		"redirect_uri": grant.RedirectURI,
		"scope":        grant.Scope,
		"jti":          uuid.NewString(),
	}
	return i.codes.Sign(claims, i.codeTTL)
}

// RedeemCode verifies a code and checks it against the client and redirect
// target registered at authorize time. Binding the code to the original
// redirect_uri prevents interception reuse against a different endpoint.
// Every failure collapses to ErrInvalidGrant.
func (i *Issuer) RedeemCode(ctx context.Context, code, clientID, redirectURI string) (oauth.AuthorizationGrant, error) {
	payload, err := i.codes.Verify(code)
	if err != nil {
		return oauth.AuthorizationGrant{}, oauth.ErrInvalidGrant
	}

	grant := oauth.AuthorizationGrant{
		Subject:     claimString(payload, "sub"),
		Identity:    identityFromClaim(payload["identity"]),
		ClientID:    claimString(payload, "client_id"),
		RedirectURI: claimString(payload, "redirect_uri"),
		Scope:       claimString(payload, "scope"),
		IssuedAt:    claimTime(payload, "iat"),
		ExpiresAt:   claimTime(payload, "exp"),
	}

	if grant.ClientID != clientID || grant.RedirectURI != redirectURI {
		return oauth.AuthorizationGrant{}, oauth.ErrInvalidGrant
	}

	if i.guard != nil {
		first, err := i.guard.Consume(ctx, claimString(payload, "jti"), time.Until(grant.ExpiresAt))
		if err != nil {
			return oauth.AuthorizationGrant{}, err
		}
		if !first {
			return oauth.AuthorizationGrant{}, oauth.ErrInvalidGrant
		}
	}

	return grant, nil
}

// IssueAccessToken mints a self-contained bearer token for the grant.
func (i *Issuer) IssueAccessToken(grant oauth.AccessGrant) (string, error) {
	claims := map[string]any{
		"sub":      grant.Subject,
		"identity": identityClaim(grant.Identity),
		"scope":    grant.Scope,
	}
	return i.codes.Sign(claims, i.accessTTL)
}

// ResolveAccessToken verifies a bearer token back into the grant it carries.
func (i *Issuer) ResolveAccessToken(token string) (oauth.AccessGrant, error) {
	payload, err := i.codes.Verify(token)
	if err != nil {
		return oauth.AccessGrant{}, oauth.ErrTokenInvalid
	}
	return oauth.AccessGrant{
		Subject:   claimString(payload, "sub"),
		Identity:  identityFromClaim(payload["identity"]),
		Scope:     claimString(payload, "scope"),
		IssuedAt:  claimTime(payload, "iat"),
		ExpiresAt: claimTime(payload, "exp"),
	}, nil
}

// IssueIDToken mints the OIDC ID token with the standard claim set. Signed
// RS256 with the published key so relying parties verify it independently.
func (i *Issuer) IssueIDToken(identity oauth.IdentityRecord, issuer, audience string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultIDTokenTTL
	}
	claims := map[string]any{
		"iss":     issuer,
		"sub":     identity.Subject,
		"aud":     audience,
		"name":    identity.Name,
		"picture": identity.AvatarURL,
	}
	return i.ids.Sign(claims, ttl)
}

func identityClaim(identity oauth.IdentityRecord) map[string]any {
	raw, err := json.Marshal(identity)
	if err != nil {
		return map[string]any{"sub": identity.Subject}
	}
	var claim map[string]any
	if err := json.Unmarshal(raw, &claim); err != nil {
		return map[string]any{"sub": identity.Subject}
	}
	return claim
}

func identityFromClaim(value any) oauth.IdentityRecord {
	raw, err := json.Marshal(value)
	if err != nil {
		return oauth.IdentityRecord{}
	}
	var identity oauth.IdentityRecord
	if err := json.Unmarshal(raw, &identity); err != nil {
		return oauth.IdentityRecord{}
	}
	return identity
}

func claimString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func claimTime(payload map[string]any, key string) time.Time {
	if v, ok := payload[key].(float64); ok {
		return time.Unix(int64(v), 0).UTC()
	}
	return time.Time{}
}
