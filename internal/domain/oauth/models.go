package oauth

import "time"

// IdentityRecord is the normalized profile produced by the upstream QQ
// exchange. It is never persisted; it only travels embedded in codes and
// tokens.
type IdentityRecord struct {
	Subject   string         `json:"sub"`
	Name      string         `json:"name,omitempty"`
	AvatarURL string         `json:"picture,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// RelyingPartyRequest captures the OAuth parameters a relying party sends to
// /oauth/authorize. It round-trips opaquely through QQ's own state parameter.
// State belongs to the caller and is echoed back unmodified.
type RelyingPartyRequest struct {
	ClientID    string `json:"clientId"`
	RedirectURI string `json:"redirectUri"`
	Scope       string `json:"scope"`
	State       string `json:"state"`
}

// AuthorizationGrant binds a verified identity to the relying-party request
// that initiated it. Consumed once at the token endpoint.
type AuthorizationGrant struct {
	Subject     string
	Identity    IdentityRecord
	ClientID    string
	RedirectURI string
	Scope       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// AccessGrant backs a bearer access token. Read (not consumed) by userinfo
// lookups until expiry.
type AccessGrant struct {
	Subject   string
	Identity  IdentityRecord
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenResponse is the OAuth token endpoint success body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

// UserInfoResponse is the OIDC userinfo body.
type UserInfoResponse struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}
