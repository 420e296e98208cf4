package service

import "fmt"

// DiscoveryService builds responses for the well-known endpoints.
type DiscoveryService struct{}

// OpenIDConfiguration matches the OIDC discovery document.
type OpenIDConfiguration struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// OpenIDConfigurationResponse builds the static discovery metadata for the
// configured base URL.
func (s *DiscoveryService) OpenIDConfigurationResponse(baseURL string) OpenIDConfiguration {
	return OpenIDConfiguration{
		Issuer:                           baseURL,
		AuthorizationEndpoint:            fmt.Sprintf("%s/oauth/authorize", baseURL),
		TokenEndpoint:                    fmt.Sprintf("%s/oauth/token", baseURL),
		UserinfoEndpoint:                 fmt.Sprintf("%s/oauth/userinfo", baseURL),
		JWKSURI:                          fmt.Sprintf("%s/.well-known/jwks.json", baseURL),
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  []string{"openid", "profile"},
		TokenEndpointAuthMethods:         []string{"client_secret_post", "client_secret_basic"},
		ClaimsSupported:                  []string{"sub", "name", "picture"},
	}
}
