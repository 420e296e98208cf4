package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/k99k5/oidc-convert/internal/adapter/qq"
	"github.com/k99k5/oidc-convert/internal/config"
	"github.com/k99k5/oidc-convert/internal/domain/oauth"
	"github.com/k99k5/oidc-convert/internal/state"
	"github.com/k99k5/oidc-convert/internal/token"
)

// BridgeService orchestrates the QQ-to-OIDC flows: authorize, callback,
// token, and userinfo.
type BridgeService struct {
	upstream qq.Client
	issuer   *token.Issuer
	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewBridgeService wires dependencies.
func NewBridgeService(upstream qq.Client, issuer *token.Issuer, cfg config.Config, logger *zap.Logger) *BridgeService {
	if logger == nil {
		logger = zap.L()
	}
	return &BridgeService{
		upstream: upstream,
		issuer:   issuer,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/k99k5/oidc-convert"),
	}
}

// TokenRequest carries the token endpoint parameters, accepted as form or
// JSON body.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
}

// CallbackResult is either a redirect back to the relying party (bridged
// flow) or a direct identity payload (non-bridged fallback).
type CallbackResult struct {
	RedirectURL string
	Fallback    *FallbackResponse
}

// FallbackResponse mirrors the direct-login response used when the state
// does not decode into a relying-party request. It exists for direct testing
// and is not a registered OIDC flow.
type FallbackResponse struct {
	Success bool                 `json:"success"`
	State   string               `json:"state,omitempty"`
	User    oauth.IdentityRecord `json:"user"`
	Token   FallbackToken        `json:"token"`
}

// FallbackToken exposes the upstream QQ token material.
type FallbackToken struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Authorize validates the relying-party request and returns the QQ authorize
// URL with the request packed into QQ's state parameter.
func (s *BridgeService) Authorize(req oauth.RelyingPartyRequest) (string, error) {
	if strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.RedirectURI) == "" || strings.TrimSpace(req.State) == "" {
		return "", oauth.NewError("invalid_request", "client_id, redirect_uri, and state are required.", http.StatusBadRequest)
	}
	if req.Scope == "" {
		req.Scope = "openid profile"
	}

	encoded, err := state.Encode(req)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return s.upstream.AuthorizeURL(encoded), nil
}

// DirectAuthorizeURL returns the QQ authorize URL with a passthrough state,
// for the direct (non-bridged) login entry point.
func (s *BridgeService) DirectAuthorizeURL(rawState string) string {
	return s.upstream.AuthorizeURL(rawState)
}

// Callback exchanges the QQ code for an identity and routes the result. When
// the state decodes into a relying-party request an authorization code is
// issued and the user is sent back to the relying party; otherwise the
// identity is returned directly. State-decoding failures are deliberately
// non-fatal.
func (s *BridgeService) Callback(ctx context.Context, code, rawState string) (*CallbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "bridge.Callback")
	defer span.End()

	if strings.TrimSpace(code) == "" {
		return nil, oauth.NewError("invalid_request", "code is required.", http.StatusBadRequest)
	}

	login, err := s.upstream.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	rp := state.Decode(rawState)
	if rp == nil || strings.TrimSpace(rp.RedirectURI) == "" {
		return &CallbackResult{Fallback: &FallbackResponse{
			Success: true,
			State:   rawState,
			User:    login.Identity,
			Token: FallbackToken{
				AccessToken:  login.AccessToken,
				ExpiresIn:    login.ExpiresIn,
				RefreshToken: login.RefreshToken,
			},
		}}, nil
	}

	authCode, err := s.issuer.IssueCode(oauth.AuthorizationGrant{
		Subject:     login.Identity.Subject,
		Identity:    login.Identity,
		ClientID:    rp.ClientID,
		RedirectURI: rp.RedirectURI,
		Scope:       rp.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("issue authorization code: %w", err)
	}

	redirect, err := url.Parse(rp.RedirectURI)
	if err != nil {
		return nil, oauth.NewError("invalid_request", "redirect_uri is not a valid URL.", http.StatusBadRequest)
	}
	q := redirect.Query()
	q.Set("code", authCode)
	q.Set("state", rp.State)
	redirect.RawQuery = q.Encode()

	s.logger.Info("authorization code issued",
		zap.String("sub", login.Identity.Subject),
		zap.String("client_id", rp.ClientID))

	return &CallbackResult{RedirectURL: redirect.String()}, nil
}

// Token redeems an authorization code for an access token and ID token.
func (s *BridgeService) Token(ctx context.Context, in TokenRequest) (*oauth.TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "bridge.Token")
	defer span.End()

	if !strings.EqualFold(in.GrantType, "authorization_code") {
		return nil, oauth.NewError("unsupported_grant_type", "Only authorization_code is supported.", http.StatusBadRequest)
	}
	if !s.validClient(in.ClientID, in.ClientSecret) {
		return nil, oauth.NewError("invalid_client", "Client authentication failed.", http.StatusUnauthorized)
	}

	grant, err := s.issuer.RedeemCode(ctx, in.Code, in.ClientID, in.RedirectURI)
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidGrant) {
			return nil, oauth.NewError("invalid_grant", "Authorization code is invalid or expired.", http.StatusBadRequest)
		}
		return nil, fmt.Errorf("redeem code: %w", err)
	}

	accessToken, err := s.issuer.IssueAccessToken(oauth.AccessGrant{
		Subject:  grant.Subject,
		Identity: grant.Identity,
		Scope:    grant.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	idToken, err := s.issuer.IssueIDToken(grant.Identity, s.cfg.BaseURL, in.ClientID, s.cfg.IDTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue id token: %w", err)
	}

	s.logger.Info("token issued", zap.String("sub", grant.Subject), zap.String("client_id", in.ClientID))

	return &oauth.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.issuer.AccessTokenTTL().Seconds()),
		IDToken:     idToken,
	}, nil
}

// UserInfo resolves a bearer access token into the standard claim subset.
func (s *BridgeService) UserInfo(ctx context.Context, bearer string) (*oauth.UserInfoResponse, error) {
	_, span := s.tracer.Start(ctx, "bridge.UserInfo")
	defer span.End()

	grant, err := s.issuer.ResolveAccessToken(bearer)
	if err != nil {
		return nil, oauth.NewError("invalid_token", "Token is invalid or expired.", http.StatusUnauthorized)
	}

	return &oauth.UserInfoResponse{
		Subject: grant.Subject,
		Name:    grant.Identity.Name,
		Picture: grant.Identity.AvatarURL,
	}, nil
}

func (s *BridgeService) validClient(clientID, clientSecret string) bool {
	idOK := subtle.ConstantTimeCompare([]byte(clientID), []byte(s.cfg.ClientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(clientSecret), []byte(s.cfg.ClientSecret)) == 1
	return idOK && secretOK
}
