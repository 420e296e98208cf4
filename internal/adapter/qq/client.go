// Package qq talks to the QQ Connect OAuth endpoints and normalizes the
// result into an identity record. QQ's dialect differs from standard OAuth:
// the token exchange is a GET with query parameters, the openid comes from a
// separate endpoint unless need_openid=1 is honored, and userinfo errors are
// reported through a ret/msg pair instead of HTTP status codes.
package qq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/k99k5/oidc-convert/internal/domain/oauth"
)

const (
	defaultAuthorizeURL = "https://graph.qq.com/oauth2.0/authorize"
	defaultTokenURL     = "https://graph.qq.com/oauth2.0/token"
	defaultOpenIDURL    = "https://graph.qq.com/oauth2.0/me"
	defaultUserInfoURL  = "https://graph.qq.com/user/get_user_info"

	defaultScope = "get_user_info"
)

// Config carries the QQ Connect app registration. Endpoint fields default to
// the graph.qq.com URLs and exist for test overrides.
type Config struct {
	AppID       string
	AppKey      string
	RedirectURI string

	AuthorizeURL string
	TokenURL     string
	OpenIDURL    string
	UserInfoURL  string
}

// LoginResult is the outcome of a full code exchange: the normalized
// identity plus the upstream token material for the non-bridged fallback.
type LoginResult struct {
	Identity     oauth.IdentityRecord
	AccessToken  string
	ExpiresIn    int64
	RefreshToken string
}

// Client encapsulates outbound calls to QQ Connect.
type Client interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*LoginResult, error)
}

// HTTPClient is the default implementation.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the client, filling endpoint defaults.
func NewHTTPClient(cfg Config, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.OpenIDURL == "" {
		cfg.OpenIDURL = defaultOpenIDURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}
	return &HTTPClient{cfg: cfg, httpClient: client}
}

// AuthorizeURL builds the QQ authorize redirect target carrying the bridge
// state.
func (c *HTTPClient) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.cfg.AppID)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("state", state)
	params.Set("scope", defaultScope)
	return c.cfg.AuthorizeURL + "?" + params.Encode()
}

// Exchange swaps the QQ authorization code for an access token, resolves the
// openid, and loads the profile.
func (c *HTTPClient) Exchange(ctx context.Context, code string) (*LoginResult, error) {
	token, err := c.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	openID := token.OpenID
	if openID == "" {
		openID, err = c.fetchOpenID(ctx, token.AccessToken)
		if err != nil {
			return nil, err
		}
	}

	profile, err := c.fetchUserInfo(ctx, token.AccessToken, openID)
	if err != nil {
		return nil, err
	}

	avatar := stringValue(profile["figureurl_qq_2"])
	if avatar == "" {
		avatar = stringValue(profile["figureurl_qq_1"])
	}

	return &LoginResult{
		Identity: oauth.IdentityRecord{
			Subject:   openID,
			Name:      stringValue(profile["nickname"]),
			AvatarURL: avatar,
			Raw:       profile,
		},
		AccessToken:  token.AccessToken,
		ExpiresIn:    token.ExpiresIn,
		RefreshToken: token.RefreshToken,
	}, nil
}

type tokenResult struct {
	AccessToken  string
	ExpiresIn    int64
	RefreshToken string
	OpenID       string
}

func (c *HTTPClient) exchangeCode(ctx context.Context, code string) (*tokenResult, error) {
	params := url.Values{}
	params.Set("grant_type", "authorization_code")
	params.Set("client_id", c.cfg.AppID)
	params.Set("client_secret", c.cfg.AppKey)
	params.Set("code", code)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("fmt", "json")
	params.Set("need_openid", "1")

	raw, err := c.getJSON(ctx, c.cfg.TokenURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if upstreamErr := stringValue(raw["error"]); upstreamErr != "" {
		desc := stringValue(raw["error_description"])
		if desc == "" {
			desc = upstreamErr
		}
		return nil, fmt.Errorf("%w: token exchange: %s", oauth.ErrUpstreamFailure, desc)
	}

	token := &tokenResult{
		AccessToken:  stringValue(raw["access_token"]),
		ExpiresIn:    int64Value(raw["expires_in"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		OpenID:       stringValue(raw["openid"]),
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: token exchange returned no access_token", oauth.ErrUpstreamFailure)
	}
	return token, nil
}

func (c *HTTPClient) fetchOpenID(ctx context.Context, accessToken string) (string, error) {
	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("fmt", "json")

	raw, err := c.getJSON(ctx, c.cfg.OpenIDURL+"?"+params.Encode())
	if err != nil {
		return "", fmt.Errorf("fetch openid: %w", err)
	}
	if upstreamErr := stringValue(raw["error"]); upstreamErr != "" {
		return "", fmt.Errorf("%w: fetch openid: %s", oauth.ErrUpstreamFailure, upstreamErr)
	}

	openID := stringValue(raw["openid"])
	if openID == "" {
		return "", fmt.Errorf("%w: openid missing from response", oauth.ErrUpstreamFailure)
	}
	return openID, nil
}

func (c *HTTPClient) fetchUserInfo(ctx context.Context, accessToken, openID string) (map[string]any, error) {
	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("oauth_consumer_key", c.cfg.AppID)
	params.Set("openid", openID)
	params.Set("format", "json")

	raw, err := c.getJSON(ctx, c.cfg.UserInfoURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	if ret := int64Value(raw["ret"]); ret != 0 {
		return nil, fmt.Errorf("%w: userinfo ret=%d msg=%s", oauth.ErrUpstreamFailure, ret, stringValue(raw["msg"]))
	}
	return raw, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, target string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oauth.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", oauth.ErrUpstreamFailure, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", oauth.ErrUpstreamFailure, err)
	}
	return raw, nil
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
