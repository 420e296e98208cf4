package handler_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/k99k5/oidc-convert/internal/adapter/qq"
	"github.com/k99k5/oidc-convert/internal/config"
	"github.com/k99k5/oidc-convert/internal/domain/oauth"
	httptransport "github.com/k99k5/oidc-convert/internal/http"
	"github.com/k99k5/oidc-convert/internal/http/handler"
	"github.com/k99k5/oidc-convert/internal/keys"
	"github.com/k99k5/oidc-convert/internal/service"
	"github.com/k99k5/oidc-convert/internal/state"
	"github.com/k99k5/oidc-convert/internal/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubUpstream struct {
	result *qq.LoginResult
	err    error
}

func (s *stubUpstream) AuthorizeURL(stateParam string) string {
	return "https://graph.qq.com/oauth2.0/authorize?state=" + url.QueryEscape(stateParam)
}

func (s *stubUpstream) Exchange(context.Context, string) (*qq.LoginResult, error) {
	return s.result, s.err
}

type testEnv struct {
	router  *gin.Engine
	manager *keys.Manager
}

func newTestEnv(upstream qq.Client) *testEnv {
	cfg := config.Config{
		ServiceName:    "oidc-convert",
		BaseURL:        "https://bridge.example",
		ClientID:       "qq-connector",
		ClientSecret:   "rp-secret",
		AccessTokenTTL: time.Hour,
		IDTokenTTL:     time.Hour,
	}

	manager := keys.NewManager()
	issuer := token.NewIssuer(
		token.NewHMACSigner([]byte("handler-test-secret-0123456789abcdef")),
		token.NewRSASigner(manager),
		nil,
		cfg.AuthCodeTTL,
		cfg.AccessTokenTTL,
	)
	bridge := service.NewBridgeService(upstream, issuer, cfg, zap.NewNop())
	h := handler.NewBridgeHandler(bridge, &service.DiscoveryService{}, manager, cfg)

	return &testEnv{
		router:  httptransport.NewRouter(cfg, h, nil),
		manager: manager,
	}
}

func (e *testEnv) do(method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func aliceResult() *qq.LoginResult {
	return &qq.LoginResult{
		Identity: oauth.IdentityRecord{
			Subject:   "U123",
			Name:      "Alice",
			AvatarURL: "https://qzapp.qlogo.cn/avatar/100",
		},
		AccessToken: "upstream-at",
		ExpiresIn:   3600,
	}
}

// obtainCode drives the QQ callback with a well-formed bridge state and
// returns the authorization code from the redirect back to the relying party.
func obtainCode(t *testing.T, env *testEnv) string {
	t.Helper()
	encoded, err := state.Encode(oauth.RelyingPartyRequest{
		ClientID:    "qq-connector",
		RedirectURI: "https://rp.example/callback",
		Scope:       "openid profile",
		State:       "caller-state",
	})
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/qq/callback?code=qq-code&state="+url.QueryEscape(encoded), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "caller-state", location.Query().Get("state"))

	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestDiscoveryDocument(t *testing.T) {
	env := newTestEnv(&stubUpstream{})

	rec := env.do(http.MethodGet, "/.well-known/openid-configuration", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	require.Equal(t, "https://bridge.example", doc["issuer"])
	require.Equal(t, "https://bridge.example/oauth/authorize", doc["authorization_endpoint"])
	require.Equal(t, "https://bridge.example/oauth/token", doc["token_endpoint"])
	require.Equal(t, "https://bridge.example/oauth/userinfo", doc["userinfo_endpoint"])
	require.Equal(t, "https://bridge.example/.well-known/jwks.json", doc["jwks_uri"])
	require.Equal(t, []any{"code"}, doc["response_types_supported"])
	require.Equal(t, []any{"RS256"}, doc["id_token_signing_alg_values_supported"])
}

func TestJWKSPublishesSigningKey(t *testing.T) {
	env := newTestEnv(&stubUpstream{})

	rec := env.do(http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var jwks struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			Use string `json:"use"`
			Alg string `json:"alg"`
			N   string `json:"n"`
		} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "RSA", jwks.Keys[0].Kty)
	require.Equal(t, "sig", jwks.Keys[0].Use)
	require.Equal(t, "RS256", jwks.Keys[0].Alg)
	require.Len(t, jwks.Keys[0].Kid, 8)
	require.NotEmpty(t, jwks.Keys[0].N)
}

func TestAuthorizeRedirectsToQQ(t *testing.T) {
	env := newTestEnv(&stubUpstream{})

	rec := env.do(http.MethodGet, "/oauth/authorize?response_type=code&client_id=qq-connector&redirect_uri=https%3A%2F%2Frp.example%2Fcallback&scope=openid&state=xyz", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "graph.qq.com", location.Host)

	decoded := state.Decode(location.Query().Get("state"))
	require.NotNil(t, decoded)
	require.Equal(t, "xyz", decoded.State)
}

func TestAuthorizeRejectsBadRequests(t *testing.T) {
	env := newTestEnv(&stubUpstream{})

	rec := env.do(http.MethodGet, "/oauth/authorize?response_type=token&client_id=c&redirect_uri=https%3A%2F%2Frp.example&state=s", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "unsupported_response_type", decodeBody(t, rec)["error"])

	rec = env.do(http.MethodGet, "/oauth/authorize?response_type=code&client_id=c", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
}

func TestCallbackFallbackBody(t *testing.T) {
	env := newTestEnv(&stubUpstream{result: aliceResult()})

	rec := env.do(http.MethodGet, "/api/qq/callback?code=qq-code&state=opaque", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "opaque", body["state"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "U123", user["sub"])
}

func TestTokenEndpointIssuesIDTokenWithJWKSKid(t *testing.T) {
	env := newTestEnv(&stubUpstream{result: aliceResult()})
	code := obtainCode(t, env)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://rp.example/callback"},
		"client_id":     {"qq-connector"},
		"client_secret": {"rp-secret"},
	}
	rec := env.do(http.MethodPost, "/oauth/token", form.Encode(), http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "Bearer", body["token_type"])
	require.Equal(t, float64(3600), body["expires_in"])
	require.NotEmpty(t, body["access_token"])

	idToken, _ := body["id_token"].(string)
	segments := strings.Split(idToken, ".")
	require.Len(t, segments, 3)

	headerJSON, err := base64.RawURLEncoding.DecodeString(segments[0])
	require.NoError(t, err)
	var header map[string]any
	require.NoError(t, json.Unmarshal(headerJSON, &header))
	require.Equal(t, "RS256", header["alg"])
	require.Equal(t, env.manager.KeyID(), header["kid"])
}

func TestTokenEndpointAcceptsBasicAuth(t *testing.T) {
	env := newTestEnv(&stubUpstream{result: aliceResult()})
	code := obtainCode(t, env)

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://rp.example/callback"},
	}
	creds := base64.StdEncoding.EncodeToString([]byte("qq-connector:rp-secret"))
	rec := env.do(http.MethodPost, "/oauth/token", form.Encode(), http.Header{
		"Content-Type":  {"application/x-www-form-urlencoded"},
		"Authorization": {"Basic " + creds},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeBody(t, rec)["access_token"])
}

func TestTokenEndpointRejectsBadClient(t *testing.T) {
	env := newTestEnv(&stubUpstream{result: aliceResult()})
	code := obtainCode(t, env)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://rp.example/callback"},
		"client_id":     {"qq-connector"},
		"client_secret": {"wrong"},
	}
	rec := env.do(http.MethodPost, "/oauth/token", form.Encode(), http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_client", decodeBody(t, rec)["error"])
	require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestTokenEndpointRejectsBadGrant(t *testing.T) {
	env := newTestEnv(&stubUpstream{result: aliceResult()})

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"garbage"},
		"redirect_uri":  {"https://rp.example/callback"},
		"client_id":     {"qq-connector"},
		"client_secret": {"rp-secret"},
	}
	rec := env.do(http.MethodPost, "/oauth/token", form.Encode(), http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_grant", decodeBody(t, rec)["error"])
}

func TestUserInfoReturnsClaimSubset(t *testing.T) {
	env := newTestEnv(&stubUpstream{result: aliceResult()})
	code := obtainCode(t, env)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://rp.example/callback"},
		"client_id":     {"qq-connector"},
		"client_secret": {"rp-secret"},
	}
	rec := env.do(http.MethodPost, "/oauth/token", form.Encode(), http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	accessToken, _ := decodeBody(t, rec)["access_token"].(string)

	rec = env.do(http.MethodGet, "/oauth/userinfo", "", http.Header{
		"Authorization": {"Bearer " + accessToken},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, map[string]any{
		"sub":     "U123",
		"name":    "Alice",
		"picture": "https://qzapp.qlogo.cn/avatar/100",
	}, body)
}

func TestUserInfoRejectsMissingOrBadBearer(t *testing.T) {
	env := newTestEnv(&stubUpstream{})

	rec := env.do(http.MethodGet, "/oauth/userinfo", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_token", decodeBody(t, rec)["error"])
	require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = env.do(http.MethodGet, "/oauth/userinfo", "", http.Header{
		"Authorization": {"Bearer not-a-real-token"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_token", decodeBody(t, rec)["error"])
}

func TestQQAuthorizeRedirectsWithGeneratedState(t *testing.T) {
	env := newTestEnv(&stubUpstream{})

	rec := env.do(http.MethodGet, "/api/qq/authorize", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "graph.qq.com", location.Host)
	require.NotEmpty(t, location.Query().Get("state"))
}
