package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/k99k5/oidc-convert/internal/config"
	"github.com/k99k5/oidc-convert/internal/domain/oauth"
	"github.com/k99k5/oidc-convert/internal/keys"
	"github.com/k99k5/oidc-convert/internal/service"
)

// BridgeHandler exposes the OIDC surface over gin.
type BridgeHandler struct {
	Bridge    *service.BridgeService
	Discovery *service.DiscoveryService
	Keys      *keys.Manager
	Cfg       config.Config
}

// NewBridgeHandler creates the handler set.
func NewBridgeHandler(bridge *service.BridgeService, discovery *service.DiscoveryService, manager *keys.Manager, cfg config.Config) *BridgeHandler {
	return &BridgeHandler{Bridge: bridge, Discovery: discovery, Keys: manager, Cfg: cfg}
}

// OpenIDConfig returns the OIDC discovery document.
func (h *BridgeHandler) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discovery.OpenIDConfigurationResponse(h.Cfg.BaseURL))
}

// JWKS exposes the public signing key.
func (h *BridgeHandler) JWKS(c *gin.Context) {
	jwks, err := h.Keys.JWKS()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Key material unavailable."})
		return
	}
	c.JSON(http.StatusOK, jwks)
}

// Authorize accepts a relying-party authorization request and forwards the
// user to QQ with the request packed into QQ's state parameter.
func (h *BridgeHandler) Authorize(c *gin.Context) {
	responseType := strings.TrimSpace(c.Query("response_type"))
	if responseType != "code" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_response_type", "error_description": "Only response_type=code is supported."})
		return
	}

	target, err := h.Bridge.Authorize(oauth.RelyingPartyRequest{
		ClientID:    c.Query("client_id"),
		RedirectURI: c.Query("redirect_uri"),
		Scope:       c.Query("scope"),
		State:       c.Query("state"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, target)
}

// QQAuthorize is the direct (non-bridged) login entry point: it forwards to
// QQ with a passthrough state.
func (h *BridgeHandler) QQAuthorize(c *gin.Context) {
	rawState := strings.TrimSpace(c.Query("state"))
	if rawState == "" {
		rawState = uuid.NewString()
	}
	c.Redirect(http.StatusFound, h.Bridge.DirectAuthorizeURL(rawState))
}

// QQCallback handles the inbound redirect from QQ. Bridged requests are
// redirected back to the relying party with a fresh authorization code;
// everything else gets the identity as a JSON body.
func (h *BridgeHandler) QQCallback(c *gin.Context) {
	result, err := h.Bridge.Callback(c.Request.Context(), c.Query("code"), c.Query("state"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	if result.RedirectURL != "" {
		c.Redirect(http.StatusFound, result.RedirectURL)
		return
	}
	c.JSON(http.StatusOK, result.Fallback)
}

type tokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	Code         string `form:"code" json:"code"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
}

// Token exchanges an authorization code for tokens. The body may be form
// encoded or JSON; client credentials may also arrive via HTTP basic auth.
func (h *BridgeHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}

	if req.ClientID == "" && req.ClientSecret == "" {
		if id, secret, ok := c.Request.BasicAuth(); ok {
			req.ClientID, req.ClientSecret = id, secret
		}
	}

	resp, err := h.Bridge.Token(c.Request.Context(), service.TokenRequest{
		GrantType:    req.GrantType,
		Code:         req.Code,
		RedirectURI:  req.RedirectURI,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// UserInfo returns the standard OIDC claims for a bearer access token.
func (h *BridgeHandler) UserInfo(c *gin.Context) {
	authz := c.GetHeader("Authorization")
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header missing or invalid."})
		return
	}

	info, err := h.Bridge.UserInfo(c.Request.Context(), strings.TrimSpace(parts[1]))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *BridgeHandler) respondError(c *gin.Context, err error) {
	logger := zap.L()

	var oauthErr *oauth.Error
	if errors.As(err, &oauthErr) {
		if oauthErr.Status == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", "Bearer")
		}
		logger.Warn("oauth protocol error", zap.String("code", oauthErr.Code), zap.Error(err))
		c.JSON(oauthErr.Status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
		return
	}

	if errors.Is(err, oauth.ErrUpstreamFailure) {
		logger.Error("upstream exchange failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
		return
	}

	logger.Error("bridge failure", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}
