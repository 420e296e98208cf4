package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/k99k5/oidc-convert/internal/config"
	"github.com/k99k5/oidc-convert/internal/http/handler"
	"github.com/k99k5/oidc-convert/internal/http/middleware"
)

// NewRouter wires gin routes and middleware.
func NewRouter(cfg config.Config, bridgeHandler *handler.BridgeHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/.well-known/openid-configuration", bridgeHandler.OpenIDConfig)
	r.GET("/.well-known/jwks.json", bridgeHandler.JWKS)

	oauth := r.Group("/oauth")
	{
		oauth.GET("/authorize", bridgeHandler.Authorize)
		oauth.POST("/token", bridgeHandler.Token)
		oauth.GET("/userinfo", bridgeHandler.UserInfo)
	}

	// Direct QQ entry points; /api/qq/callback is also the registered
	// redirect target for the bridged flow.
	api := r.Group("/api/qq")
	{
		api.GET("/authorize", bridgeHandler.QQAuthorize)
		api.GET("/callback", bridgeHandler.QQCallback)
	}

	return r
}
