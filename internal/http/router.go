package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d2gex/ms1-auth-server/internal/config"
	"github.com/d2gex/ms1-auth-server/internal/http/handler"
	httpmiddleware "github.com/d2gex/ms1-auth-server/internal/http/middleware"
	"github.com/d2gex/ms1-auth-server/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, oauthHandler *handler.OAuthHandler, registryHandler *handler.RegistryHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	oauth := r.Group("/oauth")
	{
		oauth.GET("/authorize", oauthHandler.Authorize)
		oauth.GET("/consent", oauthHandler.Consent)
		oauth.POST("/approve", oauthHandler.Approve)
		oauth.POST("/token", oauthHandler.Token)
	}

	api := r.Group("/api")
	{
		api.POST("/registration", registryHandler.Register)
		api.POST("/verification", registryHandler.Verify)
	}

	r.GET("/.well-known/jwks.json", oauthHandler.JWKS)

	return r
}
