package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "waygate/internal/api/context"
	"waygate/internal/api/handlers"
	"waygate/internal/api/middleware"
)

type Dependencies struct {
	SessionHandler   *handlers.SessionHandler
	MessageHandler   *handlers.MessageHandler
	WebhookHandler   *handlers.WebhookHandler
	HealthHandler    *handlers.HealthHandler
	AuthMiddleware   *middleware.AuthMiddleware
	TenantMiddleware *middleware.TenantMiddleware
	RateLimiter      *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	// Public health probe
	router.GET("/health", chain(deps.HealthHandler.Handle, middleware.RequestLogging))

	// Middleware references
	authMid := deps.AuthMiddleware
	tenantMid := deps.TenantMiddleware

	// Session lifecycle
	router.GET("/api/v1/sessions",
		chain(deps.SessionHandler.List, middleware.RequestLogging, authMid.Handle))
	router.POST("/api/v1/sessions/:tenant_id",
		chain(deps.SessionHandler.Create, middleware.RequestLogging, authMid.Handle, tenantMid.Handle))
	router.GET("/api/v1/sessions/:tenant_id",
		chain(deps.SessionHandler.Get, middleware.RequestLogging, authMid.Handle, tenantMid.Handle))
	router.PUT("/api/v1/sessions/:tenant_id",
		chain(deps.SessionHandler.Replace, middleware.RequestLogging, authMid.Handle, tenantMid.Handle))
	router.DELETE("/api/v1/sessions/:tenant_id",
		chain(deps.SessionHandler.Delete, middleware.RequestLogging, authMid.Handle, tenantMid.Handle))

	// Pairing
	router.GET("/api/v1/sessions/:tenant_id/qr",
		chain(deps.SessionHandler.GetQR, middleware.RequestLogging, authMid.Handle, tenantMid.Handle))
	router.GET("/api/v1/sessions/:tenant_id/qr.png",
		chain(deps.SessionHandler.GetQRImage, middleware.RequestLogging, authMid.Handle, tenantMid.Handle))

	// Messaging
	router.POST("/api/v1/sessions/:tenant_id/messages",
		chain(deps.MessageHandler.Send, middleware.RequestLogging, authMid.Handle, tenantMid.Handle, deps.RateLimiter.Handle))

	// Webhook subscriptions
	router.POST("/api/v1/sessions/:tenant_id/webhooks",
		chain(deps.WebhookHandler.Create, middleware.RequestLogging, authMid.Handle, tenantMid.Handle))
	router.GET("/api/v1/sessions/:tenant_id/webhooks",
		chain(deps.WebhookHandler.List, middleware.RequestLogging, authMid.Handle, tenantMid.Handle))
	router.DELETE("/api/v1/sessions/:tenant_id/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Delete, middleware.RequestLogging, authMid.Handle, tenantMid.Handle))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
