package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	zlog "github.com/rs/zerolog/log"

	"waygate/internal/api"
	"waygate/internal/api/handlers"
	"waygate/internal/api/middleware"
	"waygate/internal/engine/sessions"
	"waygate/internal/engine/webhooks"
	"waygate/internal/pkg/logger"
	"waygate/internal/platform/audit"
	"waygate/internal/platform/auth"
	"waygate/internal/platform/config"
	"waygate/internal/platform/database"
	"waygate/internal/platform/repositories"
	"waygate/internal/platform/waclient"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	// Webhook store
	db, err := database.Open(cfg.Webhooks.StorePath)
	if err != nil {
		log.Fatalf("Failed to open webhook store: %v", err)
	}
	defer db.Close()

	webhookRepo := repositories.NewWebhookRepository(db)
	dispatcher := webhooks.NewDispatcher(webhookRepo, cfg.Webhooks.DeliveryTimeout)
	dispatcher.Trail = audit.NewRecorder(db)

	// Session engine
	probe := sessions.NewCredentialProbe(cfg.WhatsApp.CredentialRoot)
	factory := waclient.NewFactory(cfg.WhatsApp.ClientName)
	registry := sessions.NewRegistry(sessions.Config{
		Factory:     factory.New,
		Probe:       probe,
		Sink:        dispatcher,
		SettleDelay: cfg.WhatsApp.SettleDelay,
	})

	// Services
	tokenSvc := auth.NewTokenService(cfg.Auth)

	// Handlers
	sessionHandler := handlers.NewSessionHandler(registry, probe)
	messageHandler := handlers.NewMessageHandler(registry, cfg.WhatsApp.ReadyTimeout)
	webhookHandler := handlers.NewWebhookHandler(dispatcher)
	healthHandler := handlers.NewHealthHandler(registry, version)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth, tokenSvc)
	tenantMiddleware := middleware.NewTenantMiddleware()
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.MessagesPerMinute)

	// Router
	deps := &api.Dependencies{
		SessionHandler:   sessionHandler,
		MessageHandler:   messageHandler,
		WebhookHandler:   webhookHandler,
		HealthHandler:    healthHandler,
		AuthMiddleware:   authMiddleware,
		TenantMiddleware: tenantMiddleware,
		RateLimiter:      rateLimiter,
	}
	router := api.NewRouter(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		zlog.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	zlog.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("http server shutdown failed")
	}
	registry.DrainAll(shutdownCtx)
	zlog.Info().Msg("all sessions drained, exiting")
}
