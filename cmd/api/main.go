package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/cmd/mainconfig"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/api/router"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/app/bootstrap"
	appconfig "github.com/knowzek/gpt-lead-autoresponder-sub000/internal/config"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/http/handlers"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting lead engine API",
		"env", cfg.Env,
		"port", cfg.Port,
		"offline", cfg.OfflineMode,
		"dry_run", cfg.DryRun,
	)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	rt, err := bootstrap.NewRuntime(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to initialise runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	svc, err := bootstrap.BuildEngine(ctx, rt)
	if err != nil {
		logger.Error("failed to build lead engine", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           buildHandler(rt, svc),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}

func buildHandler(rt *bootstrap.Runtime, svc *bootstrap.Services) http.Handler {
	cfg, logger := rt.Config, rt.Logger

	webhookCfg := handlers.WebhookConfig{
		Engine:          svc.Machine,
		Deduper:         rt.Deduper,
		TwilioAuthToken: cfg.TwilioAuthToken,
		PublicBaseURL:   cfg.PublicBaseURL,
		AllowUnsigned:   cfg.OfflineMode,
		Metrics:         rt.WebhookMetrics,
		Logger:          logger,
	}
	if svc.Telnyx != nil && cfg.TelnyxWebhookSecret != "" {
		webhookCfg.Telnyx = svc.Telnyx
	}

	return router.New(&router.Config{
		Logger:             logger,
		Webhooks:           handlers.NewWebhookHandler(webhookCfg),
		Leads:              handlers.NewLeadsHandler(svc.Machine, rt.Store, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CRMWebhookToken:    cfg.CRMWebhookToken,
		MetricsHandler:     rt.MetricsHandler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   cfg.WebhookRateLimit,
		WebhookRateBurst:   cfg.WebhookRateBurst,
		Ready:              rt.Ready,
	})
}
