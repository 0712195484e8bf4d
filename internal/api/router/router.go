package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/http/handlers"
	httpmiddleware "github.com/knowzek/gpt-lead-autoresponder-sub000/internal/http/middleware"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// CRMTokenHeader carries the shared secret on CRM push callbacks.
const CRMTokenHeader = "X-Webhook-Token"

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Webhooks           *handlers.WebhookHandler
	Leads              *handlers.LeadsHandler
	AdminAuthSecret    string
	CRMWebhookToken    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookRateBurst   int
	// Ready reports whether the lead store is reachable. Optional.
	Ready func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/ready", readyHandler(cfg.Ready))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Webhooks != nil {
		r.Route("/webhooks", func(hooks chi.Router) {
			if cfg.WebhookRateLimit > 0 {
				hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
			}
			hooks.Post("/telnyx", cfg.Webhooks.HandleTelnyx)
			hooks.Post("/twilio", cfg.Webhooks.HandleTwilio)
			hooks.Post("/sendgrid", cfg.Webhooks.HandleSendGrid)
			hooks.With(httpmiddleware.SharedToken(CRMTokenHeader, cfg.CRMWebhookToken)).Post("/crm", cfg.Webhooks.HandleCRM)
		})
	}

	if cfg.Leads != nil {
		r.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(middleware.Compress(5))
			admin.Post("/v1/leads", cfg.Leads.Enroll)
			admin.Get("/admin/leads/{key}", cfg.Leads.GetLead)
		})
	}

	return r
}

func readyHandler(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready == nil {
			writeStatus(w, http.StatusOK, "ok")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
}
