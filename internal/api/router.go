package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Fantasim/payflow/internal/api/handlers"
	"github.com/Fantasim/payflow/internal/api/middleware"
	"github.com/Fantasim/payflow/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Deps are the services behind the HTTP surface.
type Deps struct {
	Config      *config.Config
	Purchases   handlers.Purchases
	Withdrawals handlers.Withdrawals
	Events      handlers.EventSource
	Journal     handlers.EventJournal
	Settings    handlers.SettingsStore
}

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogging)
	r.Use(middleware.CORS(deps.Config.AllowedOrigins))

	slog.Info("router initialized",
		"middleware", []string{"requestLogging", "cors"},
		"allowedOrigins", deps.Config.AllowedOrigins,
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(deps.Config, Version))

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", handlers.StartPurchase(deps.Purchases))
			r.Get("/{owner}", handlers.GetPurchase(deps.Purchases))
			r.Post("/{owner}/signal", handlers.SignalPurchase(deps.Purchases))
		})

		r.Route("/withdrawals", func(r chi.Router) {
			r.Post("/", handlers.CreateWithdrawal(deps.Withdrawals))
			r.Post("/{id}/resume", handlers.ResumeWithdrawal(deps.Withdrawals))
		})

		r.Get("/events", handlers.EventsSSE(deps.Events))
		r.Get("/events/{owner}", handlers.ListEvents(deps.Journal))

		r.Group(func(r chi.Router) {
			r.Use(middleware.LocalOnly)
			r.Get("/settings", handlers.GetSettings(deps.Settings, deps.Config))
			r.Put("/settings", handlers.UpdateSettings(deps.Settings))
			r.Post("/settings/reset", handlers.ResetSettings(deps.Settings))
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
