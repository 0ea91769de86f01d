package api

import (
	"net/http"

	"budgeteer-server/src/handlers"
	"budgeteer-server/src/middleware"
	"budgeteer-server/src/observability"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Deps struct {
	Store    handlers.ItemStore
	Provider handlers.LinkProvider
	Syncer   handlers.Syncer
	Webhooks http.Handler
	Metrics  *observability.Metrics
	Logger   *zap.Logger

	JWTSecret      string
	AllowedOrigins []string
	DemoMode       bool
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(middleware.CORSMiddleware(d.AllowedOrigins))
	r.Use(middleware.DemoModeMiddleware(d.DemoMode))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/plaid/webhook", d.Webhooks)

		// Protected routes
		r.With(middleware.JWTAuthMiddleware(d.JWTSecret)).Group(func(r chi.Router) {
			r.Post("/plaid/create-link-token", handlers.CreateLinkToken(d.Provider, d.Logger))
			r.Post("/plaid/exchange-token", handlers.ExchangePublicToken(d.Provider, d.Store, d.Logger))
			r.Get("/plaid/accounts", handlers.GetLinkedAccounts(d.Store, d.Logger))
			r.Delete("/plaid/accounts/{itemId}", handlers.UnlinkItem(d.Provider, d.Store, d.Logger))
			r.Post("/plaid/sync", handlers.SyncTransactions(d.Store, d.Syncer, d.Logger))
			r.Post("/plaid/sync/{itemId}", handlers.SyncTransactions(d.Store, d.Syncer, d.Logger))
			r.Get("/plaid/sync/{itemId}/status", handlers.GetSyncStatus(d.Store, d.Logger))
		})
	})

	return r
}
