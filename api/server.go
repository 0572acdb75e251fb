/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the routes. This is
  the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address behind proxies
  3. Logger:     zap request log (method, path, status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the browser UI

ROUTE GROUPS:
  /healthz          Liveness + storage ping
  /metrics          Prometheus scrape endpoint (when enabled)
  /api/*            Inventory operations (see handlers.go)

SECURITY NOTE:
  No authentication middleware. Deploy behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/produce-ledger/metrics"
)

type RouterConfig struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics // nil disables /metrics
	MetricsPath    string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.SaveProduct)
			r.Get("/{id}", h.GetProduct)
			r.Get("/{id}/ledger", h.ProductLedger)
		})

		r.Post("/purchases", h.RecordPurchase)
		r.Post("/sales", h.RecordSale)
		r.Post("/productions", h.RecordProduction)

		r.Route("/trade-lines/{id}", func(r chi.Router) {
			r.Get("/", h.GetTradeLine)
			r.Patch("/", h.UpdateTradeLine)
			r.Delete("/", h.DeleteTradeLine)
			r.Post("/matches", h.MatchSale)
			r.Post("/auto-match", h.AutoMatchSale)
		})

		r.Delete("/matches/{id}", h.CancelMatch)

		r.Route("/lots", func(r chi.Router) {
			r.Get("/", h.ListLots)
			r.Put("/order", h.SetManualOrder)
		})

		r.Route("/aggregates", func(r chi.Router) {
			r.Get("/", h.ListAggregates)
			r.Post("/sync", h.HardSync)
			r.Put("/{id}/manual-price", h.SetManualPrice)
		})

		r.Get("/ledger", h.LedgerSince)

		r.Route("/audits", func(r chi.Router) {
			r.Post("/", h.StartAudit)
			r.Get("/{id}", h.GetAudit)
			r.Post("/{id}/finalize", h.FinalizeAudit)
			r.Post("/{id}/revert", h.RevertAudit)
			r.Post("/{id}/cancel", h.CancelAudit)
		})

		r.Route("/audit-items/{id}", func(r chi.Router) {
			r.Patch("/", h.UpdateAuditItem)
			r.Post("/sync", h.SyncAuditItem)
		})

		r.Get("/valuation", h.ValueAt)

		r.Route("/closings", func(r chi.Router) {
			r.Post("/", h.ClosePeriod)
			r.Delete("/latest", h.DeleteLastClosing)
			r.Get("/{date}", h.GetClosing)
		})
	})

	return r
}

// RequestLogger logs one line per request with zap.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			switch {
			case ww.Status() >= 500:
				log.Error("request", fields...)
			case ww.Status() >= 400:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}
