package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"

	"github.com/your-username/tailhub/internal/monitoring"
	"github.com/your-username/tailhub/internal/websocket"
)

// Dependencies are the components the HTTP surface exposes.
type Dependencies struct {
	Store          RecordStore
	Pipeline       Submitter
	Hub            *websocket.Hub
	Health         *monitoring.HealthMonitor
	Metrics        *monitoring.Metrics
	AllowedOrigins []string
}

// NewRouter builds the chi router. REST responses are gzip-compressed; the
// WebSocket upgrade route is left uncompressed.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(compress)

			r.Post("/logs", IngestLogs(deps.Pipeline))
			r.Get("/logs", QueryLogs(deps.Store))
			r.Get("/analytics/summary", AnalyticsSummary(deps.Store))
			r.Get("/analytics/categories", CategoryBreakdown(deps.Store))

			if deps.Health != nil {
				r.Get("/health", deps.Health.HTTPHandler())
				r.Get("/health/live", deps.Health.LivenessHandler())
			}
		})

		if deps.Hub != nil {
			r.Get("/ws", websocket.HandleWebSocket(deps.Hub, deps.AllowedOrigins))
		}
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	return r
}

func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
