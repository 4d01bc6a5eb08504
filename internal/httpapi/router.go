// Package httpapi exposes the ScenarioState over a JSON HTTP API.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/internal/observability"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/state"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	Logger         logging.Logger
	Metrics        *observability.GridCollector
}

// NewRouter builds the API handler over st.
func NewRouter(st *state.ScenarioState, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	h := &handler{state: st, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tree", h.tree)
		r.Get("/tree.dot", h.treeDOT)
		r.Get("/logs", h.logs)
		r.Post("/health-check", h.healthCheck)

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", h.attach)
			r.Get("/", h.listNodes)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/neighbors", h.neighbors)
				r.Delete("/", h.deleteNode)
				r.Post("/reroute", h.reroute)
				r.Put("/parent", h.forceParent)
				r.Put("/capacity", h.setCapacity)
				r.Post("/overload", h.overload)
				r.Put("/load", h.setLoad)
			})
		})
	})
	return r
}

// requestLogger attaches a per-request logger annotated with the chi
// request id, method and path.
func requestLogger(base logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := middleware.GetReqID(ctx); id != "" {
				ctx = logging.ContextWithRequestID(ctx, id)
			}
			ctx, reqLog := logging.WithRequestLogger(ctx, base.With(
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
			))
			ctx = logging.ContextWithLogger(ctx, reqLog)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
