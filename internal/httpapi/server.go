package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sessiond/internal/relay"
	"sessiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *manager.Manager implements it.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	Create(ctx context.Context, opts *types.CreateOptions) error
	Destroy(ctx context.Context) error
	Prompt(ctx context.Context, input string, opts *types.PromptOptions) (string, error)
	PromptStreaming(ctx context.Context, input string, opts *types.PromptOptions) (*relay.Stream, error)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}

	r.Route("/v1/session", func(r chi.Router) {
		// The WebSocket upgrade needs the raw ResponseWriter, so compression
		// only wraps the plain JSON routes.
		r.Get("/stream", h.streamWS)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))
			r.Post("/", h.create)
			r.Delete("/", h.destroy)
			r.Post("/prompt", h.prompt)
		})
		r.Post("/prompt/stream", h.promptStream)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Get("/models", h.models)
		r.Get("/status", h.status)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no session"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}
