package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"localinfer/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	ListAdapters() []types.Adapter
	Status() types.StatusResponse
	Ready() bool

	Complete(ctx context.Context, req types.CompleteRequest) (types.CompleteResponse, error)
	Infer(ctx context.Context, req types.CompleteRequest, w io.Writer, flush func()) error
	Tokenize(ctx context.Context, req types.TokenizeRequest) (types.TokenizeResponse, error)
	Detokenize(ctx context.Context, req types.DetokenizeRequest) (types.DetokenizeResponse, error)
	Embeddings(ctx context.Context, req types.EmbeddingsRequest) (types.EmbeddingsResponse, error)
	ModelInfo(ctx context.Context, modelID string) (types.ModelInfoResponse, error)

	Switch(ctx context.Context, modelID string) (string, error)
	Op(id string) (types.OpStatus, bool)
	Unload(modelID string) error

	LoadAdapter(ctx context.Context, modelID, adapterID string, scale *float32) (uint64, error)
	ApplyAdapter(ctx context.Context, modelID string, id uint64, scale float32) error
	RemoveAdapter(ctx context.Context, modelID string, id uint64) error
	UnloadAdapter(ctx context.Context, modelID string, id uint64) error
	ClearAdapters(ctx context.Context, modelID string) error

	CreateGrammar(ctx context.Context, modelID, text, root, schema string) (uint64, error)
	ResetGrammar(ctx context.Context, modelID string, id uint64) error
	FreeGrammar(ctx context.Context, modelID string, id uint64) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels(), Adapters: svc.ListAdapters()})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})
	r.Post("/models/{id}/load", h.load)
	r.Post("/models/{id}/unload", h.unload)
	r.Get("/models/{id}/info", h.info)
	r.Get("/ops/{id}", h.op)

	r.Post("/complete", h.complete)
	r.Post("/tokenize", h.tokenize)
	r.Post("/detokenize", h.detokenize)
	r.Post("/embeddings", h.embeddings)

	r.Post("/adapters", h.loadAdapter)
	r.Post("/adapters/clear", h.clearAdapters)
	r.Post("/adapters/{id}/apply", h.applyAdapter)
	r.Post("/adapters/{id}/remove", h.removeAdapter)
	r.Delete("/adapters/{id}", h.unloadAdapter)

	r.Post("/grammars", h.createGrammar)
	r.Post("/grammars/{id}/reset", h.resetGrammar)
	r.Delete("/grammars/{id}", h.freeGrammar)

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
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	if MountSwagger(r) && zlog != nil {
		zlog.Debug().Msg("swagger docs mounted at /swagger/")
	}
	return r
}
