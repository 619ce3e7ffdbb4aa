package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"localinfer/pkg/types"
)

type handlers struct {
	svc Service
}

// decode reads a JSON body into v. It writes the error response itself and
// reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// oversize bodies also land here; the size limit is not echoed back
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// requestContext joins the server base context with the request context so
// shutdown cancels work too, and applies the configured timeout.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if requestTimeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, requestTimeout)
	return tctx, func() { tcancel(); cancel() }
}

func handleID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// modelParam reads the target model of a handle route from ?model=.
func modelParam(r *http.Request) string { return r.URL.Query().Get("model") }

// run executes a session call and writes v or the mapped error.
func run(w http.ResponseWriter, r *http.Request, status int, fn func(ctx context.Context) (any, error)) {
	ctx, cancel := requestContext(r)
	defer cancel()
	v, err := fn(ctx)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	if v == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, v)
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	var req types.CompleteRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.Media) == 0 {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	lvl := requestLogLevel(r)
	start := time.Now()
	logStart(r, lvl, "complete", req.Model)
	ctx, cancel := requestContext(r)
	defer cancel()

	if !req.Stream {
		resp, err := h.svc.Complete(ctx, req)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			code := writeError(w, err)
			logEnd(r, lvl, "complete", code, start, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logEnd(r, lvl, "complete", http.StatusOK, start, nil)
		return
	}

	// Stream NDJSON. Headers go out with the first line, so errors raised
	// before it can still use a status code.
	sw := &streamWriter{w: w}
	writer := io.Writer(sw)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(sw, &loggingLineWriter{rid: middleware.GetReqID(r.Context())})
	}
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	if err := h.svc.Infer(ctx, req, writer, flush); err != nil {
		switch {
		case r.Context().Err() != nil:
			if sw.started {
				countStreamAbort("client")
			}
			return
		case serverBaseCtx.Err() != nil:
			if sw.started {
				countStreamAbort("shutdown")
			}
			return
		case sw.started:
			countStreamAbort("error")
			logEnd(r, lvl, "complete", http.StatusOK, start, err)
			return
		}
		code := writeError(w, err)
		logEnd(r, lvl, "complete", code, start, err)
		return
	}
	logEnd(r, lvl, "complete", http.StatusOK, start, nil)
}

// streamWriter sets the NDJSON content type on the first write.
type streamWriter struct {
	w       http.ResponseWriter
	started bool
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if !s.started {
		s.started = true
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.WriteHeader(http.StatusOK)
	}
	return s.w.Write(p)
}

func (h *handlers) tokenize(w http.ResponseWriter, r *http.Request) {
	var req types.TokenizeRequest
	if !decode(w, r, &req) {
		return
	}
	run(w, r, http.StatusOK, func(ctx context.Context) (any, error) {
		return h.svc.Tokenize(ctx, req)
	})
}

func (h *handlers) detokenize(w http.ResponseWriter, r *http.Request) {
	var req types.DetokenizeRequest
	if !decode(w, r, &req) {
		return
	}
	run(w, r, http.StatusOK, func(ctx context.Context) (any, error) {
		return h.svc.Detokenize(ctx, req)
	})
}

func (h *handlers) embeddings(w http.ResponseWriter, r *http.Request) {
	var req types.EmbeddingsRequest
	if !decode(w, r, &req) {
		return
	}
	run(w, r, http.StatusOK, func(ctx context.Context) (any, error) {
		return h.svc.Embeddings(ctx, req)
	})
}

func (h *handlers) info(w http.ResponseWriter, r *http.Request) {
	run(w, r, http.StatusOK, func(ctx context.Context) (any, error) {
		return h.svc.ModelInfo(ctx, chi.URLParam(r, "id"))
	})
}

func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	op, err := h.svc.Switch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.OpResponse{OpID: op})
}

func (h *handlers) unload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unload(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) op(w http.ResponseWriter, r *http.Request) {
	st, ok := h.svc.Op(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) loadAdapter(w http.ResponseWriter, r *http.Request) {
	var req types.AdapterLoadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Adapter == "" {
		writeJSONError(w, http.StatusBadRequest, "adapter is required")
		return
	}
	run(w, r, http.StatusCreated, func(ctx context.Context) (any, error) {
		id, err := h.svc.LoadAdapter(ctx, req.Model, req.Adapter, req.Scale)
		if err != nil {
			return nil, err
		}
		return types.IDResponse{ID: id}, nil
	})
}

func (h *handlers) applyAdapter(w http.ResponseWriter, r *http.Request) {
	id, ok := handleID(w, r)
	if !ok {
		return
	}
	var req types.AdapterApplyRequest
	if !decode(w, r, &req) {
		return
	}
	run(w, r, http.StatusNoContent, func(ctx context.Context) (any, error) {
		return nil, h.svc.ApplyAdapter(ctx, req.Model, id, req.Scale)
	})
}

func (h *handlers) removeAdapter(w http.ResponseWriter, r *http.Request) {
	id, ok := handleID(w, r)
	if !ok {
		return
	}
	run(w, r, http.StatusNoContent, func(ctx context.Context) (any, error) {
		return nil, h.svc.RemoveAdapter(ctx, modelParam(r), id)
	})
}

func (h *handlers) unloadAdapter(w http.ResponseWriter, r *http.Request) {
	id, ok := handleID(w, r)
	if !ok {
		return
	}
	run(w, r, http.StatusNoContent, func(ctx context.Context) (any, error) {
		return nil, h.svc.UnloadAdapter(ctx, modelParam(r), id)
	})
}

func (h *handlers) clearAdapters(w http.ResponseWriter, r *http.Request) {
	run(w, r, http.StatusNoContent, func(ctx context.Context) (any, error) {
		return nil, h.svc.ClearAdapters(ctx, modelParam(r))
	})
}

func (h *handlers) createGrammar(w http.ResponseWriter, r *http.Request) {
	var req types.GrammarCreateRequest
	if !decode(w, r, &req) {
		return
	}
	run(w, r, http.StatusCreated, func(ctx context.Context) (any, error) {
		id, err := h.svc.CreateGrammar(ctx, req.Model, req.Grammar, req.Root, string(req.JSONSchema))
		if err != nil {
			return nil, err
		}
		return types.IDResponse{ID: id}, nil
	})
}

func (h *handlers) resetGrammar(w http.ResponseWriter, r *http.Request) {
	id, ok := handleID(w, r)
	if !ok {
		return
	}
	run(w, r, http.StatusNoContent, func(ctx context.Context) (any, error) {
		return nil, h.svc.ResetGrammar(ctx, modelParam(r), id)
	})
}

func (h *handlers) freeGrammar(w http.ResponseWriter, r *http.Request) {
	id, ok := handleID(w, r)
	if !ok {
		return
	}
	run(w, r, http.StatusNoContent, func(ctx context.Context) (any, error) {
		return nil, h.svc.FreeGrammar(ctx, modelParam(r), id)
	})
}
