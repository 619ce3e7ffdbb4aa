package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"localinfer/pkg/types"
)

// blockService blocks until the context is done; used to exercise the timeout path.
type blockService struct{ mockService }

func (b *blockService) Complete(ctx context.Context, req types.CompleteRequest) (types.CompleteResponse, error) {
	<-ctx.Done()
	return types.CompleteResponse{}, ctx.Err()
}

func TestCompleteLogsWithZerolog(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer func() { zlog = nil }()

	w := do(t, NewMux(&mockService{}), http.MethodPost, "/complete?log=info", `{"prompt":"hi","model":"m1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with info logging, got %d", w.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "complete start") || !strings.Contains(out, "complete end") || !strings.Contains(out, `"request_id"`) {
		t.Fatalf("log=%s", out)
	}
}

func TestStreamDebugLogsLines(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	defer func() { zlog = nil }()

	w := do(t, NewMux(&mockService{}), http.MethodPost, "/complete?log=debug", `{"prompt":"hi","stream":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with debug logging, got %d", w.Code)
	}
	if !strings.Contains(buf.String(), `\"token\":\"hi\"`) {
		t.Fatalf("stream lines not logged: %s", buf.String())
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)

	h := NewMux(&mockService{ready: true})
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS header Access-Control-Allow-Origin to be set, got empty")
	}
}

func TestCORSDisabledByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected CORS header %q", got)
	}
}

func TestRequestTimeoutReturns500(t *testing.T) {
	defer SetRequestTimeout(0)
	SetRequestTimeout(50 * time.Millisecond)

	start := time.Now()
	w := do(t, NewMux(&blockService{}), http.MethodPost, "/complete", `{"prompt":"x"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on timeout, got %d", w.Code)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not applied")
	}
}

func TestBaseContextCancelsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	defer SetBaseContext(nil)
	cancel()

	done := make(chan int, 1)
	go func() {
		w := do(t, NewMux(&blockService{}), http.MethodPost, "/complete", `{"prompt":"x"}`)
		done <- w.Code
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("request outlived the base context")
	}
}

var _ io.Writer = (*streamWriter)(nil)
