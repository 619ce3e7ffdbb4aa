package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"localinfer/internal/engine"
	"localinfer/internal/manager"
	"localinfer/pkg/types"
)

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		wantKind string
	}{
		{"model not found", manager.ErrModelNotFound("m-missing"), http.StatusNotFound, ""},
		{"dependency", manager.ErrDependencyUnavailable("no runtime"), http.StatusServiceUnavailable, ""},
		{"http error", mockHTTPError{"teapot", http.StatusTeapot}, http.StatusTeapot, ""},
		{"plain", errors.New("boom"), http.StatusInternalServerError, ""},
		{"invalid param", fmt.Errorf("wrapped: %w", &engine.Error{Kind: engine.KindInvalidParam, Op: "complete", Msg: "bad"}), http.StatusBadRequest, "invalid-param"},
		{"lora not found", &engine.Error{Kind: engine.KindLoRANotFound}, http.StatusNotFound, "lora-not-found"},
		{"multimodal", &engine.Error{Kind: engine.KindMultimodalNotSupported}, http.StatusUnprocessableEntity, "multimodal-not-supported"},
		{"grammar", &engine.Error{Kind: engine.KindGrammarInitFailed}, http.StatusUnprocessableEntity, "grammar-init-failed"},
		{"oom", &engine.Error{Kind: engine.KindOutOfMemory}, http.StatusInsufficientStorage, "out-of-memory"},
		{"unknown", &engine.Error{Kind: engine.KindUnknown, Err: context.Canceled}, http.StatusInternalServerError, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, NewMux(&mockService{err: tc.err}), http.MethodPost, "/complete", `{"prompt":"hi"}`)
			if w.Code != tc.status {
				t.Fatalf("status=%d, want %d", w.Code, tc.status)
			}
			var body types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("json: %v", err)
			}
			if body.Code != tc.status || body.Kind != tc.wantKind || body.Error == "" {
				t.Fatalf("body=%+v", body)
			}
		})
	}
}

func TestStreamErrorsBeforeFirstLineUseStatus(t *testing.T) {
	svc := &mockService{err: &engine.Error{Kind: engine.KindInvalidParam, Msg: "bad"}}
	w := do(t, NewMux(svc), http.MethodPost, "/complete", `{"prompt":"hi","stream":true}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%s", ct)
	}
}

func TestStreamErrorsAfterFirstLineKeep200(t *testing.T) {
	svc := &mockService{streamErr: errors.New("mid-stream")}
	w := do(t, NewMux(svc), http.MethodPost, "/complete", `{"prompt":"hi","stream":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if strings.Contains(w.Body.String(), `"code"`) {
		t.Fatalf("error payload appended to stream: %s", w.Body.String())
	}
}
