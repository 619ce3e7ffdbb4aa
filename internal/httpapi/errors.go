package httpapi

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"localinfer/internal/engine"
	"localinfer/internal/manager"
	"localinfer/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

var engineStatus = map[engine.Kind]int{
	engine.KindUnknown:                http.StatusInternalServerError,
	engine.KindInvalidParam:           http.StatusBadRequest,
	engine.KindModelLoadFailed:        http.StatusUnprocessableEntity,
	engine.KindOutOfMemory:            http.StatusInsufficientStorage,
	engine.KindMultimodalNotSupported: http.StatusUnprocessableEntity,
	engine.KindLoRALoadFailed:         http.StatusUnprocessableEntity,
	engine.KindLoRANotFound:           http.StatusNotFound,
	engine.KindGrammarInitFailed:      http.StatusUnprocessableEntity,
}

// statusFor maps an error from the service onto an HTTP status and, for
// engine failures, the engine error kind.
func statusFor(err error) (int, string) {
	var ee *engine.Error
	if errors.As(err, &ee) {
		code, ok := engineStatus[ee.Kind]
		if !ok {
			code = http.StatusInternalServerError
		}
		return code, ee.Kind.String()
	}
	switch {
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests, ""
	case manager.IsModelNotFound(err), manager.IsAdapterNotFound(err):
		return http.StatusNotFound, ""
	case manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable, ""
	case manager.IsBudgetExceeded(err):
		return http.StatusInsufficientStorage, ""
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), ""
	}
	return http.StatusInternalServerError, ""
}

// writeError maps err and writes it as a JSON error payload.
func writeError(w http.ResponseWriter, err error) int {
	code, kind := statusFor(err)
	if code == http.StatusTooManyRequests {
		IncrementBackpressure("queue")
	}
	writeJSONErrorKind(w, code, err.Error(), kind)
	return code
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSONErrorKind(w, status, msg, "")
}

func writeJSONErrorKind(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}
