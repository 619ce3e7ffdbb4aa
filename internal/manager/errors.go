package manager

import (
	"errors"
	"fmt"
	"net/http"
)

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error when a requested model id is not present in the registry.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

type adapterNotFoundError struct{ id string }

func (e adapterNotFoundError) Error() string { return "adapter not found: " + e.id }

// IsAdapterNotFound reports whether err names an adapter missing from the registry.
func IsAdapterNotFound(err error) bool {
	var e adapterNotFoundError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing runtime (e.g., a binary built
// without llama.cpp) so the HTTP layer can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// budgetExceededError is returned when a model cannot fit the VRAM budget
// even after evicting every idle instance.
type budgetExceededError struct {
	modelID              string
	requiredMB, budgetMB int
}

func (e budgetExceededError) Error() string {
	return fmt.Sprintf("vram budget exceeded loading %s: need %d MB, budget %d MB", e.modelID, e.requiredMB, e.budgetMB)
}

// IsBudgetExceeded reports whether err indicates the VRAM budget cannot fit a load.
func IsBudgetExceeded(err error) bool {
	var e budgetExceededError
	return errors.As(err, &e)
}

// requestError is a malformed API request caught before reaching the engine.
type requestError struct{ msg string }

func (e requestError) Error() string   { return e.msg }
func (e requestError) StatusCode() int { return http.StatusBadRequest }

// streamAbortedError is returned by Infer when generation failed after token
// lines were written. The stream already ends with an error line.
type streamAbortedError struct{ err error }

func (e streamAbortedError) Error() string { return "stream aborted: " + e.err.Error() }
func (e streamAbortedError) Unwrap() error { return e.err }

// IsStreamAborted reports whether err ended a stream that had already started.
func IsStreamAborted(err error) bool {
	var e streamAbortedError
	return errors.As(err, &e)
}
