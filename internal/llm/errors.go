package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable is returned when the binary was built without a runtime.
	ErrBackendUnavailable = errors.New("llm: runtime not built (missing 'llama' build tag)")
	// ErrOutOfMemory is returned when the runtime cannot allocate a model, context or buffer.
	ErrOutOfMemory = errors.New("llm: out of memory")
	// ErrUnsupported is returned for operations the loaded model or encoder cannot perform.
	ErrUnsupported = errors.New("llm: unsupported")
)

// DecodeError carries a non-zero runtime decode status.
type DecodeError struct {
	Status int32
}

func (e DecodeError) Error() string {
	switch e.Status {
	case 1:
		return "llm: decode: no KV slot available for batch"
	case 2:
		return "llm: decode: aborted"
	default:
		return fmt.Sprintf("llm: decode failed with status %d", e.Status)
	}
}
