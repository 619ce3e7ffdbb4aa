//go:build !llama

package llama

import "localinfer/internal/llm"

// New reports llm.ErrBackendUnavailable when built without the 'llama' tag.
func New() (llm.Backend, error) { return nil, llm.ErrBackendUnavailable }
