package manager

import (
	"time"

	"localinfer/internal/engine"
	"localinfer/pkg/types"
)

// State represents lifecycle state of the manager/instances.
type State string

const (
	StateReady    State = "ready"
	StateLoading  State = "loading"
	StateDraining State = "draining"
	StateError    State = "error"
)

// ModelInfo is a minimal view of the current model.
type ModelInfo struct {
	ID   string
	Name string
	Path string
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	CurrentModel *ModelInfo
	Err          string
}

// Instance represents a live engine session (one per model id).
type Instance struct {
	ID        string
	State     State
	LastUsed  time.Time
	EstVRAMMB int
	// Queueing primitives
	genCh   chan struct{} // size 1: single in-flight operation
	queueCh chan struct{} // buffered: queue slots

	model types.Model
	sess  *engine.Session
	// handle counts refreshed after every admitted operation
	adapters, grammars int
}

// idle reports whether nothing is running or queued on the instance.
func (inst *Instance) idle() bool {
	return len(inst.genCh) == 0 && len(inst.queueCh) == 0
}
