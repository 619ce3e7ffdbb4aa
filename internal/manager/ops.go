package manager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"localinfer/pkg/types"
)

// Switch kicks off an async model load and returns an operation ID. The
// load runs in the background and is not canceled with ctx; callers poll Op
// or Status to observe it.
func (m *Manager) Switch(ctx context.Context, modelID string) (string, error) {
	id, err := m.resolveModelID(modelID)
	if err != nil {
		return "", err
	}
	if _, ok := m.getModelByID(id); !ok {
		return "", ErrModelNotFound(id)
	}
	op := uuid.NewString()
	st := &types.OpStatus{ID: op, ModelID: id, State: "running", StartedAt: time.Now().Unix()}
	m.mu.Lock()
	m.ops[op] = st
	m.mu.Unlock()
	m.publish("load_op_start", id, map[string]any{"op": op})

	go func() {
		err := m.EnsureInstance(context.WithoutCancel(ctx), id)
		m.mu.Lock()
		st.FinishedAt = time.Now().Unix()
		if err != nil {
			st.State = "failed"
			st.Error = err.Error()
		} else {
			st.State = "done"
		}
		m.mu.Unlock()
		m.publish("load_op_done", id, map[string]any{"op": op, "state": st.State})
	}()
	return op, nil
}

// Op returns a copy of the async operation status.
func (m *Manager) Op(id string) (types.OpStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.ops[id]
	if !ok {
		return types.OpStatus{}, false
	}
	return *st, true
}
