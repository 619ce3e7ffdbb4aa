package manager

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot of
// the current instance for modelID. Returns that instance and a release func
// to be deferred.
func (m *Manager) beginGeneration(ctx context.Context, modelID string) (*Instance, func(), error) {
	m.mu.RLock()
	inst := m.instances[modelID]
	draining := inst != nil && inst.State == StateDraining
	m.mu.RUnlock()
	if inst == nil {
		return nil, func() {}, modelNotFoundError{id: modelID}
	}
	// If draining, reject new work to allow graceful shutdown/unload
	if draining {
		return nil, func() {}, tooBusyError{modelID: modelID}
	}

	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return nil, func() {}, err
	}

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return nil, func() {}, ctx.Err()
	case <-timer.C:
		return nil, func() {}, tooBusyError{modelID: modelID}
	}

	// Wait to acquire the single in-flight slot
	acquired := false
	defer func() {
		if !acquired {
			<-inst.queueCh
		}
	}()
	select {
	case inst.genCh <- struct{}{}:
		acquired = true
		m.mu.Lock()
		inst.LastUsed = time.Now()
		m.mu.Unlock()
		return inst, func() { <-inst.genCh; <-inst.queueCh }, nil
	case <-ctx.Done():
		return nil, func() {}, ctx.Err()
	case <-timer.C:
		return nil, func() {}, tooBusyError{modelID: modelID}
	}
}

// withInstance ensures modelID is loaded, waits for its admission slot and
// runs fn while holding it. fn has exclusive use of the session.
func (m *Manager) withInstance(ctx context.Context, modelID string, fn func(inst *Instance) error) error {
	id, err := m.resolveModelID(modelID)
	if err != nil {
		return err
	}
	if err := m.EnsureInstance(ctx, id); err != nil {
		return err
	}
	inst, release, err := m.beginGeneration(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	// the instance may have been evicted or unloaded while we queued
	m.mu.RLock()
	ok := m.instances[id] == inst && inst.State == StateReady && inst.sess != nil
	m.mu.RUnlock()
	if !ok {
		return tooBusyError{modelID: id}
	}
	err = fn(inst)
	na, ng := len(inst.sess.Adapters()), len(inst.sess.Grammars())
	m.mu.Lock()
	inst.adapters, inst.grammars = na, ng
	m.mu.Unlock()
	return err
}
