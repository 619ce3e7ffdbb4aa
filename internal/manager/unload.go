package manager

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// closeSession releases the engine session of an instance that is no longer
// reachable from the instance map.
func (m *Manager) closeSession(inst *Instance) {
	if inst.sess == nil {
		return
	}
	if err := inst.sess.Close(); err != nil {
		m.log.Warn().Err(err).Str("model", inst.ID).Msg("session close")
	}
}

// Unload initiates a graceful drain of a model instance and removes it.
//   - Sets instance state to draining to reject new enqueues.
//   - Waits up to drainTimeout for in-flight and queued requests to finish.
//   - Closes the engine session and removes the instance entry.
//
// If the drain times out, the session is closed only after the in-flight
// operation releases its slot.
func (m *Manager) Unload(modelID string) error {
	if modelID == "" {
		return ErrModelNotFound("(unspecified)")
	}
	m.mu.Lock()
	inst := m.instances[modelID]
	if inst == nil || inst.State == StateLoading {
		m.mu.Unlock()
		return ErrModelNotFound(modelID)
	}
	inst.State = StateDraining
	m.mu.Unlock()
	m.publish("unload_start", modelID, nil)

	deadline := time.Now().Add(m.drainTimeout)
	for {
		m.mu.RLock()
		qlen := len(inst.queueCh)
		inflight := len(inst.genCh)
		m.mu.RUnlock()
		if inflight == 0 && qlen == 0 {
			break
		}
		if time.Now().After(deadline) {
			m.publish("unload_timeout", modelID, map[string]any{"inflight": inflight, "queue": qlen})
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.mu.Lock()
	if m.instances[modelID] == inst {
		m.usedEstMB = max(m.usedEstMB-inst.EstVRAMMB, 0)
		delete(m.instances, modelID)
	}
	if m.cur != nil && m.cur.ID == modelID {
		m.cur = nil
	}
	m.mu.Unlock()

	// whoever holds the slot finishes before the session goes away
	inst.genCh <- struct{}{}
	m.closeSession(inst)
	<-inst.genCh

	m.log.Info().Str("model", modelID).Msg("unloaded")
	m.publish("unload_done", modelID, nil)
	m.saveLRUMetadata()
	return nil
}

// Close unloads every instance in parallel. It is meant for process shutdown.
func (m *Manager) Close() error {
	m.saveLRUMetadata()
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id, inst := range m.instances {
		if inst.State != StateLoading {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			err := m.Unload(id)
			if IsModelNotFound(err) {
				// unloaded concurrently
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
