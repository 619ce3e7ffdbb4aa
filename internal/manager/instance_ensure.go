package manager

import (
	"context"
	"errors"
	"time"

	"localinfer/internal/engine"
	"localinfer/internal/llm"
	"localinfer/pkg/types"
)

// EnsureInstance ensures a model instance is loaded and marked ready
// according to current resource budgeting and readiness state. Concurrent
// calls for the same model share one load. A canceled ctx returns early
// but does not abort a load already under way.
func (m *Manager) EnsureInstance(ctx context.Context, modelID string) error {
	if modelID == "" {
		// If unspecified, use default if present; else no-op
		modelID = m.defaultModel
		if modelID == "" {
			return nil
		}
	}

	m.mu.Lock()
	inst, ok := m.instances[modelID]
	if ok && inst.State == StateReady {
		inst.LastUsed = time.Now()
		m.mu.Unlock()
		return nil
	}
	draining := ok && inst.State == StateDraining
	m.mu.Unlock()
	if draining {
		return tooBusyError{modelID: modelID}
	}

	mdl, ok := m.getModelByID(modelID)
	if !ok {
		m.publish("ensure_model_not_found", modelID, nil)
		return ErrModelNotFound(modelID)
	}

	ch := m.loads.DoChan(modelID, func() (any, error) {
		return nil, m.loadInstance(mdl)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadInstance creates the engine session for mdl. It runs at most once per
// model id at a time.
func (m *Manager) loadInstance(mdl types.Model) error {
	startTs := time.Now()
	modelID := mdl.ID
	m.mu.RLock()
	if inst, ok := m.instances[modelID]; ok && inst.State == StateReady {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	m.log.Info().Str("model", modelID).Msg("ensure start")
	m.publish("ensure_start", modelID, nil)
	if m.backend == nil {
		err := ErrDependencyUnavailable("no inference runtime configured")
		m.publish("ensure_error", modelID, map[string]any{"error": err.Error()})
		return err
	}

	reqMB := m.estimateVRAMMB(mdl)
	// Evict until it fits budget + margin, if budget configured
	if m.budgetMB > 0 {
		if err := m.evictUntilFits(modelID, reqMB); err != nil {
			m.log.Warn().Err(err).Str("model", modelID).Msg("ensure budget fail")
			m.publish("ensure_budget_fail", modelID, map[string]any{"error": err.Error()})
			return err
		}
	}

	m.mu.Lock()
	m.state = StateLoading
	m.err = ""
	inst := &Instance{
		ID:        modelID,
		State:     StateLoading,
		LastUsed:  time.Now(),
		EstVRAMMB: reqMB,
		genCh:     make(chan struct{}, 1),
		queueCh:   make(chan struct{}, m.maxQueueDepth),
		model:     mdl,
	}
	m.instances[modelID] = inst
	// reserve the estimate while loading so parallel loads see it
	m.usedEstMB += reqMB
	m.mu.Unlock()

	sess, err := engine.NewSession(m.backend, engine.SessionParams{
		ModelPath:     mdl.Path,
		ProjectorPath: mdl.Projector,
		Threads:       m.session.Threads,
		ContextSize:   m.session.ContextSize,
		BatchSize:     m.session.BatchSize,
		GPULayers:     m.session.GPULayers,
		UseMmap:       m.session.UseMmap,
		ProjectorGPU:  m.session.ProjectorGPU,
	}, engine.WithLogger(m.log.With().Str("model", modelID).Logger()))
	if err != nil {
		if errors.Is(err, llm.ErrBackendUnavailable) {
			err = ErrDependencyUnavailable(err.Error())
		}
		m.mu.Lock()
		delete(m.instances, modelID)
		m.usedEstMB = max(m.usedEstMB-reqMB, 0)
		m.state = StateError
		m.err = err.Error()
		m.mu.Unlock()
		m.log.Error().Err(err).Str("model", modelID).Msg("ensure load failed")
		m.publish("ensure_error", modelID, map[string]any{"error": err.Error()})
		return err
	}

	m.mu.Lock()
	inst.sess = sess
	inst.State = StateReady
	inst.LastUsed = time.Now()
	m.cur = &ModelInfo{ID: modelID, Name: mdl.Name, Path: mdl.Path}
	m.state = StateReady
	m.err = ""
	m.mu.Unlock()
	m.loadsTotal.Add(1)
	dur := time.Since(startTs)
	m.log.Info().Str("model", modelID).Dur("took", dur).Int("est_vram_mb", reqMB).Msg("ensure ready")
	m.publish("ensure_ready", modelID, map[string]any{"dur_ms": dur.Milliseconds()})
	m.saveLRUMetadata()
	return nil
}
