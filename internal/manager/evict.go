package manager

// evictUntilFits closes LRU idle instances until requiredMB fits budget +
// margin. Instances with in-flight or queued work are never evicted.
func (m *Manager) evictUntilFits(modelID string, requiredMB int) error {
	for {
		m.mu.Lock()
		if m.usedEstMB+requiredMB+m.marginMB <= m.budgetMB {
			m.mu.Unlock()
			return nil
		}
		// Pick LRU idle ready instance
		var lru *Instance
		for _, inst := range m.instances {
			if inst.State != StateReady || !inst.idle() {
				continue
			}
			if lru == nil || inst.LastUsed.Before(lru.LastUsed) {
				lru = inst
			}
		}
		if lru == nil {
			m.mu.Unlock()
			return budgetExceededError{modelID: modelID, requiredMB: requiredMB, budgetMB: m.budgetMB}
		}
		lru.State = StateDraining
		delete(m.instances, lru.ID)
		m.usedEstMB = max(m.usedEstMB-lru.EstVRAMMB, 0)
		if m.cur != nil && m.cur.ID == lru.ID {
			m.cur = nil
		}
		m.mu.Unlock()

		m.closeSession(lru)
		m.evictionsTotal.Add(1)
		m.log.Info().Str("model", lru.ID).Str("for", modelID).Msg("evicted")
		m.publish("evicted", lru.ID, map[string]any{"for": modelID, "freed_mb": lru.EstVRAMMB})
	}
}
