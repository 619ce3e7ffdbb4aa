package manager

import (
	"sort"
	"time"

	"localinfer/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.state, CurrentModel: m.cur, Err: m.err}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		BudgetMB:       m.budgetMB,
		UsedMB:         m.usedEstMB,
		MarginMB:       m.marginMB,
		Backend:        m.BackendName(),
		Error:          m.err,
		State:          string(m.state),
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
		EvictionsTotal: m.evictionsTotal.Load(),
		LoadsTotal:     m.loadsTotal.Load(),
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(m.instances))
	for _, inst := range m.instances {
		switch inst.State {
		case StateLoading:
			resp.WarmupsInProgress++
		case StateDraining:
			resp.DrainingCount++
		}
		st := types.InstanceStatus{
			ModelID:       inst.ID,
			State:         string(inst.State),
			LastUsed:      inst.LastUsed.Unix(),
			EstVRAMMB:     inst.EstVRAMMB,
			QueueLen:      len(inst.queueCh),
			Inflight:      len(inst.genCh),
			MaxQueueDepth: cap(inst.queueCh),
			Multimodal:    inst.model.Projector != "",
			Adapters:      inst.adapters,
			Grammars:      inst.grammars,
		}
		resp.Instances = append(resp.Instances, st)
	}
	sort.Slice(resp.Instances, func(i, j int) bool { return resp.Instances[i].ModelID < resp.Instances[j].ModelID })
	return resp
}
