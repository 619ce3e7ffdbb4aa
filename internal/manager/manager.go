package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"localinfer/internal/llm"
	"localinfer/pkg/types"
)

type Manager struct {
	mu           sync.RWMutex
	state        State
	cur          *ModelInfo
	err          string
	registry     []types.Model
	adapters     []types.Adapter
	budgetMB     int
	marginMB     int
	defaultModel string
	// Multi-instance fields
	instances map[string]*Instance
	usedEstMB int
	loads     singleflight.Group
	ops       map[string]*types.OpStatus

	// Queue config
	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration

	backend          llm.Backend
	session          SessionDefaults
	defaultMaxTokens int
	allowLocalMedia  bool

	lruPath string
	lruMeta map[string]lruRecord
	closing bool

	log       zerolog.Logger
	publisher EventPublisher
	startTime time.Time

	evictionsTotal atomic.Uint64
	loadsTotal     atomic.Uint64
}

// New builds a Manager with package defaults for everything but the registry,
// budget and backend.
func New(reg []types.Model, budgetMB, marginMB int, defaultModel string, backend llm.Backend) *Manager {
	return NewWithConfig(ManagerConfig{
		Registry:     reg,
		BudgetMB:     budgetMB,
		MarginMB:     marginMB,
		DefaultModel: defaultModel,
		Backend:      backend,
	})
}

// SetEventPublisher replaces the event sink. Nil restores the no-op publisher.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

func (m *Manager) publish(name, modelID string, fields map[string]any) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if fields == nil {
		fields = map[string]any{}
	}
	p.Publish(Event{Name: name, ModelID: modelID, Time: time.Now(), Fields: fields})
}

func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateError {
		return false
	}
	// Ready if any instance is ready
	for _, inst := range m.instances {
		if inst.State == StateReady {
			return true
		}
	}
	return false
}

func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// ListAdapters returns the LoRA adapters known to the registry.
func (m *Manager) ListAdapters() []types.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Adapter, len(m.adapters))
	copy(out, m.adapters)
	return out
}

// BackendName names the runtime, or "none" when no backend is configured.
func (m *Manager) BackendName() string {
	if m.backend == nil {
		return "none"
	}
	return m.backend.Name()
}
