package manager

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"localinfer/internal/engine"
	"localinfer/internal/llm"
	"localinfer/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 5 * time.Second
	defaultContextSize   = 4096
	defaultMaxTokens     = 256
)

// SessionDefaults are the engine session parameters used for every model.
type SessionDefaults struct {
	Threads      int
	ContextSize  int
	BatchSize    int
	GPULayers    int
	UseMmap      bool
	ProjectorGPU bool
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry      []types.Model
	Adapters      []types.Adapter
	BudgetMB      int
	MarginMB      int
	DefaultModel  string
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration
	// Backend loads models. Nil makes every load fail as dependency unavailable.
	Backend llm.Backend
	Session SessionDefaults
	// DefaultMaxTokens applies when a request leaves max_tokens unset.
	DefaultMaxTokens int
	// AllowLocalMedia lets requests reference media by server-side path.
	AllowLocalMedia bool
	// StatePath, when set, persists last-used metadata across restarts.
	StatePath string
	Logger    *zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:           StateLoading,
		registry:        cfg.Registry,
		adapters:        cfg.Adapters,
		budgetMB:        cfg.BudgetMB,
		marginMB:        cfg.MarginMB,
		defaultModel:    cfg.DefaultModel,
		instances:       make(map[string]*Instance),
		ops:             make(map[string]*types.OpStatus),
		backend:         cfg.Backend,
		session:         cfg.Session,
		allowLocalMedia: cfg.AllowLocalMedia,
		lruPath:         cfg.StatePath,
		publisher:       cfg.Publisher,
		log:             zerolog.Nop(),
		startTime:       time.Now(),
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	// Apply defaults if unset
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	if cfg.DefaultMaxTokens <= 0 {
		m.defaultMaxTokens = defaultMaxTokens
	} else {
		m.defaultMaxTokens = cfg.DefaultMaxTokens
	}
	if m.session.Threads <= 0 {
		m.session.Threads = min(runtime.NumCPU(), engine.MaxThreads)
	}
	if m.session.ContextSize <= 0 {
		m.session.ContextSize = defaultContextSize
	}
	m.loadLRUMetadata()
	return m
}
