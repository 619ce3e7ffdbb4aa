package manager

import (
	"cmp"
	"context"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"localinfer/internal/common/fsutil"
)

type lruRecord struct {
	LastUsedUnix int64 `json:"last_used_unix"`
	EstVRAMMB    int   `json:"est_vram_mb"`
	// Loaded is true when the model was resident at the last save.
	Loaded bool `json:"loaded"`
}

func (m *Manager) loadLRUMetadata() {
	if m.lruPath == "" {
		return
	}
	b, err := os.ReadFile(m.lruPath)
	if err != nil {
		return
	}
	var data map[string]lruRecord
	if err := json.Unmarshal(b, &data); err != nil {
		m.log.Warn().Err(err).Str("path", m.lruPath).Msg("ignoring unreadable lru state")
		return
	}
	m.lruMeta = data
}

// saveLRUMetadata merges the live instances into the recorded metadata and
// writes it out. It is a no-op while Close is unloading for shutdown, so the
// file keeps describing what was resident.
func (m *Manager) saveLRUMetadata() {
	if m.lruPath == "" {
		return
	}
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	if m.lruMeta == nil {
		m.lruMeta = make(map[string]lruRecord)
	}
	for id, rec := range m.lruMeta {
		if _, ok := m.instances[id]; !ok {
			rec.Loaded = false
			m.lruMeta[id] = rec
		}
	}
	for id, inst := range m.instances {
		if inst.State != StateReady {
			continue
		}
		m.lruMeta[id] = lruRecord{LastUsedUnix: inst.LastUsed.Unix(), EstVRAMMB: inst.EstVRAMMB, Loaded: true}
	}
	b, err := json.MarshalIndent(m.lruMeta, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return
	}
	if err := fsutil.WriteFileAtomic(m.lruPath, b, 0o644); err != nil {
		m.log.Warn().Err(err).Str("path", m.lruPath).Msg("saving lru state")
	}
}

// WarmStart reloads the models that were resident at the last shutdown. Loads
// replay oldest first so the previous LRU order survives the restart. It
// stops at the first model that fails to load and returns the ids loaded.
func (m *Manager) WarmStart(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	type entry struct {
		id string
		at int64
	}
	var todo []entry
	for id, rec := range m.lruMeta {
		if _, ok := m.getModelByID(id); ok && rec.Loaded {
			todo = append(todo, entry{id, rec.LastUsedUnix})
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(todo, func(a, b entry) int {
		if c := cmp.Compare(a.at, b.at); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})

	var loaded []string
	for _, e := range todo {
		if err := m.EnsureInstance(ctx, e.id); err != nil {
			return loaded, err
		}
		loaded = append(loaded, e.id)
	}
	return loaded, nil
}
