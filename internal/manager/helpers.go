package manager

import (
	"os"

	"localinfer/pkg/types"
)

// Helper: find model in registry by id.
func (m *Manager) getModelByID(id string) (types.Model, bool) {
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}

func (m *Manager) getAdapterByID(id string) (types.Adapter, bool) {
	for _, a := range m.adapters {
		if a.ID == id {
			return a, true
		}
	}
	return types.Adapter{}, false
}

// resolveModelID falls back to the default model for an empty id.
func (m *Manager) resolveModelID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if m.defaultModel == "" {
		return "", modelNotFoundError{id: "(unspecified)"}
	}
	return m.defaultModel, nil
}

func fileMB(path string) int {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return int(fi.Size() / (1024 * 1024))
}

// Helper: estimate VRAM from the model and projector file sizes (MB). Never
// returns less than 1 so unknown sizes cannot bypass budget checks.
func (m *Manager) estimateVRAMMB(mdl types.Model) int {
	mb := fileMB(mdl.Path)
	if mdl.Projector != "" {
		mb += fileMB(mdl.Projector)
	}
	return max(mb, 1)
}
