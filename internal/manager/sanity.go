package manager

import (
	"localinfer/internal/common/fsutil"
)

// ModelCheck reports whether a registry entry's files are present.
type ModelCheck struct {
	ID              string `json:"id"`
	ModelFound      bool   `json:"model_found"`
	ProjectorFound  bool   `json:"projector_found,omitempty"`
	ProjectorWanted bool   `json:"projector_wanted,omitempty"`
}

// SanityReport describes runtime checks for external dependencies.
type SanityReport struct {
	Backend          string       `json:"backend"`
	BackendAvailable bool         `json:"backend_available"`
	Models           []ModelCheck `json:"models"`
	Error            string       `json:"error,omitempty"`
}

// SanityCheck validates that the runtime is linked in and that registry files
// exist. It does not mutate state and is safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{Backend: m.BackendName(), BackendAvailable: m.backend != nil}
	if !r.BackendAvailable {
		r.Error = "inference runtime not available in this build"
	}
	for _, mdl := range m.ListModels() {
		c := ModelCheck{ID: mdl.ID, ModelFound: fsutil.PathExists(mdl.Path)}
		if mdl.Projector != "" {
			c.ProjectorWanted = true
			c.ProjectorFound = fsutil.PathExists(mdl.Projector)
		}
		if !c.ModelFound && r.Error == "" {
			r.Error = "model file missing: " + mdl.ID
		}
		r.Models = append(r.Models, c)
	}
	return r
}
