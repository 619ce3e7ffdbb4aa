package manager

import (
	"context"
	"strings"

	"localinfer/internal/engine"
)

// LoadAdapter loads a registry adapter onto modelID's session. When scale
// is set the adapter is also applied.
func (m *Manager) LoadAdapter(ctx context.Context, modelID, adapterID string, scale *float32) (uint64, error) {
	a, ok := m.getAdapterByID(adapterID)
	if !ok {
		return 0, adapterNotFoundError{id: adapterID}
	}
	var id engine.AdapterID
	err := m.withInstance(ctx, modelID, func(inst *Instance) error {
		var err error
		id, err = inst.sess.LoadAdapter(a.Path)
		if err != nil {
			return err
		}
		if scale != nil {
			if err := inst.sess.ApplyAdapter(id, *scale); err != nil {
				_ = inst.sess.UnloadAdapter(id)
				id = 0
				return err
			}
		}
		return nil
	})
	if err == nil {
		m.publish("adapter_loaded", modelID, map[string]any{"adapter": adapterID, "handle": uint64(id)})
	}
	return uint64(id), err
}

// ApplyAdapter activates a loaded adapter at scale, or updates its scale.
func (m *Manager) ApplyAdapter(ctx context.Context, modelID string, id uint64, scale float32) error {
	return m.withInstance(ctx, modelID, func(inst *Instance) error {
		return inst.sess.ApplyAdapter(engine.AdapterID(id), scale)
	})
}

// RemoveAdapter deactivates an adapter without unloading it.
func (m *Manager) RemoveAdapter(ctx context.Context, modelID string, id uint64) error {
	return m.withInstance(ctx, modelID, func(inst *Instance) error {
		return inst.sess.RemoveAdapter(engine.AdapterID(id))
	})
}

// UnloadAdapter releases an adapter.
func (m *Manager) UnloadAdapter(ctx context.Context, modelID string, id uint64) error {
	return m.withInstance(ctx, modelID, func(inst *Instance) error {
		return inst.sess.UnloadAdapter(engine.AdapterID(id))
	})
}

// ClearAdapters deactivates every adapter on modelID.
func (m *Manager) ClearAdapters(ctx context.Context, modelID string) error {
	return m.withInstance(ctx, modelID, func(inst *Instance) error {
		return inst.sess.ClearAdapters()
	})
}

// CreateGrammar registers a grammar on modelID from GBNF text or, when
// schema is set, from a JSON schema.
func (m *Manager) CreateGrammar(ctx context.Context, modelID, text, root, schema string) (uint64, error) {
	text, schema = strings.TrimSpace(text), strings.TrimSpace(schema)
	if schema == "null" {
		schema = ""
	}
	if (text == "") == (schema == "") {
		return 0, requestError{msg: "exactly one of grammar and json_schema is required"}
	}
	if root == "" {
		root = "root"
	}
	var id engine.GrammarID
	err := m.withInstance(ctx, modelID, func(inst *Instance) error {
		var err error
		if schema != "" {
			id, err = inst.sess.CreateSchemaGrammar(schema)
		} else {
			id, err = inst.sess.CreateGrammar(text, root)
		}
		return err
	})
	return uint64(id), err
}

// ResetGrammar rewinds a registered grammar to its start rule.
func (m *Manager) ResetGrammar(ctx context.Context, modelID string, id uint64) error {
	return m.withInstance(ctx, modelID, func(inst *Instance) error {
		return inst.sess.ResetGrammar(engine.GrammarID(id))
	})
}

// FreeGrammar releases a registered grammar.
func (m *Manager) FreeGrammar(ctx context.Context, modelID string, id uint64) error {
	return m.withInstance(ctx, modelID, func(inst *Instance) error {
		return inst.sess.FreeGrammar(engine.GrammarID(id))
	})
}
