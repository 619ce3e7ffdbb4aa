package engine

import (
	"localinfer/internal/llm"
)

// AdapterID names a LoRA adapter registered on a session.
type AdapterID uint64

type loraUnit struct {
	path    string
	handle  llm.Adapter
	scale   float32
	applied bool
}

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	ID      AdapterID
	Path    string
	Scale   float32
	Applied bool
}

// LoadAdapter loads a LoRA file without applying it.
func (s *Session) LoadAdapter(path string) (AdapterID, error) {
	const op = "load adapter"
	if err := s.checkOpen(op); err != nil {
		return 0, err
	}
	if err := validPath(op, "adapter path", path); err != nil {
		return 0, err
	}
	h, err := s.model.LoadAdapter(path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("adapter load failed")
		return 0, wrap(loadKind(err, KindLoRALoadFailed), op, err, path)
	}
	id := AdapterID(s.adapters.insert(&loraUnit{path: path, handle: h, scale: 1}))
	liveHandles.WithLabelValues("adapter").Inc()
	s.log.Debug().Uint64("adapter", uint64(id)).Str("path", path).Msg("adapter loaded")
	return id, nil
}

func (s *Session) adapter(op string, id AdapterID) (*loraUnit, error) {
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	u, ok := s.adapters.get(uint64(id))
	if !ok {
		return nil, errorf(KindLoRANotFound, op, "adapter %d is not registered", id)
	}
	return u, nil
}

// ApplyAdapter activates an adapter at scale. Applying an active adapter
// updates its scale in place.
func (s *Session) ApplyAdapter(id AdapterID, scale float32) error {
	const op = "apply adapter"
	u, err := s.adapter(op, id)
	if err != nil {
		return err
	}
	if !finite(scale) || scale < -MaxAdapterScale || scale > MaxAdapterScale {
		return errorf(KindInvalidParam, op, "scale %g out of range [%g, %g]", scale, -MaxAdapterScale, MaxAdapterScale)
	}
	if err := s.ctx.SetAdapter(u.handle, scale); err != nil {
		return wrap(KindUnknown, op, err, "")
	}
	u.scale, u.applied = scale, true
	s.log.Debug().Uint64("adapter", uint64(id)).Float32("scale", scale).Msg("adapter applied")
	return nil
}

// RemoveAdapter deactivates an applied adapter without freeing it.
func (s *Session) RemoveAdapter(id AdapterID) error {
	const op = "remove adapter"
	u, err := s.adapter(op, id)
	if err != nil {
		return err
	}
	if !u.applied {
		return errorf(KindLoRANotFound, op, "adapter %d is not applied", id)
	}
	if err := s.ctx.RemoveAdapter(u.handle); err != nil {
		return wrap(KindLoRANotFound, op, err, "")
	}
	u.applied = false
	s.log.Debug().Uint64("adapter", uint64(id)).Msg("adapter removed")
	return nil
}

// ClearAdapters deactivates every adapter; all stay loaded.
func (s *Session) ClearAdapters() error {
	if err := s.checkOpen("clear adapters"); err != nil {
		return err
	}
	s.ctx.ClearAdapters()
	s.adapters.each(func(_ uint64, u *loraUnit) { u.applied = false })
	s.log.Debug().Int("adapters", s.adapters.len()).Msg("adapters cleared")
	return nil
}

// UnloadAdapter deactivates the adapter if needed and frees it.
func (s *Session) UnloadAdapter(id AdapterID) error {
	const op = "unload adapter"
	u, err := s.adapter(op, id)
	if err != nil {
		return err
	}
	if u.applied {
		if err := s.ctx.RemoveAdapter(u.handle); err != nil {
			return wrap(KindUnknown, op, err, "deactivate")
		}
		u.applied = false
	}
	s.adapters.remove(uint64(id))
	liveHandles.WithLabelValues("adapter").Dec()
	if err := u.handle.Close(); err != nil {
		return wrap(KindUnknown, op, err, "free")
	}
	s.log.Debug().Uint64("adapter", uint64(id)).Msg("adapter unloaded")
	return nil
}

// Adapters lists registered adapters in registration slot order.
func (s *Session) Adapters() []AdapterInfo {
	if s == nil || s.closed {
		return nil
	}
	out := make([]AdapterInfo, 0, s.adapters.len())
	s.adapters.each(func(id uint64, u *loraUnit) {
		out = append(out, AdapterInfo{ID: AdapterID(id), Path: u.path, Scale: u.scale, Applied: u.applied})
	})
	return out
}
