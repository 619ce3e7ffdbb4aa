package engine

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"localinfer/internal/llm"
)

// Session owns a loaded model and everything attached to it.
type Session struct {
	params SessionParams
	model  llm.Model
	vocab  llm.Vocab
	ctx    llm.Context
	proj   llm.Projector

	adapters arena[*loraUnit]
	grammars arena[*grammarUnit]

	log    zerolog.Logger
	closed bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger installs a structured logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func loadKind(err error, fallback Kind) Kind {
	if errors.Is(err, llm.ErrOutOfMemory) {
		return KindOutOfMemory
	}
	return fallback
}

// NewSession validates p, loads the model, creates the decode context and
// attaches the projector when one is configured.
func NewSession(b llm.Backend, p SessionParams, opts ...Option) (*Session, error) {
	const op = "new session"
	if b == nil {
		return nil, errorf(KindInvalidParam, op, "backend is nil")
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	s := &Session{params: p, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}

	m, err := b.LoadModel(p.ModelPath, llm.ModelOptions{GPULayers: p.GPULayers, UseMmap: p.UseMmap})
	if err != nil {
		s.log.Warn().Err(err).Str("model", p.ModelPath).Msg("model load failed")
		return nil, wrap(loadKind(err, KindModelLoadFailed), op, err, p.ModelPath)
	}
	ctx, err := m.NewContext(llm.ContextOptions{ContextSize: p.ContextSize, BatchSize: p.batchSize(), Threads: p.Threads})
	if err != nil {
		_ = m.Close()
		s.log.Warn().Err(err).Int("ctx_size", p.ContextSize).Msg("context creation failed")
		return nil, wrap(loadKind(err, KindModelLoadFailed), op, err, "create context")
	}
	s.model, s.vocab, s.ctx = m, m.Vocab(), ctx

	if p.ProjectorPath != "" {
		proj, err := m.NewProjector(p.ProjectorPath, llm.ProjectorOptions{GPU: p.ProjectorGPU, Threads: p.Threads})
		if err != nil {
			_ = ctx.Close()
			_ = m.Close()
			s.log.Warn().Err(err).Str("projector", p.ProjectorPath).Msg("projector load failed")
			return nil, wrap(loadKind(err, KindModelLoadFailed), op, err, p.ProjectorPath)
		}
		s.proj = proj
	}
	s.log.Debug().
		Str("backend", b.Name()).
		Str("model", p.ModelPath).
		Bool("multimodal", s.proj != nil).
		Int("ctx_size", p.ContextSize).
		Int("threads", p.Threads).
		Msg("session created")
	return s, nil
}

func (s *Session) checkOpen(op string) error {
	if s == nil || s.closed {
		return errorf(KindInvalidParam, op, "session is closed")
	}
	return nil
}

// Close releases adapters, grammars, the projector, the context and the
// model, in that order. Closing twice returns an invalid-param error.
func (s *Session) Close() error {
	if err := s.checkOpen("close"); err != nil {
		return err
	}
	s.closed = true

	var errs []error
	s.ctx.ClearAdapters()
	s.adapters.each(func(id uint64, u *loraUnit) {
		if err := u.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("adapter %d: %w", id, err))
		}
		s.adapters.remove(id)
		liveHandles.WithLabelValues("adapter").Dec()
	})
	s.grammars.each(func(id uint64, u *grammarUnit) {
		if err := u.g.Close(); err != nil {
			errs = append(errs, fmt.Errorf("grammar %d: %w", id, err))
		}
		s.grammars.remove(id)
		liveHandles.WithLabelValues("grammar").Dec()
	})
	if s.proj != nil {
		if err := s.proj.Close(); err != nil {
			errs = append(errs, fmt.Errorf("projector: %w", err))
		}
	}
	if err := s.ctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("context: %w", err))
	}
	if err := s.model.Close(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}
	s.log.Debug().Str("model", s.params.ModelPath).Int("errors", len(errs)).Msg("session closed")
	if len(errs) > 0 {
		return wrap(KindUnknown, "close", errors.Join(errs...), "")
	}
	return nil
}

// Multimodal reports which media modalities the attached encoder accepts.
func (s *Session) Multimodal() (vision, audio bool) {
	if s == nil || s.closed || s.proj == nil {
		return false, false
	}
	return s.proj.Supports(ModalityImage), s.proj.Supports(ModalityAudio)
}

// ModelPath returns the path the session was created from.
func (s *Session) ModelPath() string { return s.params.ModelPath }
