package engine

import (
	"localinfer/internal/grammar"
	"localinfer/internal/llm"
)

// GrammarID names a grammar registered on a session.
type GrammarID uint64

type grammarUnit struct {
	text, root string
	g          llm.Grammar
}

// GrammarInfo describes a registered grammar.
type GrammarInfo struct {
	ID   GrammarID
	Root string
	Size int
}

func (s *Session) newGrammar(op, text, root string) (llm.Grammar, error) {
	if text == "" {
		return nil, errorf(KindInvalidParam, op, "grammar text is empty")
	}
	if root == "" {
		return nil, errorf(KindInvalidParam, op, "grammar root is empty")
	}
	g, err := s.model.NewGrammar(text, root)
	if err != nil {
		return nil, wrap(KindGrammarInitFailed, op, err, "")
	}
	return g, nil
}

// CreateGrammar registers a reusable grammar. Its state persists across
// generations until ResetGrammar.
func (s *Session) CreateGrammar(text, root string) (GrammarID, error) {
	const op = "create grammar"
	if err := s.checkOpen(op); err != nil {
		return 0, err
	}
	g, err := s.newGrammar(op, text, root)
	if err != nil {
		return 0, err
	}
	id := GrammarID(s.grammars.insert(&grammarUnit{text: text, root: root, g: g}))
	liveHandles.WithLabelValues("grammar").Inc()
	s.log.Debug().Uint64("grammar", uint64(id)).Str("root", root).Int("bytes", len(text)).Msg("grammar created")
	return id, nil
}

// CreateSchemaGrammar registers a grammar generated from a JSON schema.
func (s *Session) CreateSchemaGrammar(schema string) (GrammarID, error) {
	const op = "create grammar"
	if err := s.checkOpen(op); err != nil {
		return 0, err
	}
	src, err := grammar.FromSchema([]byte(schema))
	if err != nil {
		return 0, wrap(KindGrammarInitFailed, op, err, "json schema")
	}
	return s.CreateGrammar(src, "root")
}

func (s *Session) grammar(op string, id GrammarID) (*grammarUnit, error) {
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	u, ok := s.grammars.get(uint64(id))
	if !ok {
		return nil, errorf(KindInvalidParam, op, "grammar %d is not registered", id)
	}
	return u, nil
}

// ResetGrammar rewinds a registered grammar to its start state.
func (s *Session) ResetGrammar(id GrammarID) error {
	u, err := s.grammar("reset grammar", id)
	if err != nil {
		return err
	}
	u.g.Reset()
	return nil
}

// FreeGrammar releases a registered grammar.
func (s *Session) FreeGrammar(id GrammarID) error {
	const op = "free grammar"
	u, err := s.grammar(op, id)
	if err != nil {
		return err
	}
	s.grammars.remove(uint64(id))
	liveHandles.WithLabelValues("grammar").Dec()
	if err := u.g.Close(); err != nil {
		return wrap(KindUnknown, op, err, "")
	}
	s.log.Debug().Uint64("grammar", uint64(id)).Msg("grammar freed")
	return nil
}

// Grammars lists registered grammars.
func (s *Session) Grammars() []GrammarInfo {
	if s == nil || s.closed {
		return nil
	}
	out := make([]GrammarInfo, 0, s.grammars.len())
	s.grammars.each(func(id uint64, u *grammarUnit) {
		out = append(out, GrammarInfo{ID: GrammarID(id), Root: u.root, Size: len(u.text)})
	})
	return out
}

// resolveGrammar returns the constraint for r and whether the caller owns it.
func (s *Session) resolveGrammar(op string, r *Request) (llm.Grammar, bool, error) {
	switch {
	case r.GrammarID != 0:
		u, err := s.grammar(op, r.GrammarID)
		if err != nil {
			return nil, false, err
		}
		return u.g, false, nil
	case r.Grammar != "":
		root := r.GrammarRoot
		if root == "" {
			root = "root"
		}
		g, err := s.newGrammar(op, r.Grammar, root)
		return g, err == nil, err
	case r.JSONSchema != "":
		src, err := grammar.FromSchema([]byte(r.JSONSchema))
		if err != nil {
			return nil, false, wrap(KindGrammarInitFailed, op, err, "json schema")
		}
		g, err := s.newGrammar(op, src, "root")
		return g, err == nil, err
	}
	return nil, false, nil
}
