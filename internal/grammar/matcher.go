package grammar

import (
	"math"

	"localinfer/internal/llm"
)

// PieceSource is the part of a vocabulary the matcher needs.
type PieceSource interface {
	NTokens() int
	TokenToPiece(t llm.Token) string
	IsEOG(t llm.Token) bool
}

// Matcher constrains token sampling to a grammar. It implements llm.Grammar.
type Matcher struct {
	g       *Grammar
	vocab   PieceSource
	pieces  []string
	stacks  []stack
	partial []byte
}

var _ llm.Grammar = (*Matcher)(nil)

// NewMatcher binds g to a vocabulary and positions it at the start rule.
func NewMatcher(g *Grammar, vocab PieceSource) *Matcher {
	n := vocab.NTokens()
	pieces := make([]string, n)
	for i := 0; i < n; i++ {
		pieces[i] = vocab.TokenToPiece(llm.Token(i))
	}
	m := &Matcher{g: g, vocab: vocab, pieces: pieces}
	m.Reset()
	return m
}

// Reset rewinds the automaton to the start rule.
func (m *Matcher) Reset() {
	m.stacks = m.g.startStacks()
	m.partial = nil
}

// Done reports whether the text accepted so far is a complete sentence.
func (m *Matcher) Done() bool { return len(m.partial) == 0 && complete(m.stacks) }

// step simulates appending piece and returns the resulting state.
func (m *Matcher) step(piece string) ([]stack, []byte, bool) {
	buf := make([]byte, 0, len(m.partial)+len(piece))
	buf = append(append(buf, m.partial...), piece...)
	runes, partial, ok := decodeRunes(buf)
	if !ok {
		return nil, nil, false
	}
	stacks := m.stacks
	for _, r := range runes {
		stacks = m.g.acceptRune(stacks, r)
		if len(stacks) == 0 {
			return nil, nil, false
		}
	}
	if len(partial) > 0 && !m.g.partialOK(stacks, partial) {
		return nil, nil, false
	}
	return stacks, partial, true
}

// Apply masks every candidate that cannot follow the accepted text.
func (m *Matcher) Apply(cands []llm.TokenData) {
	neg := float32(math.Inf(-1))
	done := m.Done()
	for i := range cands {
		id := cands[i].ID
		if m.vocab.IsEOG(id) {
			if !done {
				cands[i].Logit = neg
			}
			continue
		}
		if int(id) < 0 || int(id) >= len(m.pieces) || m.pieces[id] == "" {
			cands[i].Logit = neg
			continue
		}
		if _, _, ok := m.step(m.pieces[id]); !ok {
			cands[i].Logit = neg
		}
	}
}

// Accept advances the automaton past t. Accepting a token Apply would have
// masked leaves the matcher with no live stacks.
func (m *Matcher) Accept(t llm.Token) {
	if m.vocab.IsEOG(t) {
		return
	}
	if int(t) < 0 || int(t) >= len(m.pieces) {
		m.stacks, m.partial = nil, nil
		return
	}
	stacks, partial, ok := m.step(m.pieces[t])
	if !ok {
		m.stacks, m.partial = nil, nil
		return
	}
	m.stacks, m.partial = stacks, partial
}

// Close is a no-op; the matcher holds only Go memory.
func (m *Matcher) Close() error { return nil }
