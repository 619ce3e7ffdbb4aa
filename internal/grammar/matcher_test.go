package grammar

import (
	"math"
	"testing"

	"localinfer/internal/llm"
)

type pieces []string

func (p pieces) NTokens() int                    { return len(p) }
func (p pieces) TokenToPiece(t llm.Token) string { return p[t] }
func (p pieces) IsEOG(t llm.Token) bool          { return p[t] == "</s>" }

func allowed(m *Matcher, n int) []llm.Token {
	cands := make([]llm.TokenData, n)
	for i := range cands {
		cands[i] = llm.TokenData{ID: llm.Token(i)}
	}
	m.Apply(cands)
	var out []llm.Token
	for _, c := range cands {
		if !math.IsInf(float64(c.Logit), -1) {
			out = append(out, c.ID)
		}
	}
	return out
}

func TestMatcherMasksAndAdvances(t *testing.T) {
	g, err := Parse(`root ::= "yes" | "no"`, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	vocab := pieces{"</s>", "y", "es", "n", "o", "yes", "x", ""}
	m := NewMatcher(g, vocab)

	if got := allowed(m, len(vocab)); !equalTokens(got, []llm.Token{1, 3, 5}) {
		t.Fatalf("start: allowed=%v", got)
	}
	m.Accept(1)
	if got := allowed(m, len(vocab)); !equalTokens(got, []llm.Token{2}) {
		t.Fatalf("after y: allowed=%v", got)
	}
	m.Accept(2)
	if !m.Done() {
		t.Fatalf("want done after yes")
	}
	if got := allowed(m, len(vocab)); !equalTokens(got, []llm.Token{0}) {
		t.Fatalf("done: only EOG should remain, got %v", got)
	}

	m.Reset()
	if m.Done() {
		t.Fatalf("reset matcher reports done")
	}
	m.Accept(6)
	if got := allowed(m, len(vocab)); len(got) != 0 {
		t.Fatalf("dead matcher allowed %v", got)
	}
}

func TestMatcherPartialUTF8(t *testing.T) {
	g, err := Parse(`root ::= "é!"`, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// é is C3 A9; the vocabulary splits it across two byte tokens
	vocab := pieces{"</s>", "\xC3", "\xA9", "!", "\xC4"}
	m := NewMatcher(g, vocab)
	if got := allowed(m, len(vocab)); !equalTokens(got, []llm.Token{1}) {
		t.Fatalf("start: allowed=%v", got)
	}
	m.Accept(1)
	if got := allowed(m, len(vocab)); !equalTokens(got, []llm.Token{2}) {
		t.Fatalf("after lead byte: allowed=%v", got)
	}
	m.Accept(2)
	m.Accept(3)
	if !m.Done() {
		t.Fatalf("want done")
	}
}

func equalTokens(a, b []llm.Token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
