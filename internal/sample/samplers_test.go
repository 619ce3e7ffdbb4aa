package sample

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"localinfer/internal/llm"
)

// maskGrammar allows only the listed ids.
type maskGrammar struct{ allow map[llm.Token]bool }

func (g maskGrammar) Apply(c []llm.TokenData) {
	for i := range c {
		if !g.allow[c[i].ID] {
			c[i].Logit = float32(math.Inf(-1))
		}
	}
}
func (maskGrammar) Accept(llm.Token) {}
func (maskGrammar) Reset()           {}
func (maskGrammar) Close() error     { return nil }

func TestDrawSkipsMasked(t *testing.T) {
	inf := float32(math.Inf(-1))
	c := FromLogits([]float32{inf, 2, inf, inf}, nil)
	got, err := Draw(c, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if got != 1 {
		t.Fatalf("want 1, got %d", got)
	}

	c = FromLogits([]float32{inf, inf}, nil)
	if _, err := Draw(c, nil); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("want ErrNoCandidates, got %v", err)
	}
	if _, err := Greedy(c); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("greedy: want ErrNoCandidates, got %v", err)
	}
}

func TestSeededSamplerIsDeterministic(t *testing.T) {
	logits := []float32{1, 1.5, 0.3, 2, 0.9, 1.1}
	seed := uint64(42)
	run := func() []llm.Token {
		s := New(Params{Temperature: 1.2, TopK: 5, TopP: 0.95, Seed: &seed})
		var out []llm.Token
		for i := 0; i < 32; i++ {
			tok, err := s.Sample(logits, nil)
			if err != nil {
				t.Fatalf("sample: %v", err)
			}
			s.Accept(tok)
			out = append(out, tok)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("step %d differs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestGreedyAtZeroTemperature(t *testing.T) {
	s := New(Params{})
	tok, err := s.Sample([]float32{0.1, 3, 2}, nil)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if tok != 1 {
		t.Fatalf("want 1, got %d", tok)
	}
}

func TestGrammarMaskRunsBeforeTruncation(t *testing.T) {
	// the allowed token is far down the ranking; top-k=1 must not discard it
	g := maskGrammar{allow: map[llm.Token]bool{3: true}}
	seed := uint64(7)
	s := New(Params{Temperature: 2, TopK: 1, TopP: 0.5, Seed: &seed})
	for i := 0; i < 20; i++ {
		tok, err := s.Sample([]float32{9, 8, 7, -5}, g)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if tok != 3 {
			t.Fatalf("grammar violated: got %d", tok)
		}
	}
}

func TestHistoryWindow(t *testing.T) {
	s := New(Params{RepeatLastN: 2})
	s.Prime([]llm.Token{1, 2, 3})
	s.Accept(4)
	if len(s.history) != 2 || s.history[0] != 3 || s.history[1] != 4 {
		t.Fatalf("history=%v", s.history)
	}
	s = New(Params{RepeatLastN: -1})
	s.Prime(make([]llm.Token, 500))
	if len(s.history) != 500 {
		t.Fatalf("unbounded history trimmed to %d", len(s.history))
	}
}

func TestRepeatPenaltyAppliesAtAnyTemperature(t *testing.T) {
	logits := []float32{2, 1.5}
	for _, temp := range []float32{0.7, 1, 1.01, 1.6} {
		seed := uint64(0)
		s := New(Params{Temperature: temp, RepeatPenalty: 2, Seed: &seed})
		s.Prime([]llm.Token{0})
		const n = 10000
		hits := 0
		for range n {
			tok, err := s.Sample(logits, nil)
			if err != nil {
				t.Fatalf("sample: %v", err)
			}
			if tok == 0 {
				hits++
			}
		}
		// token 0 is penalized to 2/2 = 1 before scaling: p0 = sigmoid(-0.5/T)
		want := 1 / (1 + math.Exp(0.5/float64(temp)))
		if got := float64(hits) / n; math.Abs(got-want) > 0.03 {
			t.Fatalf("T=%v: repeated token share %.3f, want about %.3f", temp, got, want)
		}
	}
}
