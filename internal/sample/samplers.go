// Package sample turns a logit vector into one token: grammar mask,
// temperature, top-k, top-p, repeat penalty and a seeded draw.
package sample

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"

	"localinfer/internal/llm"
)

// ErrNoCandidates is returned when every candidate has been masked out.
var ErrNoCandidates = errors.New("sample: no selectable candidates")

// DefaultRepeatLastN is the history window used when RepeatLastN is 0.
const DefaultRepeatLastN = 64

// Params selects the sampling chain. Zero values disable a stage.
type Params struct {
	Temperature   float32
	TopK          int
	TopP          float32
	MinP          float32
	TypicalP      float32
	RepeatPenalty float32
	// RepeatLastN bounds the penalty window: 0 uses DefaultRepeatLastN, -1
	// uses the whole history.
	RepeatLastN int
	// Seed makes draws reproducible; nil draws from a random stream.
	Seed *uint64
}

// Sampler draws tokens for one generation. It is not safe for concurrent use.
type Sampler struct {
	params  Params
	rng     *rand.Rand
	history []llm.Token
	buf     []llm.TokenData
}

// New returns a sampler for params.
func New(p Params) *Sampler {
	var rng *rand.Rand
	if p.Seed != nil {
		seq := *p.Seed
		// golden ratio hash gives the PCG stream an independent second word
		rng = rand.New(rand.NewPCG(seq, seq^0x9E3779B9))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sampler{params: p, rng: rng}
}

// Prime seeds the repeat-penalty history, typically with the prompt tokens.
func (s *Sampler) Prime(tokens []llm.Token) {
	s.history = append(s.history, tokens...)
	s.trim()
}

// Accept records an emitted token for the repeat penalty.
func (s *Sampler) Accept(t llm.Token) {
	s.history = append(s.history, t)
	s.trim()
}

func (s *Sampler) trim() {
	n := s.window()
	if n >= 0 && len(s.history) > n {
		s.history = slices.Clone(s.history[len(s.history)-n:])
	}
}

func (s *Sampler) window() int {
	switch {
	case s.params.RepeatLastN == 0:
		return DefaultRepeatLastN
	case s.params.RepeatLastN < 0:
		return -1
	default:
		return s.params.RepeatLastN
	}
}

// Sample picks the next token from logits. When g is non-nil its mask is
// applied before any other stage so that illegal tokens cannot be drawn.
// Sample does not advance g.
func (s *Sampler) Sample(logits []float32, g llm.Grammar) (llm.Token, error) {
	if len(logits) == 0 {
		return -1, errors.New("sample: no logits provided")
	}
	c := FromLogits(logits, s.buf)
	s.buf = c.Data
	if g != nil {
		g.Apply(c.Data)
	}

	p := s.params
	if p.Temperature <= 0 {
		RepeatPenalty(&c, s.history, p.RepeatPenalty)
		return Greedy(c)
	}
	// Temperature only rescales, so the penalty's sign test below still sees
	// the sign of the raw logit.
	Temperature(&c, p.Temperature)
	TopK(&c, p.TopK)
	TopP(&c, p.TopP)
	Typical(&c, p.TypicalP)
	MinP(&c, p.MinP)
	RepeatPenalty(&c, s.history, p.RepeatPenalty)
	return Draw(c, s.rng)
}

// Greedy returns the highest-logit selectable candidate.
func Greedy(c Candidates) (llm.Token, error) {
	best := -1
	for i, t := range c.Data {
		if isMasked(t.Logit) || math.IsNaN(float64(t.Logit)) {
			continue
		}
		if best < 0 || t.Logit > c.Data[best].Logit {
			best = i
		}
	}
	if best < 0 {
		return -1, ErrNoCandidates
	}
	return c.Data[best].ID, nil
}

// Draw samples from the softmax of the candidates.
func Draw(c Candidates, rng *rand.Rand) (llm.Token, error) {
	probs, ok := softmax(c.Data)
	if !ok {
		return -1, ErrNoCandidates
	}
	var r float64
	if rng != nil {
		r = rng.Float64()
	} else {
		r = rand.Float64()
	}
	var cum float64
	last := -1
	for i, pr := range probs {
		if pr == 0 {
			continue
		}
		last = i
		cum += pr
		if r < cum {
			return c.Data[i].ID, nil
		}
	}
	if last < 0 {
		return -1, ErrNoCandidates
	}
	// rounding left r at or past the final cumulative value
	return c.Data[last].ID, nil
}
