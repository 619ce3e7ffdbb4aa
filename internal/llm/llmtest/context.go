package llmtest

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"

	"localinfer/internal/llm"
)

// EmbeddingSize is the hidden size of the simulated model.
const EmbeddingSize = 16

func splitmix(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// unit maps a hash to [-1, 1).
func unit(x uint64) float32 {
	return float32(x>>11)/float32(1<<53)*2 - 1
}

type simContext struct {
	model    *model
	size     int
	history  []uint64
	logits   []float32
	adapters map[*adapter]float32
	decodes  int
	closed   bool
}

func (c *simContext) push(ids []uint64) error {
	if len(c.history)+len(ids) > c.size {
		return llm.DecodeError{Status: 1}
	}
	c.decodes++
	if n := c.model.backend.FailDecodeAfter; n > 0 && c.decodes >= n {
		return llm.DecodeError{Status: -1}
	}
	c.history = append(c.history, ids...)
	c.logits = nil
	return nil
}

func (c *simContext) Decode(tokens []llm.Token) error {
	if c.closed {
		return errors.New("sim: decode on closed context")
	}
	if len(tokens) == 0 {
		return errors.New("sim: empty batch")
	}
	ids := make([]uint64, len(tokens))
	for i, t := range tokens {
		if t < 0 || int(t) >= c.model.vocab.NTokens() {
			return fmt.Errorf("sim: token %d out of range", t)
		}
		ids[i] = uint64(t)
	}
	return c.push(ids)
}

func (c *simContext) DecodeEmbeddings(e llm.Embeddings) error {
	if c.closed {
		return errors.New("sim: decode on closed context")
	}
	if e.NEmbd != EmbeddingSize || e.NTokens <= 0 || len(e.Data) != e.NTokens*e.NEmbd {
		return fmt.Errorf("sim: bad embedding matrix %dx%d (%d values)", e.NTokens, e.NEmbd, len(e.Data))
	}
	ids := make([]uint64, e.NTokens)
	for i := range ids {
		var h uint64 = 1 << 63
		for _, v := range e.Data[i*e.NEmbd : (i+1)*e.NEmbd] {
			h = splitmix(h ^ uint64(math.Float32bits(v)))
		}
		ids[i] = h
	}
	return c.push(ids)
}

// Logits derive from the last eight positions, so the next-token
// distribution depends on recent history the way a real model's does.
func (c *simContext) Logits() []float32 {
	if len(c.history) == 0 {
		return nil
	}
	if c.logits != nil {
		return c.logits
	}
	var state uint64 = 0xC0FFEE
	from := max(0, len(c.history)-8)
	for _, id := range c.history[from:] {
		state = splitmix(state ^ id)
	}
	n := c.model.vocab.NTokens()
	out := make([]float32, n)
	for i := range out {
		out[i] = 4 * unit(splitmix(state^uint64(i)*0x2545F4914F6CDD1D))
		for a, scale := range c.adapters {
			out[i] += scale * 3 * unit(splitmix(a.seed^uint64(i)))
		}
	}
	out[BOS] = float32(math.Inf(-1))
	out[EOS] += c.model.backend.EOSBias
	c.logits = out
	return out
}

func (c *simContext) Embed(tokens []llm.Token) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, errors.New("sim: empty batch")
	}
	if len(tokens) > c.size {
		return nil, llm.DecodeError{Status: 1}
	}
	c.ClearMemory()
	defer c.ClearMemory()
	vec := make([]float32, EmbeddingSize)
	for _, t := range tokens {
		for j := range vec {
			vec[j] += unit(splitmix(uint64(t)<<8 | uint64(j)))
		}
	}
	var norm float64
	for j := range vec {
		vec[j] /= float32(len(tokens))
		norm += float64(vec[j]) * float64(vec[j])
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for j := range vec {
			vec[j] *= inv
		}
	}
	return vec, nil
}

func (c *simContext) SetAdapter(a llm.Adapter, scale float32) error {
	ad, ok := a.(*adapter)
	if !ok || ad.closed {
		return errors.New("sim: invalid adapter")
	}
	c.adapters[ad] = scale
	c.logits = nil
	return nil
}

func (c *simContext) RemoveAdapter(a llm.Adapter) error {
	ad, ok := a.(*adapter)
	if !ok {
		return errors.New("sim: invalid adapter")
	}
	if _, ok := c.adapters[ad]; !ok {
		return errors.New("sim: adapter not applied")
	}
	delete(c.adapters, ad)
	c.logits = nil
	return nil
}

func (c *simContext) ClearAdapters() {
	clear(c.adapters)
	c.logits = nil
}

// Applied returns the scale of every adapter currently set on ctx.
func Applied(ctx llm.Context) []float32 {
	c, ok := ctx.(*simContext)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(c.adapters))
	for _, s := range c.adapters {
		out = append(out, s)
	}
	return out
}

// Position returns the number of positions decoded into ctx.
func Position(ctx llm.Context) int {
	if c, ok := ctx.(*simContext); ok {
		return len(c.history)
	}
	return -1
}

func (c *simContext) ClearMemory() {
	c.history = c.history[:0]
	c.logits = nil
	c.decodes = 0
}

func (c *simContext) Close() error {
	if c.closed {
		c.model.backend.doubleFree()
		return nil
	}
	c.closed = true
	c.model.backend.track(&c.model.backend.counts.Contexts, -1)
	return nil
}
