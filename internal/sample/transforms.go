package sample

import (
	"cmp"
	"math"
	"slices"

	"localinfer/internal/llm"
)

// Candidates is the working set of a sampling step. Sorted reports whether
// Data is in descending logit order.
type Candidates struct {
	Data   []llm.TokenData
	Sorted bool
}

// FromLogits builds a candidate per vocabulary entry, reusing buf when it is
// large enough.
func FromLogits(logits []float32, buf []llm.TokenData) Candidates {
	if cap(buf) < len(logits) {
		buf = make([]llm.TokenData, len(logits))
	}
	buf = buf[:len(logits)]
	for i, v := range logits {
		buf[i] = llm.TokenData{ID: llm.Token(i), Logit: v}
	}
	return Candidates{Data: buf}
}

func isMasked(v float32) bool { return math.IsInf(float64(v), -1) }

func maxLogit(data []llm.TokenData) float32 {
	m := float32(math.Inf(-1))
	for _, t := range data {
		if t.Logit > m {
			m = t.Logit
		}
	}
	return m
}

// softmax returns normalized probabilities for data. Masked candidates get 0.
// The second result is false when every candidate is masked.
func softmax(data []llm.TokenData) ([]float64, bool) {
	probs := make([]float64, len(data))
	m := maxLogit(data)
	if isMasked(m) {
		return probs, false
	}
	var sum float64
	for i, t := range data {
		if isMasked(t.Logit) {
			continue
		}
		probs[i] = math.Exp(float64(t.Logit - m))
		sum += probs[i]
	}
	if sum == 0 || math.IsNaN(sum) {
		return probs, false
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, true
}

func sortDesc(c *Candidates) {
	if c.Sorted {
		return
	}
	slices.SortStableFunc(c.Data, func(a, b llm.TokenData) int {
		return cmp.Compare(b.Logit, a.Logit)
	})
	c.Sorted = true
}

// Temperature divides logits by t. Ranking is unchanged; softmax takes care
// of numeric range.
func Temperature(c *Candidates, t float32) {
	if t <= 0 || t == 1 {
		return
	}
	for i := range c.Data {
		if !isMasked(c.Data[i].Logit) {
			c.Data[i].Logit /= t
		}
	}
}

// TopK keeps the k highest logits, sorted descending.
func TopK(c *Candidates, k int) {
	if k <= 0 {
		return
	}
	if k >= len(c.Data) {
		sortDesc(c)
		return
	}
	if !c.Sorted {
		partialSort(c.Data, k, func(a, b llm.TokenData) bool { return a.Logit > b.Logit })
	}
	c.Data = c.Data[:k]
	c.Sorted = true
}

// siftDown restores the heap property below start.
func siftDown(data []llm.TokenData, start, end int, less func(a, b llm.TokenData) bool) {
	cur := start
	for {
		c1, c2 := 2*cur+1, 2*cur+2
		top := cur
		if c1 < end && less(data[c1], data[top]) {
			top = c1
		}
		if c2 < end && less(data[c2], data[top]) {
			top = c2
		}
		if top == cur {
			return
		}
		data[cur], data[top] = data[top], data[cur]
		cur = top
	}
}

// partialSort moves the k best elements to the front of data in order.
// The heap root holds the worst of the current best k.
func partialSort(data []llm.TokenData, k int, better func(a, b llm.TokenData) bool) {
	worse := func(a, b llm.TokenData) bool { return better(b, a) }
	for i := k/2 - 1; i >= 0; i-- {
		siftDown(data, i, k, worse)
	}
	for i := k; i < len(data); i++ {
		if better(data[i], data[0]) {
			data[0], data[i] = data[i], data[0]
			siftDown(data, 0, k, worse)
		}
	}
	// extracting the worst to the back leaves data[:k] in descending order
	for i := k - 1; i > 0; i-- {
		data[0], data[i] = data[i], data[0]
		siftDown(data, 0, i, worse)
	}
}

// TopP keeps the smallest prefix whose cumulative probability reaches p.
func TopP(c *Candidates, p float32) {
	if p <= 0 || p >= 1 {
		return
	}
	sortDesc(c)
	probs, ok := softmax(c.Data)
	if !ok {
		return
	}
	var cum float64
	for i, pr := range probs {
		cum += pr
		if cum >= float64(p) {
			c.Data = c.Data[:i+1]
			return
		}
	}
}

// MinP drops candidates whose probability is below p times the top probability.
func MinP(c *Candidates, p float32) {
	if p <= 0 || p >= 1 {
		return
	}
	probs, ok := softmax(c.Data)
	if !ok {
		return
	}
	var top float64
	for _, pr := range probs {
		top = max(top, pr)
	}
	threshold := top * float64(p)
	kept := c.Data[:0]
	for i, t := range c.Data {
		if probs[i] >= threshold {
			kept = append(kept, t)
		}
	}
	c.Data = kept
}

// Typical applies locally typical sampling: candidates are ranked by how close
// their information content is to the distribution's entropy and the smallest
// such set reaching mass p is kept.
func Typical(c *Candidates, p float32) {
	if p <= 0 || p >= 1 {
		return
	}
	probs, ok := softmax(c.Data)
	if !ok {
		return
	}
	var entropy float64
	for _, pr := range probs {
		if pr > 0 {
			entropy -= pr * math.Log(pr)
		}
	}
	idx := make([]int, len(probs))
	shift := make([]float64, len(probs))
	for i, pr := range probs {
		idx[i] = i
		if pr > 0 {
			shift[i] = math.Abs(-math.Log(pr) - entropy)
		} else {
			shift[i] = math.Inf(1)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int { return cmp.Compare(shift[a], shift[b]) })
	var cum float64
	n := len(idx)
	for i, j := range idx {
		cum += probs[j]
		if cum >= float64(p) {
			n = i + 1
			break
		}
	}
	kept := make([]llm.TokenData, 0, n)
	for _, j := range idx[:n] {
		kept = append(kept, c.Data[j])
	}
	c.Data = kept
	c.Sorted = false
}

// RepeatPenalty discourages tokens present in history: positive logits are
// divided by penalty, negative ones multiplied.
func RepeatPenalty(c *Candidates, history []llm.Token, penalty float32) {
	if penalty <= 0 || penalty == 1 || len(history) == 0 {
		return
	}
	seen := make(map[llm.Token]struct{}, len(history))
	for _, t := range history {
		seen[t] = struct{}{}
	}
	for i := range c.Data {
		if _, ok := seen[c.Data[i].ID]; !ok || isMasked(c.Data[i].Logit) {
			continue
		}
		if c.Data[i].Logit > 0 {
			c.Data[i].Logit /= penalty
		} else {
			c.Data[i].Logit *= penalty
		}
	}
	c.Sorted = false
}
