package sample

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"localinfer/internal/llm"
)

func ids(c Candidates) []llm.Token {
	out := make([]llm.Token, len(c.Data))
	for i, t := range c.Data {
		out[i] = t.ID
	}
	return out
}

func TestTemperaturePreservesRanking(t *testing.T) {
	c := FromLogits([]float32{1, 4, -2, 0}, nil)
	Temperature(&c, 0.5)
	want := []float32{2, 8, -4, 0}
	for i, w := range want {
		if math.Abs(float64(c.Data[i].Logit-w)) > 1e-5 {
			t.Fatalf("index %d: want %f, got %f", i, w, c.Data[i].Logit)
		}
	}
}

func TestTemperatureKeepsMask(t *testing.T) {
	inf := float32(math.Inf(-1))
	c := FromLogits([]float32{inf, 2, inf}, nil)
	Temperature(&c, 1.5)
	if !isMasked(c.Data[0].Logit) || !isMasked(c.Data[2].Logit) {
		t.Fatalf("mask lost: %+v", c.Data)
	}
}

func TestTopK(t *testing.T) {
	c := FromLogits([]float32{0.1, 5, 3, 9, -1, 4}, nil)
	TopK(&c, 3)
	if diff := cmp.Diff([]llm.Token{3, 1, 5}, ids(c)); diff != "" {
		t.Fatalf("topK mismatch (-want +got):\n%s", diff)
	}
	if !c.Sorted {
		t.Fatalf("expected sorted candidates")
	}

	c = FromLogits([]float32{2, 1}, nil)
	TopK(&c, 10)
	if diff := cmp.Diff([]llm.Token{0, 1}, ids(c)); diff != "" {
		t.Fatalf("topK beyond length (-want +got):\n%s", diff)
	}
}

func TestTopP(t *testing.T) {
	// softmax(ln 0.5, ln 0.3, ln 0.2) = 0.5, 0.3, 0.2
	c := FromLogits([]float32{float32(math.Log(0.2)), float32(math.Log(0.5)), float32(math.Log(0.3))}, nil)
	TopP(&c, 0.7)
	if diff := cmp.Diff([]llm.Token{1, 2}, ids(c)); diff != "" {
		t.Fatalf("topP mismatch (-want +got):\n%s", diff)
	}

	c = FromLogits([]float32{1, 2, 3}, nil)
	TopP(&c, 1)
	if len(c.Data) != 3 {
		t.Fatalf("topP(1) should keep all, got %d", len(c.Data))
	}
}

func TestMinP(t *testing.T) {
	c := FromLogits([]float32{float32(math.Log(0.6)), float32(math.Log(0.3)), float32(math.Log(0.1))}, nil)
	MinP(&c, 0.4)
	if diff := cmp.Diff([]llm.Token{0, 1}, ids(c)); diff != "" {
		t.Fatalf("minP mismatch (-want +got):\n%s", diff)
	}
}

func TestTypicalKeepsAtLeastOne(t *testing.T) {
	c := FromLogits([]float32{10, 0, 0, 0}, nil)
	Typical(&c, 0.1)
	if len(c.Data) != 1 || c.Data[0].ID != 0 {
		t.Fatalf("typical: got %+v", c.Data)
	}
}

func TestRepeatPenalty(t *testing.T) {
	c := FromLogits([]float32{2, -2, 1}, nil)
	RepeatPenalty(&c, []llm.Token{0, 1}, 2)
	want := []float32{1, -4, 1}
	for i, w := range want {
		if c.Data[i].Logit != w {
			t.Fatalf("index %d: want %f, got %f", i, w, c.Data[i].Logit)
		}
	}
}

func TestPartialSortMatchesFullSort(t *testing.T) {
	logits := []float32{3, 7, 1, 9, 4, 4, 8, 0, 2, 6}
	c := FromLogits(logits, nil)
	TopK(&c, 5)
	got := make([]float32, len(c.Data))
	for i, d := range c.Data {
		got[i] = d.Logit
	}
	if diff := cmp.Diff([]float32{9, 8, 7, 6, 4}, got); diff != "" {
		t.Fatalf("partial sort (-want +got):\n%s", diff)
	}
}
