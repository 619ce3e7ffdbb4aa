package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindsAndCodes(t *testing.T) {
	cases := []struct {
		kind Kind
		name string
		code int
	}{
		{KindUnknown, "unknown", -1},
		{KindInvalidParam, "invalid-param", -2},
		{KindModelLoadFailed, "model-load-failed", -3},
		{KindOutOfMemory, "out-of-memory", -4},
		{KindMultimodalNotSupported, "multimodal-not-supported", -5},
		{KindLoRALoadFailed, "lora-load-failed", -6},
		{KindLoRANotFound, "lora-not-found", -7},
		{KindGrammarInitFailed, "grammar-init-failed", -8},
	}
	for _, c := range cases {
		if c.kind.String() != c.name || c.kind.Code() != c.code {
			t.Fatalf("kind %d: got %s/%d want %s/%d", c.kind, c.kind, c.kind.Code(), c.name, c.code)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("disk on fire")
	err := fmt.Errorf("outer: %w", wrap(KindLoRALoadFailed, "load adapter", cause, "a.gguf"))
	if !errors.Is(err, ErrLoRALoadFailed) {
		t.Fatalf("expected sentinel match for %v", err)
	}
	if errors.Is(err, ErrLoRANotFound) {
		t.Fatalf("matched the wrong sentinel")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable")
	}
	if !IsKind(err, KindLoRALoadFailed) || KindOf(cause) != KindUnknown {
		t.Fatalf("kind helpers disagree")
	}
	want := "engine: load adapter: lora-load-failed: a.gguf: disk on fire"
	if got := errors.Unwrap(err).Error(); got != want {
		t.Fatalf("message %q, want %q", got, want)
	}
}
