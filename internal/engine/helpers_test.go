package engine

import (
	"os"
	"path/filepath"
	"testing"

	"localinfer/internal/llm/llmtest"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func testParams(t *testing.T) SessionParams {
	t.Helper()
	return SessionParams{
		ModelPath:   writeFile(t, t.TempDir(), "model.gguf", "weights"),
		Threads:     2,
		ContextSize: 512,
	}
}

// newTestSession opens a session on b and closes it at cleanup if the test
// did not.
func newTestSession(t *testing.T, b *llmtest.Backend, p SessionParams) *Session {
	t.Helper()
	s, err := NewSession(b, p)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() {
		if !s.closed {
			_ = s.Close()
		}
	})
	return s
}

func seed(v uint64) *uint64 { return &v }

func wantKind(t *testing.T, err error, k Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", k)
	}
	if got := KindOf(err); got != k {
		t.Fatalf("expected %s, got %s (%v)", k, got, err)
	}
}
