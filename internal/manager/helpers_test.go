package manager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"localinfer/internal/llm/llmtest"
	"localinfer/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

// testRegistry creates one tiny weights file per id; each estimates at 1 MB.
func testRegistry(t *testing.T, ids ...string) []types.Model {
	t.Helper()
	dir := t.TempDir()
	out := make([]types.Model, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Model{ID: id, Name: id, Path: writeFile(t, dir, id+".gguf", "weights-"+id)})
	}
	return out
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *llmtest.Backend) {
	t.Helper()
	b := llmtest.New()
	if cfg.Backend == nil {
		cfg.Backend = b
	}
	if cfg.Registry == nil {
		cfg.Registry = testRegistry(t, "m1")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = cfg.Registry[0].ID
	}
	if cfg.Session.ContextSize == 0 {
		cfg.Session = SessionDefaults{Threads: 2, ContextSize: 512}
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 2 * time.Second
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m, b
}

func newBackend() *llmtest.Backend { return llmtest.New() }

func seed(v uint64) *uint64 { return &v }
