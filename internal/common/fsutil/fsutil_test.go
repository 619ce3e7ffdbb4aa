package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("HOME does not drive os.UserHomeDir on windows")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	cases := map[string]string{
		"":               "",
		"/srv/models":    "/srv/models",
		"models/llm":     "models/llm",
		"~":              home,
		"~/":             home,
		"~/models/llm":   filepath.Join(home, "models", "llm"),
		"~other/models":  "~other/models",
		"./~/not-a-home": "./~/not-a-home",
	}
	for in, want := range cases {
		got, err := ExpandHome(in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "state", "lru.json")
	if err := WriteFileAtomic(p, []byte("one"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(p, []byte("two"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil || string(b) != "two" {
		t.Fatalf("read back %q, %v", b, err)
	}
	entries, err := os.ReadDir(filepath.Dir(p))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
	if !PathExists(p) || PathExists(filepath.Join(dir, "nope")) {
		t.Fatalf("PathExists disagrees")
	}
}
