package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"localinfer/internal/common/fsutil"
	"localinfer/pkg/types"
)

// GGUFScanner builds a model registry from the *.gguf files in a directory.
// Multimodal projector files (mmproj-<stem>.gguf or <stem>.mmproj.gguf) are
// not models; they attach to the model file with the same stem.
type GGUFScanner struct{}

func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

func isGGUF(name string) bool { return strings.HasSuffix(strings.ToLower(name), ".gguf") }

func stem(name string) string { return name[:len(name)-len(".gguf")] }

// projectorStem returns the stem of the model a projector file belongs to.
func projectorStem(name string) (string, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "mmproj-"):
		return stem(name[len("mmproj-"):]), true
	case strings.HasSuffix(lower, ".mmproj.gguf"):
		return name[:len(name)-len(".mmproj.gguf")], true
	}
	return "", false
}

// ggufFiles lists the *.gguf files in dir (after ~ expansion) with their
// absolute paths, in directory order.
func ggufFiles(dir string) ([]string, string, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, "", err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, "", fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, "", fmt.Errorf("read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isGGUF(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, abs, nil
}

// Scan returns one model per weights file. ID is the full filename
// (including extension); Path is the absolute file path.
func (s *GGUFScanner) Scan(dir string) ([]types.Model, error) {
	names, abs, err := ggufFiles(dir)
	if err != nil {
		return nil, err
	}
	projectors := map[string]string{}
	var models []types.Model
	for _, name := range names {
		if st, ok := projectorStem(name); ok {
			projectors[strings.ToLower(st)] = filepath.Join(abs, name)
			continue
		}
		models = append(models, types.Model{ID: name, Name: name, Path: filepath.Join(abs, name)})
	}
	for i := range models {
		models[i].Projector = projectors[strings.ToLower(stem(models[i].ID))]
	}
	return models, nil
}

// LoadDir scans a directory for models with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// LoadAdapters lists the LoRA adapter files in dir. ID is the filename.
func LoadAdapters(dir string) ([]types.Adapter, error) {
	names, abs, err := ggufFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]types.Adapter, 0, len(names))
	for _, name := range names {
		out = append(out, types.Adapter{ID: name, Path: filepath.Join(abs, name)})
	}
	return out, nil
}
