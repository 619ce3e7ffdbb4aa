// Package llmtest is a deterministic in-process runtime for tests. It has a
// byte-level vocabulary with a handful of word tokens, hashed logits that
// depend on the decoded history and on applied adapters, a projector that
// produces reproducible embeddings, and grammars evaluated by the Go GBNF
// automaton. Every native-style handle is counted so tests can assert that
// teardown released everything exactly once.
package llmtest

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"localinfer/internal/grammar"
	"localinfer/internal/llm"
)

// Counts reports live handles per kind.
type Counts struct {
	Models     int
	Contexts   int
	Adapters   int
	Grammars   int
	Projectors int
	Bitmaps    int
	// DoubleFrees counts Close calls on already released handles.
	DoubleFrees int
}

// Backend implements llm.Backend.
type Backend struct {
	// LoadErr, when set, is returned by every LoadModel call.
	LoadErr error
	// EOSBias is added to the end-of-generation logit.
	EOSBias float32
	// FailDecodeAfter makes the n-th decode after a memory clear fail; 0 disables.
	FailDecodeAfter int

	mu     sync.Mutex
	counts Counts
	loads  int
}

var _ llm.Backend = (*Backend)(nil)

// New returns a backend with default behavior.
func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "sim" }

// Counts returns a snapshot of live handles.
func (b *Backend) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Loads returns how many models were loaded successfully.
func (b *Backend) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

func (b *Backend) track(field *int, delta int) {
	b.mu.Lock()
	*field += delta
	b.mu.Unlock()
}

func (b *Backend) doubleFree() {
	b.mu.Lock()
	b.counts.DoubleFrees++
	b.mu.Unlock()
}

// LoadModel requires path to exist. Files whose content starts with "oom"
// fail with llm.ErrOutOfMemory.
func (b *Backend) LoadModel(path string, opts llm.ModelOptions) (llm.Model, error) {
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sim: load model: %w", err)
	}
	if strings.HasPrefix(string(data), "oom") {
		return nil, fmt.Errorf("sim: load model %s: %w", path, llm.ErrOutOfMemory)
	}
	b.mu.Lock()
	b.counts.Models++
	b.loads++
	b.mu.Unlock()
	return &model{backend: b, path: path, size: uint64(len(data)), vocab: newVocab()}, nil
}

type model struct {
	backend *Backend
	path    string
	size    uint64
	vocab   *vocab
	closed  bool
}

func (m *model) Vocab() llm.Vocab { return m.vocab }

func (m *model) Info() llm.ModelInfo {
	return llm.ModelInfo{
		NVocab:       m.vocab.NTokens(),
		NCtxTrain:    4096,
		NEmbd:        EmbeddingSize,
		NLayer:       2,
		Architecture: "sim",
		Description:  "simulated 2-layer byte model",
		SizeBytes:    m.size,
	}
}

func (m *model) NewContext(opts llm.ContextOptions) (llm.Context, error) {
	if opts.ContextSize <= 0 {
		return nil, fmt.Errorf("sim: invalid context size %d", opts.ContextSize)
	}
	m.backend.track(&m.backend.counts.Contexts, 1)
	return &simContext{model: m, size: opts.ContextSize, adapters: map[*adapter]float32{}}, nil
}

// LoadAdapter accepts files whose content starts with "lora".
func (m *model) LoadAdapter(path string) (llm.Adapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sim: load adapter: %w", err)
	}
	if !strings.HasPrefix(string(data), "lora") {
		return nil, fmt.Errorf("sim: %s is not a LoRA adapter for this model", path)
	}
	m.backend.track(&m.backend.counts.Adapters, 1)
	return &adapter{backend: m.backend, seed: hashString(string(data))}, nil
}

func (m *model) NewGrammar(text, root string) (llm.Grammar, error) {
	g, err := grammar.Parse(text, root)
	if err != nil {
		return nil, err
	}
	m.backend.track(&m.backend.counts.Grammars, 1)
	return &trackedGrammar{Matcher: grammar.NewMatcher(g, m.vocab), backend: m.backend}, nil
}

// NewProjector reads a file listing the supported modalities, for example
// "mmproj:vision,audio".
func (m *model) NewProjector(path string, opts llm.ProjectorOptions) (llm.Projector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sim: load projector: %w", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, "mmproj") {
		return nil, fmt.Errorf("sim: %s is not a projector", path)
	}
	p := &projector{
		backend: m.backend,
		vision:  strings.Contains(s, "vision"),
		audio:   strings.Contains(s, "audio"),
		marker:  DefaultMarker,
	}
	if i := strings.Index(s, "marker="); i >= 0 {
		if f := strings.Fields(s[i+len("marker="):]); len(f) > 0 {
			p.marker = f[0]
		}
	}
	m.backend.track(&m.backend.counts.Projectors, 1)
	return p, nil
}

func (m *model) Close() error {
	if m.closed {
		m.backend.doubleFree()
		return nil
	}
	m.closed = true
	m.backend.track(&m.backend.counts.Models, -1)
	return nil
}

type adapter struct {
	backend *Backend
	seed    uint64
	closed  bool
}

func (a *adapter) Close() error {
	if a.closed {
		a.backend.doubleFree()
		return nil
	}
	a.closed = true
	a.backend.track(&a.backend.counts.Adapters, -1)
	return nil
}

type trackedGrammar struct {
	*grammar.Matcher
	backend *Backend
	closed  bool
}

func (g *trackedGrammar) Close() error {
	if g.closed {
		g.backend.doubleFree()
		return nil
	}
	g.closed = true
	g.backend.track(&g.backend.counts.Grammars, -1)
	return nil
}
