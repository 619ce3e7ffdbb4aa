package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"localinfer/internal/llm/llmtest"
)

func TestNewSessionValidation(t *testing.T) {
	b := llmtest.New()
	base := testParams(t)
	cases := map[string]func(p *SessionParams){
		"empty path":      func(p *SessionParams) { p.ModelPath = "" },
		"blank path":      func(p *SessionParams) { p.ModelPath = "   " },
		"long path":       func(p *SessionParams) { p.ModelPath = strings.Repeat("a", MaxPathBytes+1) },
		"nul in path":     func(p *SessionParams) { p.ModelPath = "a\x00b" },
		"zero threads":    func(p *SessionParams) { p.Threads = 0 },
		"too many thread": func(p *SessionParams) { p.Threads = MaxThreads + 1 },
		"zero context":    func(p *SessionParams) { p.ContextSize = 0 },
		"huge context":    func(p *SessionParams) { p.ContextSize = MaxContextSize + 1 },
		"batch > context": func(p *SessionParams) { p.BatchSize = p.ContextSize + 1 },
		"negative batch":  func(p *SessionParams) { p.BatchSize = -1 },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			p := base
			mut(&p)
			_, err := NewSession(b, p)
			wantKind(t, err, KindInvalidParam)
		})
	}
	if b.Loads() != 0 {
		t.Fatalf("validation failures reached the runtime: %d loads", b.Loads())
	}
	_, err := NewSession(nil, base)
	wantKind(t, err, KindInvalidParam)
}

func TestNewSessionLoadFailures(t *testing.T) {
	b := llmtest.New()
	dir := t.TempDir()

	p := testParams(t)
	p.ModelPath = dir + "/missing.gguf"
	_, err := NewSession(b, p)
	wantKind(t, err, KindModelLoadFailed)

	p.ModelPath = writeFile(t, dir, "big.gguf", "oom")
	_, err = NewSession(b, p)
	wantKind(t, err, KindOutOfMemory)

	p = testParams(t)
	p.ProjectorPath = writeFile(t, dir, "proj.gguf", "not a projector")
	_, err = NewSession(b, p)
	wantKind(t, err, KindModelLoadFailed)
	if diff := cmp.Diff(llmtest.Counts{}, b.Counts()); diff != "" {
		t.Fatalf("failed load leaked handles (-want +got):\n%s", diff)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	b := llmtest.New()
	p := testParams(t)
	dir := t.TempDir()
	p.ProjectorPath = writeFile(t, dir, "mmproj.gguf", "mmproj vision")
	s, err := NewSession(b, p)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	a1, err := s.LoadAdapter(writeFile(t, dir, "a1.gguf", "lora one"))
	if err != nil {
		t.Fatalf("LoadAdapter: %v", err)
	}
	if _, err := s.LoadAdapter(writeFile(t, dir, "a2.gguf", "lora two")); err != nil {
		t.Fatalf("LoadAdapter: %v", err)
	}
	if err := s.ApplyAdapter(a1, 0.5); err != nil {
		t.Fatalf("ApplyAdapter: %v", err)
	}
	if _, err := s.CreateGrammar(`root ::= "yes" | "no"`, "root"); err != nil {
		t.Fatalf("CreateGrammar: %v", err)
	}
	got := b.Counts()
	if got.Adapters != 2 || got.Grammars != 1 || got.Projectors != 1 {
		t.Fatalf("unexpected live handles before close: %+v", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if diff := cmp.Diff(llmtest.Counts{}, b.Counts()); diff != "" {
		t.Fatalf("handles left after close (-want +got):\n%s", diff)
	}
	wantKind(t, s.Close(), KindInvalidParam)
	if b.Counts().DoubleFrees != 0 {
		t.Fatalf("second close freed handles again")
	}
}

func TestClosedSessionRejectsCalls(t *testing.T) {
	b := llmtest.New()
	s := newTestSession(t, b, testParams(t))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := s.Complete(context.Background(), Request{Prompt: "hi", MaxTokens: 1})
	wantKind(t, err, KindInvalidParam)
	_, err = s.LoadAdapter("x.gguf")
	wantKind(t, err, KindInvalidParam)
	_, err = s.CreateGrammar(`root ::= "a"`, "root")
	wantKind(t, err, KindInvalidParam)
	_, err = s.Tokenize("hi", true)
	wantKind(t, err, KindInvalidParam)
	wantKind(t, s.ClearAdapters(), KindInvalidParam)
	if v, a := s.Multimodal(); v || a {
		t.Fatalf("closed session reports multimodal support")
	}
	if s.Adapters() != nil || s.Grammars() != nil {
		t.Fatalf("closed session lists handles")
	}
}

func TestAdapterLifecycle(t *testing.T) {
	b := llmtest.New()
	s := newTestSession(t, b, testParams(t))
	dir := t.TempDir()

	_, err := s.LoadAdapter(writeFile(t, dir, "bad.gguf", "garbage"))
	wantKind(t, err, KindLoRALoadFailed)
	_, err = s.LoadAdapter("")
	wantKind(t, err, KindInvalidParam)

	id, err := s.LoadAdapter(writeFile(t, dir, "a.gguf", "lora a"))
	if err != nil {
		t.Fatalf("LoadAdapter: %v", err)
	}

	// removing an adapter that was never applied
	err = s.RemoveAdapter(id)
	wantKind(t, err, KindLoRANotFound)
	if !errors.Is(err, ErrLoRANotFound) {
		t.Fatalf("errors.Is failed for %v", err)
	}

	if err := s.ApplyAdapter(id, 1); err != nil {
		t.Fatalf("ApplyAdapter after failed remove: %v", err)
	}
	if err := s.ApplyAdapter(id, 0.25); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if diff := cmp.Diff([]float32{0.25}, llmtest.Applied(s.ctx)); diff != "" {
		t.Fatalf("re-apply must update scale in place (-want +got):\n%s", diff)
	}
	wantKind(t, s.ApplyAdapter(id, MaxAdapterScale+1), KindInvalidParam)

	if err := s.RemoveAdapter(id); err != nil {
		t.Fatalf("RemoveAdapter: %v", err)
	}
	wantKind(t, s.RemoveAdapter(id), KindLoRANotFound)
	if err := s.ApplyAdapter(id, 2); err != nil {
		t.Fatalf("apply after remove: %v", err)
	}

	if err := s.ClearAdapters(); err != nil {
		t.Fatalf("ClearAdapters: %v", err)
	}
	if n := len(llmtest.Applied(s.ctx)); n != 0 {
		t.Fatalf("%d adapters still applied after clear", n)
	}
	if infos := s.Adapters(); len(infos) != 1 || infos[0].Applied {
		t.Fatalf("adapter should stay loaded and inactive: %+v", infos)
	}

	if err := s.ApplyAdapter(id, 1); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.UnloadAdapter(id); err != nil {
		t.Fatalf("UnloadAdapter: %v", err)
	}
	if n := b.Counts().Adapters; n != 0 {
		t.Fatalf("%d adapters live after unload", n)
	}
	if n := len(llmtest.Applied(s.ctx)); n != 0 {
		t.Fatalf("unloaded adapter still applied")
	}
	wantKind(t, s.ApplyAdapter(id, 1), KindLoRANotFound)
	wantKind(t, s.UnloadAdapter(id), KindLoRANotFound)

	// the freed slot is reused, the old id stays dead
	id2, err := s.LoadAdapter(writeFile(t, dir, "b.gguf", "lora b"))
	if err != nil {
		t.Fatalf("LoadAdapter: %v", err)
	}
	if id2 == id {
		t.Fatalf("reused id %d", id)
	}
	wantKind(t, s.ApplyAdapter(id, 1), KindLoRANotFound)
}

func TestAdaptersStack(t *testing.T) {
	b := llmtest.New()
	s := newTestSession(t, b, testParams(t))
	dir := t.TempDir()
	a1, _ := s.LoadAdapter(writeFile(t, dir, "a.gguf", "lora a"))
	a2, _ := s.LoadAdapter(writeFile(t, dir, "b.gguf", "lora b"))

	req := Request{Prompt: "hello", MaxTokens: 1}
	if _, err := s.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	base, _ := s.Logits()

	if err := s.ApplyAdapter(a1, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyAdapter(a2, 1); err != nil {
		t.Fatal(err)
	}
	if n := len(llmtest.Applied(s.ctx)); n != 2 {
		t.Fatalf("%d adapters applied, want 2", n)
	}
	if _, err := s.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	adapted, _ := s.Logits()
	if cmp.Equal(base, adapted) {
		t.Fatalf("applied adapters did not change logits")
	}
}

func TestGrammarLifecycle(t *testing.T) {
	b := llmtest.New()
	s := newTestSession(t, b, testParams(t))

	_, err := s.CreateGrammar("", "root")
	wantKind(t, err, KindInvalidParam)
	_, err = s.CreateGrammar(`root ::= "a"`, "")
	wantKind(t, err, KindInvalidParam)
	_, err = s.CreateGrammar(`root ::= (`, "root")
	wantKind(t, err, KindGrammarInitFailed)
	_, err = s.CreateGrammar(`root ::= "a"`, "start")
	wantKind(t, err, KindGrammarInitFailed)
	_, err = s.CreateSchemaGrammar(`{"type":"tuple"}`)
	wantKind(t, err, KindGrammarInitFailed)

	id, err := s.CreateGrammar(`root ::= "yes" | "no"`, "root")
	if err != nil {
		t.Fatalf("CreateGrammar: %v", err)
	}
	if infos := s.Grammars(); len(infos) != 1 || infos[0].ID != id || infos[0].Root != "root" {
		t.Fatalf("Grammars() = %+v", infos)
	}
	if err := s.ResetGrammar(id); err != nil {
		t.Fatalf("ResetGrammar: %v", err)
	}
	if err := s.FreeGrammar(id); err != nil {
		t.Fatalf("FreeGrammar: %v", err)
	}
	wantKind(t, s.FreeGrammar(id), KindInvalidParam)
	wantKind(t, s.ResetGrammar(id), KindInvalidParam)
	_, err = s.Complete(context.Background(), Request{Prompt: "x", MaxTokens: 1, GrammarID: id})
	wantKind(t, err, KindInvalidParam)
	if n := b.Counts().Grammars; n != 0 {
		t.Fatalf("%d grammars live", n)
	}

	sid, err := s.CreateSchemaGrammar(`{"type":"boolean"}`)
	if err != nil {
		t.Fatalf("CreateSchemaGrammar: %v", err)
	}
	if err := s.FreeGrammar(sid); err != nil {
		t.Fatalf("FreeGrammar: %v", err)
	}
}

func TestTokenUtilities(t *testing.T) {
	b := llmtest.New()
	p := testParams(t)
	p.ProjectorPath = writeFile(t, t.TempDir(), "mmproj.gguf", "mmproj vision audio")
	s := newTestSession(t, b, p)

	toks, err := s.Tokenize("hello world", true)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if toks[0] != llmtest.BOS {
		t.Fatalf("missing BOS: %v", toks)
	}
	text, err := s.Detokenize(toks)
	if err != nil {
		t.Fatalf("Detokenize: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("Detokenize = %q", text)
	}
	_, err = s.Detokenize(nil)
	wantKind(t, err, KindInvalidParam)
	_, err = s.Detokenize([]int32{1 << 20})
	wantKind(t, err, KindInvalidParam)

	if l, err := s.Logits(); err != nil || l != nil {
		t.Fatalf("Logits before decode = %v, %v", l, err)
	}

	info, err := s.ModelInfo()
	if err != nil {
		t.Fatalf("ModelInfo: %v", err)
	}
	if info.Architecture != "sim" || info.NEmbd != llmtest.EmbeddingSize || !info.Vision || !info.Audio {
		t.Fatalf("ModelInfo = %+v", info)
	}

	e1, err := s.Embeddings("the cat")
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	e2, _ := s.Embeddings("the cat")
	if len(e1) != llmtest.EmbeddingSize || !cmp.Equal(e1, e2) {
		t.Fatalf("embeddings not stable: %v vs %v", e1, e2)
	}
	_, err = s.Embeddings("")
	wantKind(t, err, KindInvalidParam)
}
