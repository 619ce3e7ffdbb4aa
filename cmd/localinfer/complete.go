package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"localinfer/internal/manager"
	"localinfer/internal/registry"
	"localinfer/pkg/types"
)

type completeFlags struct {
	model       string
	modelsDir   string
	projector   string
	ctxSize     int
	threads     int
	gpuLayers   int
	maxTokens   int
	temperature float32
	topK        int
	topP        float32
	minP        float32
	seed        int64
	stop        []string
	grammarFile string
	grammarRoot string
	jsonSchema  string
	images      []string
	audio       []string
	loras       []string
}

func newCompleteCmd(root *rootOptions) *cobra.Command {
	f := &completeFlags{}
	cmd := &cobra.Command{
		Use:   "complete [prompt]",
		Short: "Run one completion locally and stream it to stdout",
		Long: "Loads a model in-process and streams the completion to stdout. The prompt\n" +
			"comes from the arguments, or from stdin when omitted or given as \"-\".\n" +
			"Media items are spliced at <__media__> markers: images first, then audio.",
		Example: "  localinfer complete --model ~/models/llm/qwen.gguf \"Name three colors\"\n" +
			"  localinfer complete --model llava --image cat.png \"<__media__> What is this?\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return f.run(cmd.Context(), prompt, cmd.OutOrStdout(), log)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.model, "model", "m", "", "Model file (*.gguf) or registry id under --models-dir")
	fl.StringVar(&f.modelsDir, "models-dir", defaultModelsDir, "Directory to resolve model ids against")
	fl.StringVar(&f.projector, "mmproj", "", "Multimodal projector file; overrides the one found next to the model")
	fl.IntVar(&f.ctxSize, "ctx-size", 0, "Context size in tokens (0=4096)")
	fl.IntVar(&f.threads, "threads", 0, "Decode threads (0=number of CPUs)")
	fl.IntVar(&f.gpuLayers, "gpu-layers", 0, "Layers to offload to the GPU")
	fl.IntVarP(&f.maxTokens, "max-tokens", "n", 256, "Maximum tokens to generate")
	fl.Float32Var(&f.temperature, "temp", 0.8, "Sampling temperature; 0 is greedy")
	fl.IntVar(&f.topK, "top-k", 40, "Top-K sampling")
	fl.Float32Var(&f.topP, "top-p", 0.95, "Nucleus sampling probability")
	fl.Float32Var(&f.minP, "min-p", 0.05, "Min-P sampling threshold")
	fl.Int64Var(&f.seed, "seed", -1, "Random seed; negative picks one")
	fl.StringArrayVar(&f.stop, "stop", nil, "Stop sequence (repeatable)")
	fl.StringVar(&f.grammarFile, "grammar-file", "", "GBNF grammar file constraining the output")
	fl.StringVar(&f.grammarRoot, "grammar-root", "", "Start rule of --grammar-file (default root)")
	fl.StringVar(&f.jsonSchema, "json-schema", "", "JSON schema file, or inline schema starting with '{'")
	fl.StringArrayVar(&f.images, "image", nil, "Image file (repeatable)")
	fl.StringArrayVar(&f.audio, "audio", nil, "WAV file (repeatable)")
	fl.StringArrayVar(&f.loras, "lora", nil, "LoRA adapter as path[:scale] (repeatable)")
	_ = cmd.MarkFlagRequired("model")
	cmd.MarkFlagsMutuallyExclusive("grammar-file", "json-schema")
	return cmd
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

// parseLora splits "path[:scale]". The scale defaults to 1.
func parseLora(s string) (string, float32, error) {
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		if v, err := strconv.ParseFloat(s[i+1:], 32); err == nil {
			return s[:i], float32(v), nil
		}
	}
	if s == "" {
		return "", 0, errors.New("empty --lora value")
	}
	return s, 1, nil
}

// resolveModel accepts a model file path or a registry id. A *.gguf argument
// that is not an existing file is looked up as an id under modelsDir.
func resolveModel(model, modelsDir, projector string) (types.Model, error) {
	mdl, ok, err := modelFromFile(model)
	if err != nil {
		return mdl, err
	}
	if !ok {
		if mdl, err = modelFromRegistry(model, modelsDir); err != nil {
			return mdl, err
		}
	}
	if projector != "" {
		abs, err := filepath.Abs(projector)
		if err != nil {
			return mdl, err
		}
		mdl.Projector = abs
	}
	return mdl, nil
}

func modelFromFile(model string) (types.Model, bool, error) {
	if !strings.HasSuffix(strings.ToLower(model), ".gguf") {
		return types.Model{}, false, nil
	}
	abs, err := filepath.Abs(model)
	if err != nil {
		return types.Model{}, false, err
	}
	if fi, err := os.Stat(abs); err != nil || fi.IsDir() {
		return types.Model{}, false, nil
	}
	id := filepath.Base(abs)
	mdl := types.Model{ID: id, Name: id, Path: abs}
	// pick up a projector sitting next to the file
	if reg, err := registry.LoadDir(filepath.Dir(abs)); err == nil {
		for _, m := range reg {
			if m.Path == abs {
				mdl = m
			}
		}
	}
	return mdl, true, nil
}

func modelFromRegistry(id, modelsDir string) (types.Model, error) {
	reg, err := registry.LoadDir(modelsDir)
	if err != nil {
		return types.Model{}, err
	}
	for _, m := range reg {
		if m.ID == id {
			return m, nil
		}
	}
	return types.Model{}, manager.ErrModelNotFound(id)
}

func (f *completeFlags) request(model, prompt string) (types.CompleteRequest, error) {
	req := types.CompleteRequest{
		Model:       model,
		Prompt:      prompt,
		Stream:      true,
		MaxTokens:   f.maxTokens,
		Temperature: f.temperature,
		TopK:        f.topK,
		TopP:        f.topP,
		MinP:        f.minP,
		Stop:        f.stop,
		GrammarRoot: f.grammarRoot,
	}
	if f.seed >= 0 {
		s := uint64(f.seed)
		req.Seed = &s
	}
	if f.grammarFile != "" {
		b, err := os.ReadFile(f.grammarFile)
		if err != nil {
			return req, fmt.Errorf("read grammar: %w", err)
		}
		req.Grammar = string(b)
	}
	if s := strings.TrimSpace(f.jsonSchema); s != "" {
		if strings.HasPrefix(s, "{") {
			req.JSONSchema = json.RawMessage(s)
		} else {
			b, err := os.ReadFile(s)
			if err != nil {
				return req, fmt.Errorf("read json schema: %w", err)
			}
			req.JSONSchema = json.RawMessage(b)
		}
	}
	for _, p := range f.images {
		req.Media = append(req.Media, types.MediaInput{Type: "image", Path: p})
	}
	for _, p := range f.audio {
		req.Media = append(req.Media, types.MediaInput{Type: "audio", Path: p})
	}
	return req, nil
}

func (f *completeFlags) run(ctx context.Context, prompt string, out io.Writer, log zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mdl, err := resolveModel(f.model, f.modelsDir, f.projector)
	if err != nil {
		return err
	}
	type lora struct {
		id    string
		scale float32
	}
	var (
		adapters []types.Adapter
		loras    []lora
	)
	for i, s := range f.loras {
		path, scale, err := parseLora(s)
		if err != nil {
			return err
		}
		id := fmt.Sprintf("%d-%s", i, filepath.Base(path))
		adapters = append(adapters, types.Adapter{ID: id, Path: path})
		loras = append(loras, lora{id, scale})
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:     []types.Model{mdl},
		Adapters:     adapters,
		DefaultModel: mdl.ID,
		Backend:      backend,
		Session: manager.SessionDefaults{
			Threads:     f.threads,
			ContextSize: f.ctxSize,
			GPULayers:   f.gpuLayers,
			UseMmap:     true,
		},
		AllowLocalMedia: true,
		Logger:          &log,
	})
	defer func() { _ = mgr.Close() }()

	for _, l := range loras {
		scale := l.scale
		if _, err := mgr.LoadAdapter(ctx, mdl.ID, l.id, &scale); err != nil {
			return fmt.Errorf("lora %s: %w", l.id, err)
		}
	}
	req, err := f.request(mdl.ID, prompt)
	if err != nil {
		return err
	}
	tp := &tokenPrinter{out: out}
	if err := mgr.Infer(ctx, req, tp, nil); err != nil {
		return err
	}
	if err := tp.Err(); err != nil {
		return err
	}
	if tp.final != nil {
		fmt.Fprintln(out)
		log.Info().
			Str("finish_reason", tp.final.FinishReason).
			Int("prompt_tokens", tp.final.Usage.PromptTokens).
			Int("completion_tokens", tp.final.Usage.CompletionTokens).
			Int64("duration_ms", tp.final.DurationMS).
			Msg("done")
	}
	return nil
}

// tokenPrinter turns the NDJSON stream into plain text.
type tokenPrinter struct {
	out   io.Writer
	buf   []byte
	final *types.CompleteResponse
	err   error
}

type streamLine struct {
	types.CompleteResponse
	Token string `json:"token"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (p *tokenPrinter) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			return len(b), nil
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]
		if err := p.line(line); err != nil {
			return 0, err
		}
	}
}

func (p *tokenPrinter) line(b []byte) error {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	var l streamLine
	if err := json.Unmarshal(b, &l); err != nil {
		return fmt.Errorf("decode stream line: %w", err)
	}
	switch {
	case l.Error != "":
		if l.Kind != "" {
			p.err = fmt.Errorf("%s: %s", l.Kind, l.Error)
		} else {
			p.err = errors.New(l.Error)
		}
	case l.Done:
		final := l.CompleteResponse
		p.final = &final
	default:
		if _, err := io.WriteString(p.out, l.Token); err != nil {
			return err
		}
	}
	return nil
}

// Err reports an error line received mid-stream.
func (p *tokenPrinter) Err() error { return p.err }
