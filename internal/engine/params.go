package engine

import (
	"math"
	"strconv"
	"strings"

	"localinfer/internal/llm"
	"localinfer/internal/media"
)

// Limits enforced before any runtime call.
const (
	MaxPathBytes     = 4096
	MaxThreads       = 128
	MaxContextSize   = 1 << 20
	DefaultBatchSize = 512
	MaxPromptBytes   = 1 << 20
	MaxTokensLimit   = 32768
	MaxTemperature   = 2.0
	MaxTopK          = 200
	MinRepeatPenalty = 0.1
	MaxRepeatPenalty = 2.0
	MaxAdapterScale  = 10.0
	MaxDetokenize    = 32768
	MaxStopSequences = 16
	MaxStopBytes     = 256
)

// SessionParams configures NewSession.
type SessionParams struct {
	ModelPath string
	// ProjectorPath optionally attaches a multimodal encoder.
	ProjectorPath string
	Threads       int
	ContextSize   int
	// BatchSize 0 selects DefaultBatchSize (capped at ContextSize).
	BatchSize    int
	GPULayers    int
	UseMmap      bool
	ProjectorGPU bool
}

func validPath(op, what, p string) error {
	switch {
	case strings.TrimSpace(p) == "":
		return errorf(KindInvalidParam, op, "%s is empty", what)
	case len(p) > MaxPathBytes:
		return errorf(KindInvalidParam, op, "%s exceeds %d bytes", what, MaxPathBytes)
	case strings.IndexByte(p, 0) >= 0:
		return errorf(KindInvalidParam, op, "%s contains NUL", what)
	}
	return nil
}

func (p *SessionParams) validate() error {
	const op = "new session"
	if err := validPath(op, "model path", p.ModelPath); err != nil {
		return err
	}
	if p.ProjectorPath != "" {
		if err := validPath(op, "projector path", p.ProjectorPath); err != nil {
			return err
		}
	}
	if p.Threads < 1 || p.Threads > MaxThreads {
		return errorf(KindInvalidParam, op, "threads %d out of range [1, %d]", p.Threads, MaxThreads)
	}
	if p.ContextSize < 1 || p.ContextSize > MaxContextSize {
		return errorf(KindInvalidParam, op, "context size %d out of range [1, %d]", p.ContextSize, MaxContextSize)
	}
	if p.BatchSize < 0 || p.BatchSize > p.ContextSize {
		return errorf(KindInvalidParam, op, "batch size %d out of range [0, %d]", p.BatchSize, p.ContextSize)
	}
	if p.GPULayers < -1 {
		return errorf(KindInvalidParam, op, "gpu layers %d is negative", p.GPULayers)
	}
	return nil
}

func (p *SessionParams) batchSize() int {
	if p.BatchSize > 0 {
		return p.BatchSize
	}
	return min(DefaultBatchSize, p.ContextSize)
}

// Modality aliases the runtime modality tags.
type Modality = llm.Modality

const (
	ModalityText  = llm.ModalityText
	ModalityImage = llm.ModalityImage
	ModalityAudio = llm.ModalityAudio
)

// Media is one media item referenced by a marker in the prompt. Exactly one
// payload source is set: a file path, inline bytes, base64 text, or raw PCM
// samples (audio only, with SampleRate and Channels).
type Media struct {
	Modality Modality
	Path     string
	Data     []byte
	Base64   string

	Samples    []float32
	SampleRate int
	Channels   int
}

func (m *Media) validate(i int) error {
	const op = "complete"
	switch m.Modality {
	case ModalityText, ModalityImage, ModalityAudio:
	default:
		return errorf(KindInvalidParam, op, "media %d: unknown modality %d", i, int(m.Modality))
	}
	sources := 0
	for _, set := range []bool{m.Path != "", len(m.Data) > 0, m.Base64 != "", len(m.Samples) > 0} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return errorf(KindInvalidParam, op, "media %d: exactly one payload source required, got %d", i, sources)
	}
	if m.Path != "" {
		if err := validPath(op, "media path", m.Path); err != nil {
			return err
		}
	}
	if len(m.Samples) > 0 {
		if m.Modality != ModalityAudio {
			return errorf(KindInvalidParam, op, "media %d: raw samples require audio modality", i)
		}
		if err := media.ValidatePCM(m.SampleRate, m.Channels); err != nil {
			return wrap(KindInvalidParam, op, err, "media "+strconv.Itoa(i))
		}
		for _, v := range m.Samples {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return errorf(KindInvalidParam, op, "media %d: non-finite sample", i)
			}
		}
	}
	return nil
}

// Request is one generation. It is not retained after the call.
type Request struct {
	Prompt    string
	MaxTokens int
	// Temperature 0 selects greedy decoding.
	Temperature float32
	// TopK 0 leaves top-k unset.
	TopK int
	// TopP 0 leaves top-p unset; 1 disables it.
	TopP     float32
	MinP     float32
	TypicalP float32
	// RepeatPenalty 0 leaves the penalty unset.
	RepeatPenalty float32
	// RepeatLastN 0 selects the default window, -1 the whole history.
	RepeatLastN int
	// Seed nil draws from a random stream.
	Seed *uint64

	// At most one grammar source: a registered grammar, inline GBNF text
	// (GrammarRoot defaults to "root"), or a JSON schema.
	GrammarID   GrammarID
	Grammar     string
	GrammarRoot string
	JSONSchema  string

	// Stop ends generation when the output ends with one of these strings.
	// The matched text is not returned.
	Stop []string

	Media []Media
}

func finite(f float32) bool { return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0) }

func (r *Request) validate() error {
	const op = "complete"
	switch {
	case r.Prompt == "":
		return errorf(KindInvalidParam, op, "prompt is empty")
	case len(r.Prompt) > MaxPromptBytes:
		return errorf(KindInvalidParam, op, "prompt exceeds %d bytes", MaxPromptBytes)
	case strings.IndexByte(r.Prompt, 0) >= 0:
		return errorf(KindInvalidParam, op, "prompt contains NUL")
	case r.MaxTokens < 1 || r.MaxTokens > MaxTokensLimit:
		return errorf(KindInvalidParam, op, "max tokens %d out of range [1, %d]", r.MaxTokens, MaxTokensLimit)
	}
	for name, v := range map[string]float32{
		"temperature": r.Temperature, "top_p": r.TopP, "min_p": r.MinP,
		"typical_p": r.TypicalP, "repeat_penalty": r.RepeatPenalty,
	} {
		if !finite(v) {
			return errorf(KindInvalidParam, op, "%s is not finite", name)
		}
	}
	switch {
	case r.Temperature < 0 || r.Temperature > MaxTemperature:
		return errorf(KindInvalidParam, op, "temperature %g out of range [0, %g]", r.Temperature, MaxTemperature)
	case r.TopK < 0 || r.TopK > MaxTopK:
		return errorf(KindInvalidParam, op, "top_k %d out of range [1, %d]", r.TopK, MaxTopK)
	case r.TopP < 0 || r.TopP > 1:
		return errorf(KindInvalidParam, op, "top_p %g out of range [0, 1]", r.TopP)
	case r.MinP < 0 || r.MinP > 1:
		return errorf(KindInvalidParam, op, "min_p %g out of range [0, 1]", r.MinP)
	case r.TypicalP < 0 || r.TypicalP > 1:
		return errorf(KindInvalidParam, op, "typical_p %g out of range [0, 1]", r.TypicalP)
	case r.RepeatPenalty != 0 && (r.RepeatPenalty < MinRepeatPenalty || r.RepeatPenalty > MaxRepeatPenalty):
		return errorf(KindInvalidParam, op, "repeat_penalty %g out of range [%g, %g]", r.RepeatPenalty, MinRepeatPenalty, MaxRepeatPenalty)
	case r.RepeatLastN < -1:
		return errorf(KindInvalidParam, op, "repeat_last_n %d must be >= -1", r.RepeatLastN)
	}

	sources := 0
	if r.GrammarID != 0 {
		sources++
	}
	if r.Grammar != "" {
		sources++
	}
	if r.JSONSchema != "" {
		sources++
	}
	if sources > 1 {
		return errorf(KindInvalidParam, op, "at most one of grammar id, grammar text and json schema may be set")
	}
	if r.GrammarRoot != "" && r.Grammar == "" {
		return errorf(KindInvalidParam, op, "grammar root given without grammar text")
	}

	if len(r.Stop) > MaxStopSequences {
		return errorf(KindInvalidParam, op, "at most %d stop sequences", MaxStopSequences)
	}
	for _, s := range r.Stop {
		if s == "" || len(s) > MaxStopBytes {
			return errorf(KindInvalidParam, op, "stop sequences must be 1-%d bytes", MaxStopBytes)
		}
	}
	for i := range r.Media {
		if err := r.Media[i].validate(i); err != nil {
			return err
		}
	}
	return nil
}
