// Package llm defines the runtime surface the engine drives: model loading,
// decode contexts, the vocabulary, grammar automata and the multimodal encoder.
// Keep this surface small; hot math stays in the runtime.
package llm

// Token is a vocabulary id.
type Token = int32

// TokenData is one sampling candidate.
type TokenData struct {
	ID    Token
	Logit float32
}

// ModelOptions configures model loading.
type ModelOptions struct {
	// GPULayers is the number of layers to offload; 0 keeps the model on CPU.
	GPULayers int
	UseMmap   bool
}

// ContextOptions configures a decode context.
type ContextOptions struct {
	ContextSize int
	BatchSize   int
	Threads     int
}

// ProjectorOptions configures the multimodal encoder.
type ProjectorOptions struct {
	GPU     bool
	Threads int
}

// ModelInfo is static model metadata.
type ModelInfo struct {
	NVocab       int
	NCtxTrain    int
	NEmbd        int
	NLayer       int
	Architecture string
	Description  string
	SizeBytes    uint64
}

// Backend loads models.
type Backend interface {
	Name() string
	LoadModel(path string, opts ModelOptions) (Model, error)
}

// Model is a loaded set of weights plus its vocabulary.
type Model interface {
	Vocab() Vocab
	Info() ModelInfo
	NewContext(opts ContextOptions) (Context, error)
	LoadAdapter(path string) (Adapter, error)
	NewGrammar(text, root string) (Grammar, error)
	NewProjector(path string, opts ProjectorOptions) (Projector, error)
	Close() error
}

// Vocab is the tokenizer side of a model.
type Vocab interface {
	NTokens() int
	Tokenize(text string, addSpecial, parseSpecial bool) ([]Token, error)
	TokenToPiece(t Token) string
	IsEOG(t Token) bool
}

// Context holds sequence position and KV state. It is not safe for
// concurrent use.
type Context interface {
	// Decode appends tokens at the current position.
	Decode(tokens []Token) error
	// DecodeEmbeddings appends pre-computed embeddings at the current position.
	DecodeEmbeddings(e Embeddings) error
	// Logits returns the logits of the last decoded position. The slice is
	// owned by the context and valid until the next decode.
	Logits() []float32
	// Embed runs tokens through the model in embedding mode and returns the
	// pooled vector. The sequence state is cleared before and after.
	Embed(tokens []Token) ([]float32, error)
	SetAdapter(a Adapter, scale float32) error
	RemoveAdapter(a Adapter) error
	ClearAdapters()
	// ClearMemory drops all sequence state and rewinds the position to 0.
	ClearMemory()
	Close() error
}

// Adapter is a loaded LoRA adapter.
type Adapter interface {
	Close() error
}

// Grammar is a stateful grammar automaton over a model's vocabulary.
type Grammar interface {
	// Apply sets the logit of every candidate the automaton cannot accept
	// next to -Inf.
	Apply(cands []TokenData)
	Accept(t Token)
	Reset()
	Close() error
}

// Modality tags media inputs.
type Modality int

const (
	ModalityText Modality = iota
	ModalityImage
	ModalityAudio
)

func (m Modality) String() string {
	switch m {
	case ModalityText:
		return "text"
	case ModalityImage:
		return "image"
	case ModalityAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Bitmap is an encoder-side media buffer.
type Bitmap interface {
	Close()
}

// Embeddings is a row-major [NTokens x NEmbd] matrix.
type Embeddings struct {
	Data    []float32
	NTokens int
	NEmbd   int
}

// Chunk is a span of either tokens or one encoded media item.
type Chunk struct {
	Tokens []Token
	Embd   *Embeddings
}

// Len returns the number of positions the chunk occupies.
func (c Chunk) Len() int {
	if c.Embd != nil {
		return c.Embd.NTokens
	}
	return len(c.Tokens)
}

// Projector is the multimodal encoder attached to a model.
type Projector interface {
	Supports(m Modality) bool
	// Marker is the prompt placeholder for one media item.
	Marker() string
	// AudioSampleRate is the rate NewAudio expects; 0 when audio is unsupported.
	AudioSampleRate() int
	NewImage(rgb []byte, width, height int) (Bitmap, error)
	NewAudio(samples []float32) (Bitmap, error)
	// Encode returns the spans for one media item in order. Encoders may
	// wrap the embedding span in text tokens.
	Encode(b Bitmap) ([]Chunk, error)
	Close() error
}
