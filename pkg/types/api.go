package types

import "github.com/goccy/go-json"

// CompleteRequest represents a completion request payload.
type CompleteRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: tinyllama-q4
	Model string `json:"model,omitempty" example:"tinyllama-q4"`
	// Required prompt text. Media items are spliced at each <__media__> marker.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// If true, stream results as NDJSON token lines followed by a done line.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate. 0 selects the server default.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature; 0 is greedy.
	// example: 0.7
	Temperature float32 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float32 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Min-P sampling threshold relative to the most likely token.
	// example: 0.05
	MinP float32 `json:"min_p,omitempty" example:"0.05"`
	// Locally typical sampling mass.
	// example: 1
	TypicalP float32 `json:"typical_p,omitempty" example:"1"`
	// Repeat penalty over the last repeat_last_n tokens.
	// example: 1.1
	RepeatPenalty float32 `json:"repeat_penalty,omitempty" example:"1.1"`
	// Penalty window: 0 default, -1 whole context.
	// example: 64
	RepeatLastN int `json:"repeat_last_n,omitempty" example:"64"`
	// Optional stop sequences. The matched text is not returned.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
	// Random seed for reproducibility; omitted lets the server choose.
	// example: 42
	Seed *uint64 `json:"seed,omitempty" example:"42"`
	// Inline GBNF grammar constraining the output.
	// example: root ::= "yes" | "no"
	Grammar string `json:"grammar,omitempty" example:"root ::= \"yes\" | \"no\""`
	// Start rule for the inline grammar. Defaults to root.
	GrammarRoot string `json:"grammar_root,omitempty"`
	// ID of a grammar registered with POST /grammars.
	GrammarID uint64 `json:"grammar_id,omitempty"`
	// JSON schema the output must follow.
	JSONSchema json.RawMessage `json:"json_schema,omitempty" swaggertype:"object"`
	// Media items in marker order.
	Media []MediaInput `json:"media,omitempty"`
}

// MediaInput is one image, audio clip or text attachment.
type MediaInput struct {
	// One of image, audio, text.
	// example: image
	Type string `json:"type" example:"image"`
	// Base64 payload, optionally a data URI.
	Data string `json:"data,omitempty"`
	// Server-side file path. Only honored when the server allows local media.
	Path string `json:"path,omitempty"`
}

// Usage contains token accounting.
type Usage struct {
	// example: 12
	PromptTokens int `json:"prompt_tokens" example:"12"`
	// example: 64
	CompletionTokens int `json:"completion_tokens" example:"64"`
	// example: 76
	TotalTokens int `json:"total_tokens" example:"76"`
}

// CompleteResponse is returned by POST /complete when stream is false. It is
// also the shape of the final NDJSON line (with Done set) when streaming.
type CompleteResponse struct {
	// example: 2b0f8e7c-4a59-4c55-9a3e-0d3c1f6f6b1e
	ID string `json:"id" example:"2b0f8e7c-4a59-4c55-9a3e-0d3c1f6f6b1e"`
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Generated text. Empty on the final line of a stream.
	Content string `json:"content,omitempty"`
	// One of eog, length, stop.
	// example: eog
	FinishReason string `json:"finish_reason" example:"eog"`
	Usage        Usage  `json:"usage"`
	// example: 850
	DurationMS int64 `json:"duration_ms" example:"850"`
	Done       bool  `json:"done,omitempty"`
}

// TokenLine is one streamed NDJSON line.
type TokenLine struct {
	Token string `json:"token"`
}

// TokenizeRequest is the body of POST /tokenize.
type TokenizeRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
	// Add BOS/EOS as the model requires. Defaults to true.
	AddSpecial *bool `json:"add_special,omitempty"`
}

// TokenizeResponse lists token ids.
type TokenizeResponse struct {
	Tokens []int32 `json:"tokens"`
}

// DetokenizeRequest is the body of POST /detokenize.
type DetokenizeRequest struct {
	Model  string  `json:"model,omitempty"`
	Tokens []int32 `json:"tokens"`
}

// DetokenizeResponse carries the rendered text.
type DetokenizeResponse struct {
	Text string `json:"text"`
}

// EmbeddingsRequest is the body of POST /embeddings.
type EmbeddingsRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

// EmbeddingsResponse carries a pooled embedding.
type EmbeddingsResponse struct {
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding"`
}

// AdapterStatus describes an adapter loaded onto a model instance.
type AdapterStatus struct {
	// example: 4294967296
	ID      uint64  `json:"id" example:"4294967296"`
	Path    string  `json:"path"`
	Scale   float32 `json:"scale"`
	Applied bool    `json:"applied"`
}

// GrammarStatus describes a grammar registered on a model instance.
type GrammarStatus struct {
	ID   uint64 `json:"id"`
	Root string `json:"root"`
	Size int    `json:"size_bytes"`
}

// ModelInfoResponse is returned by GET /models/{id}/info.
type ModelInfoResponse struct {
	ID           string          `json:"id"`
	Architecture string          `json:"architecture"`
	Description  string          `json:"description"`
	VocabSize    int             `json:"n_vocab"`
	TrainContext int             `json:"n_ctx_train"`
	Embedding    int             `json:"n_embd"`
	Layers       int             `json:"n_layer"`
	SizeBytes    uint64          `json:"size_bytes"`
	Vision       bool            `json:"vision"`
	Audio        bool            `json:"audio"`
	Adapters     []AdapterStatus `json:"adapters"`
	Grammars     []GrammarStatus `json:"grammars"`
}

// AdapterLoadRequest is the body of POST /adapters.
type AdapterLoadRequest struct {
	Model string `json:"model,omitempty"`
	// Registry id of the adapter.
	// example: pirate-speak
	Adapter string `json:"adapter" example:"pirate-speak"`
	// Apply immediately at this scale when set.
	Scale *float32 `json:"scale,omitempty"`
}

// AdapterApplyRequest is the body of POST /adapters/{id}/apply.
type AdapterApplyRequest struct {
	Model string `json:"model,omitempty"`
	// example: 0.8
	Scale float32 `json:"scale" example:"0.8"`
}

// GrammarCreateRequest is the body of POST /grammars. Exactly one of Grammar
// and JSONSchema is set.
type GrammarCreateRequest struct {
	Model      string          `json:"model,omitempty"`
	Grammar    string          `json:"grammar,omitempty"`
	Root       string          `json:"root,omitempty"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty" swaggertype:"object"`
}

// IDResponse returns the id of a created handle.
type IDResponse struct {
	ID uint64 `json:"id"`
}

// OpResponse returns the id of an async operation.
type OpResponse struct {
	// example: 7d4f7a02-54b4-4b1e-b8a4-0b9b7c1d5e33
	OpID string `json:"op_id" example:"7d4f7a02-54b4-4b1e-b8a4-0b9b7c1d5e33"`
}

// OpStatus describes an async load.
type OpStatus struct {
	ID      string `json:"id"`
	ModelID string `json:"model_id"`
	// One of running, done, failed.
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"started_unix"`
	FinishedAt int64  `json:"finished_unix,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
	// LoRA adapters available to load.
	Adapters []Adapter `json:"adapters"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code. On a mid-stream error line it is the engine status
	// code instead (-1 unknown, -2 invalid-param, ...).
	// example: 400
	Code int `json:"code" example:"400"`
	// Engine error kind when the failure came from the engine.
	// example: invalid-param
	Kind string `json:"kind,omitempty" example:"invalid-param"`
}

// InstanceStatus summarizes a loaded instance for /status.
type InstanceStatus struct {
	// ID of the model this instance serves.
	// example: tinyllama-q4
	ModelID string `json:"model_id" example:"tinyllama-q4"`
	// Current lifecycle state of the instance (loading, ready, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last time this instance served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Estimated VRAM usage in MB.
	// example: 1200
	EstVRAMMB int `json:"est_vram_mb" example:"1200"`
	// Current queue length for incoming requests.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Number of in-flight requests currently being processed.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests allowed before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Whether a multimodal projector is attached.
	Multimodal bool `json:"multimodal"`
	// Loaded adapters and registered grammars.
	Adapters int `json:"adapters"`
	Grammars int `json:"grammars"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Loaded/managed instances.
	Instances []InstanceStatus `json:"instances"`
	// VRAM budget in MB across all instances.
	// example: 8192
	BudgetMB int `json:"budget_mb" example:"8192"`
	// Estimated used VRAM in MB.
	// example: 2048
	UsedMB int `json:"used_est_mb" example:"2048"`
	// Reserved VRAM margin in MB.
	// example: 512
	MarginMB int `json:"margin_mb" example:"512"`
	// Runtime backend name.
	// example: llama.cpp
	Backend string `json:"backend" example:"llama.cpp"`
	// Last error observed by the manager (if any).
	Error string `json:"error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of evictions performed to free VRAM.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Total number of model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Overall manager state (e.g., loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Number of instances currently warming up (loading).
	// example: 1
	WarmupsInProgress int `json:"warmups_in_progress" example:"1"`
	// Number of instances currently draining (unload in progress).
	// example: 1
	DrainingCount int `json:"draining_count" example:"1"`
}
