package types

// Model represents a discoverable or loadable GGUF model on disk.
type Model struct {
	// Stable identifier for the model.
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
	// Human-friendly name.
	// example: TinyLlama (Q4)
	Name string `json:"name" example:"TinyLlama (Q4)"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant" example:"Q4_K_M"`
	// Optional family (e.g., llama, mistral, phi).
	// example: llama
	Family string `json:"family,omitempty" example:"llama"`
	// Multimodal projector paired with the model, if any.
	// example: /home/user/models/mmproj-llava.gguf
	Projector string `json:"projector,omitempty" example:"/home/user/models/mmproj-llava.gguf"`
}

// Adapter is a LoRA adapter file available to load onto a model.
type Adapter struct {
	// Stable identifier for the adapter.
	// example: pirate-speak
	ID string `json:"id" example:"pirate-speak"`
	// Absolute path to the adapter file on disk.
	// example: /home/user/adapters/pirate-speak.gguf
	Path string `json:"path" example:"/home/user/adapters/pirate-speak.gguf"`
}
