package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// CORS configures the optional CORS middleware.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	AdaptersDir  string `json:"adapters_dir" yaml:"adapters_dir" toml:"adapters_dir"`
	StatePath    string `json:"state_path" yaml:"state_path" toml:"state_path"`
	VRAMBudgetMB int    `json:"vram_budget_mb" yaml:"vram_budget_mb" toml:"vram_budget_mb"`
	VRAMMarginMB int    `json:"vram_margin_mb" yaml:"vram_margin_mb" toml:"vram_margin_mb"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	Threads   int  `json:"threads" yaml:"threads" toml:"threads"`
	CtxSize   int  `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	BatchSize int  `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	GPULayers int  `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	NoMmap    bool `json:"no_mmap" yaml:"no_mmap" toml:"no_mmap"`
	// AllowLocalMedia lets requests name media files on the server.
	AllowLocalMedia bool `json:"allow_local_media" yaml:"allow_local_media" toml:"allow_local_media"`
	MaxTokens       int  `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`

	MaxQueueDepth int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait       Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	DrainTimeout  Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout"`

	MaxBodyBytes        int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	InferTimeoutSeconds int64  `json:"infer_timeout_seconds" yaml:"infer_timeout_seconds" toml:"infer_timeout_seconds"`
	LogLevel            string `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORS                CORS   `json:"cors" yaml:"cors" toml:"cors"`
}

// Duration accepts Go duration strings ("30s", "2m") or integer seconds.
type Duration time.Duration

func (d *Duration) set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalText(b []byte) error { return d.set(string(b)) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs int64
	if err := json.Unmarshal(b, &secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %w", err)
	}
	return d.set(s)
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var secs int64
	if err := n.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return d.set(n.Value)
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
