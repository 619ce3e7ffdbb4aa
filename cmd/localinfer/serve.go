package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"localinfer/internal/config"
	"localinfer/internal/httpapi"
	"localinfer/internal/llm"
	"localinfer/internal/llm/llama"
	"localinfer/internal/manager"
	"localinfer/internal/registry"
	"localinfer/pkg/types"
)

const (
	defaultAddr      = ":8080"
	defaultModelsDir = "~/models/llm"
	shutdownTimeout  = 10 * time.Second
)

// newBackend is swapped in tests.
var newBackend = llama.New

type serveFlags struct {
	configPath      string
	addr            string
	modelsDir       string
	adaptersDir     string
	statePath       string
	budgetMB        int
	marginMB        int
	defaultModel    string
	ctxSize         int
	threads         int
	gpuLayers       int
	maxTokens       int
	allowLocalMedia bool
	corsOrigins     string
}

func newServeCmd(root *rootOptions) *cobra.Command { return newServeCmdWith(root, &serveFlags{}) }

// newServeCmdWith binds the serve flags to f.
func newServeCmdWith(root *rootOptions, f *serveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP inference server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
				root.logLevel = cfg.LogLevel
			}
			log, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", os.Getenv("LOCALINFER_CONFIG"), "Config file (.yaml, .json or .toml)")
	fl.StringVar(&f.addr, "addr", envOr("LOCALINFER_ADDR", defaultAddr), "HTTP listen address, e.g. :8080")
	fl.StringVar(&f.modelsDir, "models-dir", defaultModelsDir, "Directory to scan for *.gguf model files")
	fl.StringVar(&f.adaptersDir, "adapters-dir", "", "Directory to scan for LoRA adapter files")
	fl.StringVar(&f.statePath, "state-path", "", "File that persists resident models across restarts")
	fl.IntVar(&f.budgetMB, "vram-budget-mb", 0, "VRAM budget in MB for all instances (0=unlimited)")
	fl.IntVar(&f.marginMB, "vram-margin-mb", 0, "Reserved VRAM margin in MB to keep free")
	fl.StringVar(&f.defaultModel, "default-model", "", "Default model id when request omits model")
	fl.IntVar(&f.ctxSize, "ctx-size", 0, "Context size in tokens (0=4096)")
	fl.IntVar(&f.threads, "threads", 0, "Decode threads (0=number of CPUs)")
	fl.IntVar(&f.gpuLayers, "gpu-layers", 0, "Layers to offload to the GPU")
	fl.IntVar(&f.maxTokens, "max-tokens", 0, "Default max_tokens for requests that omit it")
	fl.BoolVar(&f.allowLocalMedia, "allow-local-media", false, "Allow media items that reference server-side paths")
	fl.StringVar(&f.corsOrigins, "cors-origins", os.Getenv("LOCALINFER_CORS_ORIGINS"), "Comma-separated allowed CORS origins; enables CORS")
	return cmd
}

// resolve loads the config file, if any, and lays explicitly set flags over it.
func (f *serveFlags) resolve(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		c, err := config.Load(f.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if set("addr") || cfg.Addr == "" {
		cfg.Addr = f.addr
	}
	if set("models-dir") || cfg.ModelsDir == "" {
		cfg.ModelsDir = f.modelsDir
	}
	if set("adapters-dir") {
		cfg.AdaptersDir = f.adaptersDir
	}
	if set("state-path") {
		cfg.StatePath = f.statePath
	}
	if set("vram-budget-mb") {
		cfg.VRAMBudgetMB = f.budgetMB
	}
	if set("vram-margin-mb") {
		cfg.VRAMMarginMB = f.marginMB
	}
	if set("default-model") {
		cfg.DefaultModel = f.defaultModel
	}
	if set("ctx-size") {
		cfg.CtxSize = f.ctxSize
	}
	if set("threads") {
		cfg.Threads = f.threads
	}
	if set("gpu-layers") {
		cfg.GPULayers = f.gpuLayers
	}
	if set("max-tokens") {
		cfg.MaxTokens = f.maxTokens
	}
	if set("allow-local-media") {
		cfg.AllowLocalMedia = f.allowLocalMedia
	}
	if origins := splitCSV(f.corsOrigins); len(origins) > 0 {
		cfg.CORS.Enabled = true
		cfg.CORS.Origins = origins
	}
	return cfg, nil
}

func managerConfig(cfg config.Config, backend llm.Backend, log *zerolog.Logger) (manager.ManagerConfig, error) {
	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return manager.ManagerConfig{}, fmt.Errorf("load models: %w", err)
	}
	var adapters []types.Adapter
	if cfg.AdaptersDir != "" {
		if adapters, err = registry.LoadAdapters(cfg.AdaptersDir); err != nil {
			return manager.ManagerConfig{}, fmt.Errorf("load adapters: %w", err)
		}
	}
	return manager.ManagerConfig{
		Registry:      reg,
		Adapters:      adapters,
		BudgetMB:      cfg.VRAMBudgetMB,
		MarginMB:      cfg.VRAMMarginMB,
		DefaultModel:  cfg.DefaultModel,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait.Std(),
		DrainTimeout:  cfg.DrainTimeout.Std(),
		Backend:       backend,
		Session: manager.SessionDefaults{
			Threads:     cfg.Threads,
			ContextSize: cfg.CtxSize,
			BatchSize:   cfg.BatchSize,
			GPULayers:   cfg.GPULayers,
			UseMmap:     !cfg.NoMmap,
		},
		DefaultMaxTokens: cfg.MaxTokens,
		AllowLocalMedia:  cfg.AllowLocalMedia,
		StatePath:        cfg.StatePath,
		Logger:           log,
		Publisher:        manager.LogPublisher{Logger: log.With().Str("component", "events").Logger()},
	}, nil
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend()
	if err != nil {
		if !errors.Is(err, llm.ErrBackendUnavailable) {
			return err
		}
		// Serve anyway: loads report 503 and /readyz stays unready.
		log.Warn().Msg("built without the inference runtime; rebuild with -tags llama")
		backend = nil
	}
	mcfg, err := managerConfig(cfg, backend, &log)
	if err != nil {
		return err
	}
	mgr := manager.NewWithConfig(mcfg)
	if rep := mgr.SanityCheck(); rep.Error != "" {
		log.Warn().Str("backend", rep.Backend).Msg(rep.Error)
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	if cfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	}
	if cfg.InferTimeoutSeconds > 0 {
		httpapi.SetRequestTimeout(time.Duration(cfg.InferTimeoutSeconds) * time.Second)
	}
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Int("models", len(mcfg.Registry)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	if backend != nil && cfg.StatePath != "" {
		go func() {
			loaded, err := mgr.WarmStart(ctx)
			if err != nil {
				log.Warn().Err(err).Strs("loaded", loaded).Msg("warm start stopped early")
				return
			}
			if len(loaded) > 0 {
				log.Info().Strs("models", loaded).Msg("warm start done")
			}
		}()
	}

	select {
	case err := <-errc:
		_ = mgr.Close()
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	return mgr.Close()
}
