package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"localinfer/internal/manager"
	"localinfer/internal/registry"
	"localinfer/pkg/types"
)

func newModelsCmd(root *rootOptions) *cobra.Command {
	var (
		modelsDir   string
		adaptersDir string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models and adapters found on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := registry.LoadDir(modelsDir)
			if err != nil {
				return err
			}
			var adapters []types.Adapter
			if adaptersDir != "" {
				if adapters, err = registry.LoadAdapters(adaptersDir); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, types.ModelsResponse{Models: models, Adapters: adapters})
			}
			return printModels(out, models, adapters)
		},
	}
	cmd.Flags().StringVar(&modelsDir, "models-dir", defaultModelsDir, "Directory to scan for *.gguf model files")
	cmd.Flags().StringVar(&adaptersDir, "adapters-dir", "", "Directory to scan for LoRA adapter files")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printModels(w io.Writer, models []types.Model, adapters []types.Adapter) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQUANT\tPROJECTOR\tPATH")
	for _, m := range models {
		proj := "-"
		if m.Projector != "" {
			proj = "yes"
		}
		quant := m.Quant
		if quant == "" {
			quant = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, quant, proj, m.Path)
	}
	if len(adapters) > 0 {
		fmt.Fprintln(tw, "\nADAPTER\t\t\tPATH")
		for _, a := range adapters {
			fmt.Fprintf(tw, "%s\t\t\t%s\n", a.ID, a.Path)
		}
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func newInfoCmd(root *rootOptions) *cobra.Command {
	var (
		modelsDir string
		projector string
	)
	cmd := &cobra.Command{
		Use:   "info <model>",
		Short: "Load a model and print its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			mdl, err := resolveModel(args[0], modelsDir, projector)
			if err != nil {
				return err
			}
			backend, err := newBackend()
			if err != nil {
				return err
			}
			mgr := manager.NewWithConfig(manager.ManagerConfig{
				Registry:     []types.Model{mdl},
				DefaultModel: mdl.ID,
				Backend:      backend,
				Session:      manager.SessionDefaults{UseMmap: true},
				Logger:       &log,
			})
			defer func() { _ = mgr.Close() }()
			info, err := mgr.ModelInfo(cmd.Context(), mdl.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().StringVar(&modelsDir, "models-dir", defaultModelsDir, "Directory to resolve model ids against")
	cmd.Flags().StringVar(&projector, "mmproj", "", "Multimodal projector file")
	return cmd
}
