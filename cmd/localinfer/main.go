package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{
		logLevel:  envOr("LOCALINFER_LOG_LEVEL", "info"),
		logFormat: envOr("LOCALINFER_LOG_FORMAT", "console"),
	}
	root := &cobra.Command{
		Use:           "localinfer",
		Short:         "Local LLM inference server and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", opts.logFormat, "Log format: console|json")

	root.AddCommand(
		newServeCmd(opts),
		newCompleteCmd(opts),
		newModelsCmd(opts),
		newInfoCmd(opts),
	)
	return root
}

// logger builds the process logger. Logs always go to stderr so that
// completions written to stdout stay clean.
func (o *rootOptions) logger(w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(o.logLevel)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", o.logLevel)
	}
	switch o.logFormat {
	case "json":
	case "console", "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format %q", o.logFormat)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
