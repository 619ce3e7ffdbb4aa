package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localinfer",
			Subsystem: "engine",
			Name:      "generations_total",
			Help:      "Generations by outcome (eog, length, stop, or the error kind)",
		},
		[]string{"outcome"},
	)

	promptTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "localinfer",
			Subsystem: "engine",
			Name:      "prompt_tokens_total",
			Help:      "Prompt positions evaluated, including media embeddings",
		},
	)

	generatedTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "localinfer",
			Subsystem: "engine",
			Name:      "generated_tokens_total",
			Help:      "Tokens sampled and emitted",
		},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "localinfer",
			Subsystem: "engine",
			Name:      "generation_duration_seconds",
			Help:      "Wall time of a generation from validation to the last token",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	liveHandles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "localinfer",
			Subsystem: "engine",
			Name:      "live_handles",
			Help:      "Registered auxiliary handles across sessions",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal, promptTokensTotal, generatedTokensTotal, generationDuration, liveHandles)
}
