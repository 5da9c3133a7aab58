// Package telemetry holds the process-wide logger and metrics registry
// the rest of the core takes as constructor arguments, so tests can inject
// a discard logger and a fresh registry instead of reaching into globals.
package telemetry

import (
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Metrics are the prometheus collectors the stores and pipeline update.
// Verdicts are never logged at info level (they may carry personal health
// data); these counters carry only the error kind and store name.
type Metrics struct {
	Registry *prometheus.Registry

	PipelineStageFailures *prometheus.CounterVec
	Verdicts              *prometheus.CounterVec
	StoreRefreshes        *prometheus.CounterVec
}

// NewMetrics builds a fresh registry and registers the core's collectors.
// Each test gets its own registry (init-on-construction, per §9).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		PipelineStageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dgcverify_pipeline_stage_failures_total",
			Help: "Count of verification pipeline failures by stage error kind.",
		}, []string{"stage"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dgcverify_verdicts_total",
			Help: "Count of verification verdicts by result.",
		}, []string{"result"}),
		StoreRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dgcverify_store_refresh_total",
			Help: "Count of signed-bundle store refresh attempts by store and result.",
		}, []string{"store", "result"}),
	}

	reg.MustRegister(m.PipelineStageFailures, m.Verdicts, m.StoreRefreshes)
	return m
}

// NewLogger builds a zerolog.Logger writing to w at the given level.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Discard is a logger that drops everything, for tests that don't care.
func Discard() zerolog.Logger {
	return zerolog.New(io.Discard)
}
