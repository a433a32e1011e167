// Package metrics records release run metrics and exports them in the
// Prometheus text format for a node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Outcome labels a stage or run result.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Recorder receives observations from the orchestrator.
type Recorder interface {
	ObserveStage(stage string, outcome Outcome, d time.Duration)
	ObserveRun(outcome Outcome, at time.Time)
	AddFilesChanged(n int)
}

// Noop discards every observation.
type Noop struct{}

func (Noop) ObserveStage(string, Outcome, time.Duration) {}
func (Noop) ObserveRun(Outcome, time.Time)               {}
func (Noop) AddFilesChanged(int)                         {}

// Prometheus implements Recorder on a dedicated registry.
type Prometheus struct {
	reg           *prom.Registry
	stageRuns     *prom.CounterVec
	stageDuration *prom.HistogramVec
	runs          *prom.CounterVec
	lastSuccess   prom.Gauge
	filesChanged  prom.Counter
}

// NewPrometheus registers the release metrics on reg, or on a fresh registry
// when reg is nil.
func NewPrometheus(reg *prom.Registry) *Prometheus {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	p := &Prometheus{
		reg: reg,
		stageRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "releasekit",
			Name:      "stage_runs_total",
			Help:      "Stage executions by outcome",
		}, []string{"stage", "outcome"}),
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "releasekit",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual release stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		runs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "releasekit",
			Name:      "runs_total",
			Help:      "Release runs by final outcome",
		}, []string{"outcome"}),
		lastSuccess: prom.NewGauge(prom.GaugeOpts{
			Namespace: "releasekit",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful release run",
		}),
		filesChanged: prom.NewCounter(prom.CounterOpts{
			Namespace: "releasekit",
			Name:      "files_changed_total",
			Help:      "Files rewritten by propagation",
		}),
	}
	reg.MustRegister(p.stageRuns, p.stageDuration, p.runs, p.lastSuccess, p.filesChanged)
	return p
}

// Registry returns the registry the metrics live on.
func (p *Prometheus) Registry() *prom.Registry { return p.reg }

func (p *Prometheus) ObserveStage(stage string, outcome Outcome, d time.Duration) {
	p.stageRuns.WithLabelValues(stage, string(outcome)).Inc()
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *Prometheus) ObserveRun(outcome Outcome, at time.Time) {
	p.runs.WithLabelValues(string(outcome)).Inc()
	if outcome != OutcomeFailed {
		p.lastSuccess.Set(float64(at.Unix()))
	}
}

func (p *Prometheus) AddFilesChanged(n int) {
	if n > 0 {
		p.filesChanged.Add(float64(n))
	}
}

// WriteTextfile writes the current metrics to path atomically.
func (p *Prometheus) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
