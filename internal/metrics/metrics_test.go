package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue returns the value of the counter (or gauge) sample of family
// name whose labels include every pair in labels.
func counterValue(t *testing.T, reg *prom.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestPrometheusStageAndRun(t *testing.T) {
	p := NewPrometheus(nil)

	p.ObserveStage("compute_version", OutcomeSucceeded, 10*time.Millisecond)
	p.ObserveStage("push", OutcomeFailed, 2*time.Second)
	p.ObserveStage("push", OutcomeSucceeded, time.Second)
	p.ObserveStage("push", OutcomeSucceeded, time.Second)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p.ObserveRun(OutcomeSucceeded, at)
	p.ObserveRun(OutcomeFailed, at.Add(time.Hour))
	p.AddFilesChanged(7)
	p.AddFilesChanged(0)

	reg := p.Registry()
	assert.Equal(t, 2.0, counterValue(t, reg, "releasekit_stage_runs_total", map[string]string{"stage": "push", "outcome": "succeeded"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "releasekit_stage_runs_total", map[string]string{"stage": "push", "outcome": "failed"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "releasekit_runs_total", map[string]string{"outcome": "failed"}))
	assert.Equal(t, 7.0, counterValue(t, reg, "releasekit_files_changed_total", nil))
	assert.Equal(t, float64(at.Unix()), counterValue(t, reg, "releasekit_last_success_timestamp_seconds", nil),
		"a failed run must not move the last success time")
}

func TestWriteTextfile(t *testing.T) {
	p := NewPrometheus(prom.NewRegistry())
	p.ObserveStage("commit", OutcomeSkipped, time.Millisecond)

	path := filepath.Join(t.TempDir(), "textfile", "releasekit.prom")
	require.NoError(t, p.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, `releasekit_stage_runs_total{outcome="skipped",stage="commit"} 1`), out)
	assert.Contains(t, out, "# TYPE releasekit_stage_duration_seconds histogram")
}

func TestNoopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Noop{}
	r.ObserveStage("push", OutcomeSucceeded, time.Second)
	r.ObserveRun(OutcomeSucceeded, time.Now())
	r.AddFilesChanged(3)
}
