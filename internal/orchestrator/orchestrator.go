// Package orchestrator drives the release stages in order and halts on the
// first real failure. Every stage transition lands in the journal and the
// metrics.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/journal"
	"github.com/lucasnoah/releasekit/internal/metrics"
	"github.com/lucasnoah/releasekit/internal/pipeline"
	"github.com/lucasnoah/releasekit/internal/stage"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Journal records stage transitions. *journal.DB implements it.
type Journal interface {
	Record(ctx context.Context, e journal.Event) error
}

// StageError attributes a failure to the stage that produced it.
type StageError struct {
	Stage stage.Name
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is the terminal state of a run.
type Result struct {
	Status       string                  `json:"status"`
	NothingToDo  bool                    `json:"nothing_to_do,omitempty"`
	Message      string                  `json:"message,omitempty"`
	RunID        string                  `json:"run_id,omitempty"`
	Version      string                  `json:"version,omitempty"`
	FailedStage  stage.Name              `json:"failed_stage,omitempty"`
	Err          error                   `json:"-"`
	State        *pipeline.PipelineState `json:"state,omitempty"`
	FilesChanged int                     `json:"files_changed,omitempty"`
}

// Orchestrator composes the release stages.
type Orchestrator struct {
	env     *stage.Env
	stages  map[stage.Name]stage.Stage
	journal Journal
	metrics metrics.Recorder
}

// New creates an Orchestrator over env. stages is usually stage.All(); a nil
// journal or recorder disables that sink.
func New(env *stage.Env, stages []stage.Stage, j Journal, m metrics.Recorder) *Orchestrator {
	byName := make(map[stage.Name]stage.Stage, len(stages))
	for _, s := range stages {
		byName[s.Name()] = s
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Orchestrator{env: env, stages: byName, journal: j, metrics: m}
}

// Preflight verifies that every stage of a release is registered.
func (o *Orchestrator) Preflight() error {
	for _, name := range stage.Order {
		if _, ok := o.stages[name]; !ok {
			return errs.Newf(errs.Precondition, "preflight", "stage %s is not registered", name)
		}
	}
	return nil
}

// Run executes a full release. The returned error is reserved for problems
// that prevent the run from starting; stage failures are reported in Result.
func (o *Orchestrator) Run(ctx context.Context, req stage.Request) (*Result, error) {
	if err := o.Preflight(); err != nil {
		return nil, err
	}
	if err := o.begin(req); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, name := range stage.Order {
		err := o.runStage(ctx, o.stages[name], res)
		switch {
		case err == nil:
			continue
		case errs.Benign(err) && o.env.Handoff.HasCommit():
			// The release commit exists; it still has to be pushed.
			res.NothingToDo, res.Message = false, ""
			continue
		case errs.Benign(err):
			if cerr := o.env.Store.ClearHandoff(); cerr != nil {
				return nil, cerr
			}
			o.env.Handoff = nil
			return o.finish(res), nil
		default:
			return o.fail(res, name, err), nil
		}
	}
	o.env.Logger.Info().Str("run_id", res.RunID).Str("version", res.Version).Msg("release complete")
	return o.finish(res), nil
}

// RunStage executes a single stage on its own, resuming from the persisted
// hand-off. A benign outcome such as nothing to commit is a success.
func (o *Orchestrator) RunStage(ctx context.Context, name stage.Name, req stage.Request) (*Result, error) {
	s, ok := o.stages[name]
	if !ok {
		return nil, errs.Newf(errs.Precondition, "run stage", "stage %s is not registered", name)
	}
	if err := o.begin(req); err != nil {
		return nil, err
	}

	res := &Result{}
	if err := o.runStage(ctx, s, res); err != nil && !errs.Benign(err) {
		return o.fail(res, name, err), nil
	}
	return o.finish(res), nil
}

func (o *Orchestrator) begin(req stage.Request) error {
	o.env.Request = req
	o.env.Skipped = ""
	o.env.Report = nil
	o.env.RunID = ""
	if err := o.env.LoadHandoff(); err != nil {
		return err
	}
	if o.env.RunID == "" {
		o.env.RunID = uuid.NewString()
	}
	return nil
}

// runStage runs s and records the transition.
func (o *Orchestrator) runStage(ctx context.Context, s stage.Stage, res *Result) error {
	name := string(s.Name())
	res.RunID = o.env.RunID
	if o.env.Handoff != nil {
		res.Version = o.env.Handoff.NewVersion.String()
	}
	o.record(ctx, res, name, journal.Started, "")

	start := o.now()
	err := s.Run(ctx, o.env)
	elapsed := o.now().Sub(start)

	if o.env.Handoff != nil {
		res.Version = o.env.Handoff.NewVersion.String()
	}
	if s.Name() == stage.Propagate && o.env.Report != nil {
		res.FilesChanged = o.env.Report.FilesChanged
		o.metrics.AddFilesChanged(o.env.Report.FilesChanged)
	}

	switch {
	case err == nil && o.env.Skipped == "":
		o.record(ctx, res, name, journal.Succeeded, "")
		o.metrics.ObserveStage(name, metrics.OutcomeSucceeded, elapsed)
	case err == nil:
		res.NothingToDo = true
		res.Message = o.env.Skipped
		o.record(ctx, res, name, journal.Skipped, o.env.Skipped)
		o.metrics.ObserveStage(name, metrics.OutcomeSkipped, elapsed)
	case errs.Benign(err):
		res.NothingToDo = true
		res.Message = err.Error()
		o.record(ctx, res, name, journal.Skipped, err.Error())
		o.metrics.ObserveStage(name, metrics.OutcomeSkipped, elapsed)
	default:
		o.record(ctx, res, name, journal.Failed, err.Error())
		o.metrics.ObserveStage(name, metrics.OutcomeFailed, elapsed)
	}
	return err
}

func (o *Orchestrator) finish(res *Result) *Result {
	res.Status = StatusSucceeded
	res.State = o.env.Handoff
	outcome := metrics.OutcomeSucceeded
	if res.NothingToDo {
		outcome = metrics.OutcomeSkipped
	}
	o.metrics.ObserveRun(outcome, o.now())
	return res
}

func (o *Orchestrator) fail(res *Result, name stage.Name, err error) *Result {
	res.Status = StatusFailed
	res.FailedStage = name
	res.Err = &StageError{Stage: name, Err: err}
	res.State = o.env.Handoff
	o.metrics.ObserveRun(metrics.OutcomeFailed, o.now())
	o.env.Logger.Error().Err(err).Str("stage", string(name)).Str("run_id", res.RunID).Msg("release halted")
	return res
}

// record writes a journal event. Journal failures are logged, never fatal.
func (o *Orchestrator) record(ctx context.Context, res *Result, name, event, detail string) {
	if o.journal == nil {
		return
	}
	e := journal.Event{RunID: res.RunID, Stage: name, Event: event, Version: res.Version, Detail: detail, CreatedAt: o.now()}
	if err := o.journal.Record(ctx, e); err != nil {
		o.env.Logger.Warn().Err(err).Str("stage", name).Msg("journal write failed")
	}
}

func (o *Orchestrator) now() time.Time {
	if o.env.Clock != nil {
		return o.env.Clock()
	}
	return time.Now()
}
