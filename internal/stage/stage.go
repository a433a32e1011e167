// Package stage implements the four release stages. Each stage reads and
// updates the hand-off record through Env, so a stage run on its own in a
// later process continues where an earlier run stopped.
package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/pipeline"
	"github.com/lucasnoah/releasekit/internal/propagate"
	"github.com/lucasnoah/releasekit/internal/repo"
	"github.com/lucasnoah/releasekit/internal/retry"
	"github.com/lucasnoah/releasekit/internal/version"
)

// Name identifies a stage.
type Name string

const (
	ComputeVersion Name = "compute_version"
	Propagate      Name = "propagate"
	Commit         Name = "commit"
	Push           Name = "push"
)

// Order is the fixed execution order of a full release.
var Order = []Name{ComputeVersion, Propagate, Commit, Push}

// Stage is one step of the release.
type Stage interface {
	Name() Name
	Run(ctx context.Context, env *Env) error
}

// All returns one instance of every stage in execution order.
func All() []Stage {
	return []Stage{computeVersion{}, propagateDocs{}, commitChanges{}, pushChanges{}}
}

// Request carries the operator's input for a run.
type Request struct {
	Kind   version.BumpKind
	Custom string // explicit target for a custom bump
	// Version overrides the version propagated when no release is in progress.
	Version string
	// Message overrides the rendered commit message.
	Message string
}

// Settings are the configured knobs the stages consult.
type Settings struct {
	RequireClean  bool
	CommitMessage string // template; {{version}} and {{previous}} are expanded
	Conventional  bool
	Retry         retry.Policy
	VerifyPush    bool
}

// Env is the shared context of a run.
type Env struct {
	Store      *pipeline.Store
	Gateway    repo.Gateway
	Propagator *propagate.Propagator
	Settings   Settings
	Request    Request
	Logger     zerolog.Logger
	Clock      func() time.Time
	// RunID ties journal events and the hand-off of one release together.
	// ComputeVersion generates one when it is empty.
	RunID string

	// Handoff is the release in progress, nil when there is none.
	Handoff *pipeline.PipelineState
	// Report is filled in by the propagate stage.
	Report *propagate.Report
	// Skipped explains why the last stage had nothing to do.
	Skipped string
}

// LoadHandoff refreshes Handoff from the store.
func (e *Env) LoadHandoff() error {
	ps, err := e.Store.LoadHandoff()
	if err != nil {
		return err
	}
	e.Handoff = ps
	if ps != nil {
		e.RunID = ps.RunID
	}
	return nil
}

func (e *Env) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

// target returns the version a release-in-progress is heading to, or the
// current version record when none is in progress.
func (e *Env) target() (version.Version, *version.Version, error) {
	if e.Handoff != nil {
		return e.Handoff.NewVersion, e.Handoff.PreviousVersion, nil
	}
	v, err := e.Store.ReadCurrent()
	if err != nil {
		return version.Version{}, nil, err
	}
	return v, nil, nil
}

func (e *Env) logger(name Name) zerolog.Logger {
	ctx := e.Logger.With().Str("stage", string(name))
	if e.Handoff != nil {
		ctx = ctx.Str("run_id", e.Handoff.RunID).Str("version", e.Handoff.NewVersion.String())
	} else if e.RunID != "" {
		ctx = ctx.Str("run_id", e.RunID)
	}
	return ctx.Logger()
}

func requireGateway(env *Env, op string) error {
	if env.Gateway == nil {
		return errs.New(errs.Precondition, op, "no repository gateway configured")
	}
	return nil
}

// describeChanges summarises a status listing for error messages.
func describeChanges(changes []repo.FileChange) string {
	const shown = 3
	s := ""
	for i, c := range changes {
		if i == shown {
			s += fmt.Sprintf(" and %d more", len(changes)-shown)
			break
		}
		if i > 0 {
			s += ", "
		}
		s += c.Path
	}
	return s
}
