package stage

import (
	"context"

	"github.com/google/uuid"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/pipeline"
	"github.com/lucasnoah/releasekit/internal/version"
)

type computeVersion struct{}

func (computeVersion) Name() Name { return ComputeVersion }

// Run computes the next version and persists it. A matching release already
// in progress is resumed instead of bumping a second time.
func (computeVersion) Run(ctx context.Context, env *Env) error {
	req := env.Request
	if !req.Kind.Valid() {
		return errs.Newf(errs.InvalidInput, "compute version", "unknown bump kind %q", string(req.Kind))
	}

	if env.Handoff != nil {
		return resume(env)
	}
	log := env.logger(ComputeVersion)

	if env.Settings.RequireClean {
		if err := requireGateway(env, "compute version"); err != nil {
			return err
		}
		changes, err := env.Gateway.Status(ctx)
		if err != nil {
			return err
		}
		if len(changes) > 0 {
			return errs.Newf(errs.Precondition, "compute version",
				"working tree has %d uncommitted change(s): %s", len(changes), describeChanges(changes))
		}
	}

	current, err := env.Store.ReadCurrent()
	if err != nil {
		return err
	}
	next, err := version.Compute(current.String(), req.Kind, req.Custom)
	if err != nil {
		return err
	}
	if !current.Less(next) {
		return errs.Newf(errs.InvalidInput, "compute version",
			"new version %s must be greater than current version %s", next, current)
	}

	if env.RunID == "" {
		env.RunID = uuid.NewString()
	}
	ps := &pipeline.PipelineState{
		RunID:           env.RunID,
		NewVersion:      next,
		PreviousVersion: &current,
		BumpKind:        req.Kind,
		Timestamp:       env.now(),
	}
	if err := env.Store.SaveHandoff(ps); err != nil {
		return err
	}
	if err := env.Store.WriteCurrent(next); err != nil {
		return err
	}
	env.Handoff = ps

	log.Info().
		Str("run_id", ps.RunID).
		Str("previous", current.String()).
		Str("version", next.String()).
		Str("kind", req.Kind.String()).
		Msg("version bumped")
	return nil
}

// resume reuses the hand-off left by an interrupted run when the request
// asks for the same release, and rewrites the version record if the earlier
// run stopped before writing it.
func resume(env *Env) error {
	ps := env.Handoff
	req := env.Request
	log := env.logger(ComputeVersion)

	same := ps.BumpKind == req.Kind
	if same && req.Kind == version.Custom {
		want, err := version.Parse(req.Custom)
		if err != nil {
			return err
		}
		same = want == ps.NewVersion
	}
	if !same {
		return errs.Newf(errs.InvalidInput, "compute version",
			"release %s (%s) is already in progress; finish it or run `releasekit abort`",
			ps.NewVersion, ps.BumpKind)
	}

	if current, err := env.Store.ReadCurrent(); err != nil || current != ps.NewVersion {
		if err := env.Store.WriteCurrent(ps.NewVersion); err != nil {
			return err
		}
	}
	log.Info().Msg("resuming release in progress")
	return nil
}
