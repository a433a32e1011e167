package stage

import (
	"context"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/propagate"
	"github.com/lucasnoah/releasekit/internal/version"
)

type propagateDocs struct{}

func (propagateDocs) Name() Name { return Propagate }

// Run rewrites version references across the working tree. Inside a release
// it reuses the hand-off's version, previous version and timestamp so a
// resumed run produces byte-identical files.
func (propagateDocs) Run(ctx context.Context, env *Env) error {
	if env.Propagator == nil {
		return errs.New(errs.Precondition, "propagate", "no propagator configured")
	}
	log := env.logger(Propagate)

	params, err := propagationParams(env)
	if err != nil {
		return err
	}
	params.Notes = collectNotes(ctx, env)

	report, err := env.Propagator.Propagate(ctx, params)
	env.Report = report
	if report != nil {
		log.Info().
			Str("version", params.Version.String()).
			Int("examined", report.FilesExamined).
			Int("changed", report.FilesChanged).
			Int("failed", len(report.Failures)).
			Msg("documentation propagated")
	}
	return err
}

func propagationParams(env *Env) (propagate.Params, error) {
	var override *version.Version
	if env.Request.Version != "" {
		v, err := version.Parse(env.Request.Version)
		if err != nil {
			return propagate.Params{}, err
		}
		override = &v
	}

	if ps := env.Handoff; ps != nil {
		if override != nil && *override != ps.NewVersion {
			return propagate.Params{}, errs.Newf(errs.InvalidInput, "propagate",
				"release %s is in progress; cannot propagate %s", ps.NewVersion, *override)
		}
		return propagate.Params{Version: ps.NewVersion, Previous: ps.PreviousVersion, Timestamp: ps.Timestamp}, nil
	}

	params := propagate.Params{Timestamp: env.now()}
	if override != nil {
		params.Version = *override
		return params, nil
	}
	v, err := env.Store.ReadCurrent()
	if err != nil {
		return propagate.Params{}, err
	}
	params.Version = v
	return params, nil
}

// collectNotes gathers changelog notes from the commits about to be
// released. Notes are best effort; any failure yields none.
func collectNotes(ctx context.Context, env *Env) []string {
	if env.Gateway == nil {
		return nil
	}
	log := env.logger(Propagate)
	branch, err := env.Gateway.CurrentBranch(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("skipping release notes")
		return nil
	}
	commits, err := env.Gateway.OutgoingCommits(ctx, branch)
	if err != nil {
		log.Debug().Err(err).Str("branch", branch).Msg("skipping release notes")
		return nil
	}
	return ReleaseNotes(commits)
}
