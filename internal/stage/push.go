package stage

import (
	"context"

	"github.com/lucasnoah/releasekit/internal/retry"
)

type pushChanges struct{}

func (pushChanges) Name() Name { return Push }

// Run publishes the current branch, retrying transient network failures.
// The hand-off is cleared once the push has succeeded, or when there is
// nothing left to push and no uncommitted release is pending.
func (pushChanges) Run(ctx context.Context, env *Env) error {
	if err := requireGateway(env, "push"); err != nil {
		return err
	}
	log := env.logger(Push)

	branch, err := env.Gateway.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	log = log.With().Str("branch", branch).Logger()

	outgoing, err := env.Gateway.OutgoingCommits(ctx, branch)
	if err != nil {
		return err
	}
	if len(outgoing) == 0 {
		env.Skipped = "nothing to push"
		if env.Handoff != nil && !env.Handoff.HasCommit() {
			log.Info().Msg("nothing to push, release is not committed yet")
			return nil
		}
		log.Info().Msg("nothing to push")
		return clearHandoff(env)
	}

	err = retry.Do(ctx, env.Settings.Retry, "push", log, func(ctx context.Context) error {
		return env.Gateway.Push(ctx, branch)
	})
	if err != nil {
		return err
	}

	head, err := env.Gateway.HeadCommit(ctx)
	if err != nil {
		return err
	}
	if env.Settings.VerifyPush && !env.Gateway.VerifyPushed(ctx, branch, head) {
		log.Warn().Str("commit", head.Short()).Msg("push could not be verified against the remote")
	}
	log.Info().Str("commit", head.Short()).Int("commits", len(outgoing)).Msg("pushed")
	return clearHandoff(env)
}

func clearHandoff(env *Env) error {
	if err := env.Store.ClearHandoff(); err != nil {
		return err
	}
	env.Handoff = nil
	return nil
}
