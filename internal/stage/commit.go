package stage

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/pipeline"
	"github.com/lucasnoah/releasekit/internal/repo"
	"github.com/lucasnoah/releasekit/internal/version"
)

type commitChanges struct{}

func (commitChanges) Name() Name { return Commit }

// Run stages every change and records the release commit. A commit the
// hand-off already recorded is reused when it is still HEAD; on a clean tree
// the recorded commit is replaced by HEAD.
func (commitChanges) Run(ctx context.Context, env *Env) error {
	if err := requireGateway(env, "commit"); err != nil {
		return err
	}
	log := env.logger(Commit)

	if ps := env.Handoff; ps.HasCommit() {
		head, err := env.Gateway.HeadCommit(ctx)
		if err == nil && string(head) == ps.CommitID {
			log.Info().Str("commit", head.Short()).Msg("release commit already recorded")
			return nil
		}
		if err == nil {
			changes, err := env.Gateway.Status(ctx)
			if err != nil {
				return err
			}
			// A clean tree after a recorded commit means the release commit
			// was rewritten, typically by a rebase; adopt the new HEAD.
			if len(changes) == 0 {
				return adoptHead(env, head, log)
			}
		}
	}

	v, prev, err := env.target()
	if err != nil {
		return err
	}
	message := env.Request.Message
	if strings.TrimSpace(message) == "" {
		message = RenderMessage(env.Settings.CommitMessage, v, prev)
	}
	if env.Settings.Conventional {
		if err := ValidateMessage(message); err != nil {
			return err
		}
	}

	if err := env.Gateway.StageAll(ctx); err != nil {
		return err
	}
	id, err := env.Gateway.Commit(ctx, message)
	if err != nil {
		if errs.Benign(err) {
			log.Info().Msg("nothing to commit")
		}
		return err
	}

	if env.Handoff != nil {
		ps, err := env.Store.UpdateHandoff(func(ps *pipeline.PipelineState) {
			ps.CommitID = string(id)
			ps.CommitMessage = message
		})
		if err != nil {
			return err
		}
		env.Handoff = ps
	}
	log.Info().Str("commit", id.Short()).Str("message", firstLine(message)).Msg("release committed")
	return nil
}

func adoptHead(env *Env, head repo.CommitID, log zerolog.Logger) error {
	previous := env.Handoff.CommitID
	ps, err := env.Store.UpdateHandoff(func(ps *pipeline.PipelineState) {
		ps.CommitID = string(head)
	})
	if err != nil {
		return err
	}
	env.Handoff = ps
	log.Info().Str("commit", head.Short()).Str("recorded", repo.CommitID(previous).Short()).Msg("release commit rewritten, using HEAD")
	return nil
}

// RenderMessage expands {{version}} and {{previous}} in a commit template.
func RenderMessage(tmpl string, v version.Version, prev *version.Version) string {
	previous := ""
	if prev != nil {
		previous = prev.String()
	}
	return strings.NewReplacer("{{version}}", v.String(), "{{previous}}", previous).Replace(tmpl)
}
