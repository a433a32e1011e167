package stage

import (
	"strings"

	"github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/repo"
)

// noteTypes are the conventional commit types that show up in release notes.
var noteTypes = map[string]bool{
	"feat":   true,
	"fix":    true,
	"perf":   true,
	"revert": true,
}

func parseConventional(message string) (*conventionalcommits.ConventionalCommit, error) {
	m := parser.NewMachine(parser.WithTypes(conventionalcommits.TypesConventional))
	msg, err := m.Parse([]byte(strings.TrimSpace(message)))
	if err != nil {
		return nil, err
	}
	cc, ok := msg.(*conventionalcommits.ConventionalCommit)
	if !ok {
		return nil, errs.New(errs.InvalidInput, "parse commit message", "not a conventional commit")
	}
	return cc, nil
}

// ValidateMessage reports whether message is a well-formed conventional commit.
func ValidateMessage(message string) error {
	if _, err := parseConventional(message); err != nil {
		return errs.Newf(errs.InvalidInput, "validate commit message", "%q is not a conventional commit: %v", firstLine(message), err)
	}
	return nil
}

// ReleaseNotes turns outgoing commits (newest first) into changelog bullets,
// oldest first. Conventional commits contribute only user-facing types and
// breaking changes; other commits contribute their subject.
func ReleaseNotes(commits []repo.CommitSummary) []string {
	var notes []string
	for i := len(commits) - 1; i >= 0; i-- {
		c := commits[i]
		msg := c.Message
		if msg == "" {
			msg = c.Subject
		}
		cc, err := parseConventional(msg)
		if err != nil {
			if s := strings.TrimSpace(c.Subject); s != "" {
				notes = append(notes, s)
			}
			continue
		}
		breaking := cc.IsBreakingChange()
		if !noteTypes[cc.Type] && !breaking {
			continue
		}
		note := cc.Description
		if cc.Scope != nil && *cc.Scope != "" {
			note = "**" + *cc.Scope + ":** " + note
		}
		if breaking {
			note = "**BREAKING** " + note
		}
		notes = append(notes, note)
	}
	return notes
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
