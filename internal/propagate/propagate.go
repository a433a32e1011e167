// Package propagate rewrites version and timestamp references across a
// working tree from an ordered rule table, and keeps the changelog in step
// with each release.
package propagate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lucasnoah/releasekit/internal/errs"
	"github.com/lucasnoah/releasekit/internal/version"
)

// DefaultChangelog is the changelog path relative to the tree root.
const DefaultChangelog = "CHANGELOG.md"

// Options configures a Propagator. Zero values select the defaults.
type Options struct {
	Rules     []Rule   // nil means DefaultRules()
	Changelog string   // relative to the root; "-" disables changelog maintenance
	Exclude   []string // extra gitignore-style patterns to skip
	Logger    zerolog.Logger
}

// Params are the values substituted into one propagation run.
type Params struct {
	Version   version.Version
	Previous  *version.Version // nil disables previous-version rules
	Timestamp time.Time
	Notes     []string // changelog bullets; empty yields a single generic bullet
}

// FileFailure records a file that could not be read or rewritten.
type FileFailure struct {
	Path string
	Err  error
}

// Report summarizes one propagation run. Paths are slash-separated and
// relative to the tree root.
type Report struct {
	FilesExamined int
	FilesChanged  int
	Changed       []string
	Failures      []FileFailure
}

// Propagator applies the rule table to every eligible file under a billy
// filesystem root.
type Propagator struct {
	fs   billy.Filesystem
	opts Options
	log  zerolog.Logger
}

// New returns a Propagator over fs. The tree is walked from the
// filesystem's root, so callers hand in a filesystem rooted at the project
// (osfs.New(root) or a memfs in tests).
func New(fs billy.Filesystem, opts Options) *Propagator {
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Changelog == "" {
		opts.Changelog = DefaultChangelog
	}
	return &Propagator{fs: fs, opts: opts, log: opts.Logger}
}

// Propagate rewrites every eligible file so that it reflects params. Each file is
// read once, run through all matching rules in order, and written back
// atomically only if its bytes changed, so a second run with the same Params
// changes nothing. Per-file failures do not stop the run; they are returned
// in the Report along with a PartialPropagationFailure error.
func (p *Propagator) Propagate(ctx context.Context, params Params) (*Report, error) {
	if params.Version.IsZero() {
		return nil, errs.New(errs.InvalidInput, "propagate", "target version is required")
	}
	if params.Timestamp.IsZero() {
		params.Timestamp = time.Now()
	}
	vals := values{version: params.Version.String(), timestamp: params.Timestamp}
	if params.Previous != nil {
		vals.previous = params.Previous.String()
	}

	rules := make([]*compiledRule, 0, len(p.opts.Rules))
	for _, r := range p.opts.Rules {
		c, ok, err := compile(r, vals)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidInput, "propagate", err)
		}
		if ok {
			rules = append(rules, c)
		}
	}

	files, err := p.walk()
	if err != nil {
		return nil, errs.Wrap(errs.RepositoryError, "propagate", fmt.Errorf("enumerate files: %w", err))
	}

	report := &Report{}
	changelog := p.opts.Changelog
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if changelog != "-" && f.rel == changelog {
			continue // history is never rewritten by substitution rules
		}
		var matched []*compiledRule
		for _, r := range rules {
			if r.appliesTo(f.parts) {
				matched = append(matched, r)
			}
		}
		if len(matched) == 0 {
			continue
		}
		p.rewrite(f, matched, report)
	}

	if changelog != "-" {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p.updateChangelog(changelog, params, report)
	}

	p.log.Info().
		Str("version", vals.version).
		Int("examined", report.FilesExamined).
		Int("changed", report.FilesChanged).
		Int("failed", len(report.Failures)).
		Msg("propagation complete")

	if len(report.Failures) > 0 {
		return report, errs.Newf(errs.PartialPropagationFailure, "propagate",
			"%d file(s) could not be updated, first: %s: %v",
			len(report.Failures), report.Failures[0].Path, report.Failures[0].Err)
	}
	return report, nil
}

func (p *Propagator) rewrite(f file, rules []*compiledRule, report *Report) {
	report.FilesExamined++
	orig, err := util.ReadFile(p.fs, f.name)
	if err != nil {
		p.fail(report, f.rel, fmt.Errorf("read: %w", err))
		return
	}
	content := orig
	for _, r := range rules {
		content = r.apply(content)
	}
	if bytes.Equal(content, orig) {
		return
	}
	if err := p.writeFile(f.name, content, f.mode); err != nil {
		p.fail(report, f.rel, err)
		return
	}
	p.changed(report, f.rel)
}

func (p *Propagator) fail(report *Report, rel string, err error) {
	p.log.Warn().Str("path", rel).Err(err).Msg("propagation failed for file")
	report.Failures = append(report.Failures, FileFailure{Path: rel, Err: err})
}

func (p *Propagator) changed(report *Report, rel string) {
	p.log.Debug().Str("path", rel).Msg("updated")
	report.FilesChanged++
	report.Changed = append(report.Changed, rel)
}

// writeFile replaces name with data via a temp file in the same directory and
// a rename. The temp file is created with the final permission bits since
// not every billy filesystem implements Chmod.
func (p *Propagator) writeFile(name string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(name)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmpName := p.fs.Join(dir, ".releasekit-"+uuid.NewString())
	tmp, err := p.fs.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode.Perm())
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if tmpName != "" {
			_ = p.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if s, ok := tmp.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("sync temp file: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := p.fs.Rename(tmpName, name); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	tmpName = ""
	return nil
}
