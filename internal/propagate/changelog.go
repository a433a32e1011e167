package propagate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/lucasnoah/releasekit/internal/version"
)

// updateChangelog inserts a section for params.Version unless the changelog
// already has a level-2 heading naming it. A missing changelog is created.
func (p *Propagator) updateChangelog(rel string, params Params, report *Report) {
	name := p.fs.Join("/", rel)
	report.FilesExamined++

	mode := os.FileMode(0o644)
	orig, err := util.ReadFile(p.fs, name)
	switch {
	case errors.Is(err, os.ErrNotExist):
		orig = nil
	case err != nil:
		p.fail(report, rel, fmt.Errorf("read: %w", err))
		return
	default:
		if fi, err := p.fs.Stat(name); err == nil {
			mode = fi.Mode().Perm()
		}
	}

	updated, changed := InsertRelease(orig, params)
	if !changed {
		return
	}
	if err := p.writeFile(name, updated, mode); err != nil {
		p.fail(report, rel, err)
		return
	}
	p.changed(report, rel)
}

// InsertRelease returns doc with a release section for params.Version, and
// whether anything changed. The section goes directly above the first
// released level-2 heading (newest first, below any "Unreleased" section) or
// at the end of the document.
func InsertRelease(doc []byte, params Params) ([]byte, bool) {
	v := params.Version
	headings := releaseHeadings(doc)
	for _, h := range headings {
		if mentionsVersion(h.text, v) {
			return doc, false
		}
	}

	at := -1
	for _, h := range headings {
		if !strings.Contains(strings.ToLower(h.text), "unreleased") {
			at = h.lineStart
			break
		}
	}

	section := renderSection(params)
	var buf bytes.Buffer
	switch {
	case len(bytes.TrimSpace(doc)) == 0:
		buf.WriteString("# Changelog\n\n")
		buf.WriteString(section)
	case at >= 0:
		buf.Write(doc[:at])
		buf.WriteString(section)
		buf.WriteString("\n")
		buf.Write(doc[at:])
	default:
		buf.Write(doc)
		if !bytes.HasSuffix(doc, []byte("\n")) {
			buf.WriteString("\n")
		}
		if !bytes.HasSuffix(doc, []byte("\n\n")) {
			buf.WriteString("\n")
		}
		buf.WriteString(section)
	}
	return buf.Bytes(), true
}

func renderSection(params Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## [%s] - %s\n\n", params.Version, params.Timestamp.UTC().Format("2006-01-02"))
	b.WriteString("### What's Changed\n\n")
	notes := params.Notes
	if len(notes) == 0 {
		notes = []string{"Release " + params.Version.String()}
	}
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(n))
	}
	return b.String()
}

type heading struct {
	text      string
	lineStart int
}

// releaseHeadings returns every level-2 heading in doc in document order.
func releaseHeadings(doc []byte) []heading {
	if len(doc) == 0 {
		return nil
	}
	root := goldmark.New().Parser().Parse(text.NewReader(doc))
	var out []heading
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Level == 2 && h.Lines().Len() > 0 {
			var sb strings.Builder
			for i := 0; i < h.Lines().Len(); i++ {
				seg := h.Lines().At(i)
				sb.Write(seg.Value(doc))
			}
			start := h.Lines().At(0).Start
			for start > 0 && doc[start-1] != '\n' {
				start--
			}
			out = append(out, heading{text: sb.String(), lineStart: start})
		}
		return ast.WalkSkipChildren, nil
	})
	return out
}

// mentionsVersion reports whether s names v as a whole version, so "1.5.0"
// does not match "11.5.0" or "1.5.01".
func mentionsVersion(s string, v version.Version) bool {
	re := regexp.MustCompile(`(^|[^0-9.])` + regexp.QuoteMeta(v.String()) + `($|[^0-9])`)
	return re.MatchString(s)
}
