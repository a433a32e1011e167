package propagate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Rule is one declarative substitution. FilePattern is a gitignore-style
// glob ("*.md" matches at any depth, "/README.md" only at the root).
// MatchPattern and Replacement are templates: {{version}}, {{previous}},
// {{timestamp}} and {{date}} are expanded before use, with values
// regex-quoted inside MatchPattern. Replacement may also use $1-style
// submatch references.
type Rule struct {
	Name         string
	FilePattern  string
	MatchPattern string
	Replacement  string
}

const semverRe = `\d+\.\d+\.\d+`

// DefaultRules is the fixed, ordered rule table. Code-version rules run
// before prose-version rules, and every version rule runs before the
// timestamp rules, so a general pattern never shadows a more specific one.
func DefaultRules() []Rule {
	return []Rule{
		// code versions
		{
			Name:         "go-version-var",
			FilePattern:  "*.go",
			MatchPattern: `(\bVersion\s*=\s*")` + semverRe + `(")`,
			Replacement:  `${1}{{version}}${2}`,
		},
		{
			Name:         "package-json-version",
			FilePattern:  "package.json",
			MatchPattern: `(?m)^(\s*"version"\s*:\s*")` + semverRe + `(")`,
			Replacement:  `${1}{{version}}${2}`,
		},
		{
			Name:         "cargo-version",
			FilePattern:  "Cargo.toml",
			MatchPattern: `(?m)^(version\s*=\s*")` + semverRe + `(")`,
			Replacement:  `${1}{{version}}${2}`,
		},
		{
			Name:         "pyproject-version",
			FilePattern:  "pyproject.toml",
			MatchPattern: `(?m)^(version\s*=\s*")` + semverRe + `(")`,
			Replacement:  `${1}{{version}}${2}`,
		},
		{
			Name:         "python-dunder-version",
			FilePattern:  "*.py",
			MatchPattern: `(?m)^(__version__\s*=\s*["'])` + semverRe + `(["'])`,
			Replacement:  `${1}{{version}}${2}`,
		},
		{
			Name:         "helm-chart-version",
			FilePattern:  "Chart.yaml",
			MatchPattern: `(?m)^((?:appVersion|version):\s*"?)` + semverRe,
			Replacement:  `${1}{{version}}`,
		},
		// prose versions
		{
			Name:         "markdown-version-label",
			FilePattern:  "*.md",
			MatchPattern: `(?im)^(\**\s*(?:current\s+)?version\**:\**\s*v?)` + semverRe,
			Replacement:  `${1}{{version}}`,
		},
		{
			Name:         "markdown-previous-version",
			FilePattern:  "*.md",
			MatchPattern: `(^|[^0-9A-Za-z.])(v?){{previous}}\b`,
			Replacement:  `${1}${2}{{version}}`,
		},
		// timestamps
		{
			Name:         "markdown-last-updated",
			FilePattern:  "*.md",
			MatchPattern: `(?im)^(\**last\s+updated\**:\**\s*).*$`,
			Replacement:  `${1}{{date}}`,
		},
		{
			Name:         "markdown-frontmatter-lastmod",
			FilePattern:  "*.md",
			MatchPattern: `(?m)^(lastmod:\s*).*$`,
			Replacement:  `${1}{{timestamp}}`,
		},
		{
			Name:         "go-build-date",
			FilePattern:  "*.go",
			MatchPattern: `(\bBuildDate\s*=\s*")[^"]*(")`,
			Replacement:  `${1}{{timestamp}}${2}`,
		},
	}
}

// values holds the template inputs for one propagation run.
type values struct {
	version   string
	previous  string // empty when unknown
	timestamp time.Time
}

func (v values) replacer(quote bool) *strings.Replacer {
	q := func(s string) string { return s }
	if quote {
		q = regexp.QuoteMeta
	}
	return strings.NewReplacer(
		"{{version}}", q(v.version),
		"{{previous}}", q(v.previous),
		"{{timestamp}}", q(v.timestamp.UTC().Format(time.RFC3339)),
		"{{date}}", q(v.timestamp.UTC().Format("2006-01-02")),
	)
}

// compiledRule is a Rule with its templates expanded for one run.
type compiledRule struct {
	Rule
	file        gitignore.Pattern
	re          *regexp.Regexp
	replacement string
}

// compile expands rule templates for vals. It returns ok=false for rules that
// cannot apply in this run, such as previous-version rules when no previous
// version is known.
func compile(r Rule, vals values) (*compiledRule, bool, error) {
	if strings.Contains(r.MatchPattern, "{{previous}}") && vals.previous == "" {
		return nil, false, nil
	}
	re, err := regexp.Compile(vals.replacer(true).Replace(r.MatchPattern))
	if err != nil {
		return nil, false, fmt.Errorf("rule %s: compile match pattern: %w", r.Name, err)
	}
	return &compiledRule{
		Rule:        r,
		file:        gitignore.ParsePattern(r.FilePattern, nil),
		re:          re,
		replacement: vals.replacer(false).Replace(r.Replacement),
	}, true, nil
}

// appliesTo reports whether the rule's file pattern selects rel.
func (c *compiledRule) appliesTo(rel []string) bool {
	return c.file.Match(rel, false) == gitignore.Exclude
}

// apply rewrites every match in content.
func (c *compiledRule) apply(content []byte) []byte {
	return c.re.ReplaceAll(content, []byte(c.replacement))
}
