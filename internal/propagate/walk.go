package propagate

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// skipDirs are never descended into: VCS metadata, dependency caches and
// build output.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"bin":          true,
}

// file is one regular file eligible for propagation.
type file struct {
	name  string   // filesystem path
	rel   string   // slash-separated, relative to the root
	parts []string // rel split on "/"
	mode  os.FileMode
}

// walk enumerates every eligible regular file under the filesystem root,
// honoring skipDirs, nested .gitignore files and Options.Exclude. Symlinks
// are not followed.
func (p *Propagator) walk() ([]file, error) {
	var patterns []gitignore.Pattern
	for _, ex := range p.opts.Exclude {
		patterns = append(patterns, gitignore.ParsePattern(ex, nil))
	}
	var out []file
	err := p.walkDir("/", nil, patterns, &out)
	return out, err
}

func (p *Propagator) walkDir(dir string, parts []string, patterns []gitignore.Pattern, out *[]file) error {
	local, err := p.readIgnore(dir, parts)
	if err != nil {
		return err
	}
	patterns = append(patterns[:len(patterns):len(patterns)], local...)
	m := gitignore.NewMatcher(patterns)

	entries, err := p.fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, fi := range entries {
		name := fi.Name()
		childParts := append(parts[:len(parts):len(parts)], name)
		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			continue
		case fi.IsDir():
			if skipDirs[name] || m.Match(childParts, true) {
				continue
			}
			if err := p.walkDir(p.fs.Join(dir, name), childParts, patterns, out); err != nil {
				return err
			}
		case fi.Mode().IsRegular():
			if m.Match(childParts, false) || strings.HasPrefix(name, ".releasekit-") {
				continue
			}
			*out = append(*out, file{
				name:  p.fs.Join(dir, name),
				rel:   strings.Join(childParts, "/"),
				parts: childParts,
				mode:  fi.Mode().Perm(),
			})
		}
	}
	return nil
}

// readIgnore parses dir/.gitignore with patterns scoped to parts.
func (p *Propagator) readIgnore(dir string, parts []string) ([]gitignore.Pattern, error) {
	data, err := util.ReadFile(p.fs, p.fs.Join(dir, ".gitignore"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ps []gitignore.Pattern
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(line, parts))
	}
	return ps, sc.Err()
}
