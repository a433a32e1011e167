// Package version implements the three-component release version and the
// pure bump calculation.
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/lucasnoah/releasekit/internal/errs"
)

// Version is a MAJOR.MINOR.PATCH release version.
type Version struct {
	Major uint64
	Minor uint64
	Patch uint64
}

// String returns the canonical "M.N.P" form.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or +1 comparing v to o component by component.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpUint(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpUint(v.Minor, o.Minor)
	case v.Patch != o.Patch:
		return cmpUint(v.Patch, o.Patch)
	default:
		return 0
	}
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// IsZero reports whether v is 0.0.0.
func (v Version) IsZero() bool { return v == Version{} }

// MarshalText implements encoding.TextMarshaler so versions serialise as "M.N.P".
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func cmpUint(a, b uint64) int {
	if a < b {
		return -1
	}
	return 1
}

// Parse parses exactly three dot-separated non-negative integers. Prefixes
// ("v1.2.3"), pre-release and build suffixes, and leading zeros are rejected.
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, errs.New(errs.InvalidInput, "parse version", "empty version")
	}
	sv, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, &errs.Error{Kind: errs.InvalidInput, Op: "parse version", Msg: fmt.Sprintf("%q is not MAJOR.MINOR.PATCH", s), Err: err}
	}
	if sv.Prerelease() != "" || sv.Metadata() != "" {
		return Version{}, errs.Newf(errs.InvalidInput, "parse version", "%q carries a pre-release or build suffix", s)
	}
	return Version{Major: sv.Major(), Minor: sv.Minor(), Patch: sv.Patch()}, nil
}

// MustParse is Parse for literals known to be valid; it panics otherwise.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// BumpKind selects how a version advances.
type BumpKind string

const (
	Patch  BumpKind = "patch"
	Minor  BumpKind = "minor"
	Major  BumpKind = "major"
	Custom BumpKind = "custom"
)

// Kinds lists every recognised bump kind in CLI order.
var Kinds = []BumpKind{Patch, Minor, Major, Custom}

// ParseKind parses a bump kind case-insensitively.
func ParseKind(s string) (BumpKind, error) {
	k := BumpKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", errs.Newf(errs.InvalidInput, "parse bump kind", "unknown bump kind %q (want patch, minor, major or custom)", s)
	}
	return k, nil
}

// Valid reports whether k is one of the four recognised kinds.
func (k BumpKind) Valid() bool {
	switch k {
	case Patch, Minor, Major, Custom:
		return true
	}
	return false
}

func (k BumpKind) String() string { return string(k) }

// Bump computes the version that follows current under kind. custom is
// required for Custom and ignored otherwise.
func Bump(current Version, kind BumpKind, custom *Version) (Version, error) {
	switch kind {
	case Patch:
		return Version{Major: current.Major, Minor: current.Minor, Patch: current.Patch + 1}, nil
	case Minor:
		return Version{Major: current.Major, Minor: current.Minor + 1}, nil
	case Major:
		return Version{Major: current.Major + 1}, nil
	case Custom:
		if custom == nil {
			return Version{}, errs.New(errs.InvalidInput, "compute version", "custom bump requires an explicit version")
		}
		return *custom, nil
	default:
		return Version{}, errs.Newf(errs.InvalidInput, "compute version", "unknown bump kind %q", string(kind))
	}
}

// Compute is the string form of Bump: it parses current and, for Custom, the
// explicit target, then applies the bump.
func Compute(current string, kind BumpKind, custom string) (Version, error) {
	cur, err := Parse(current)
	if err != nil {
		return Version{}, err
	}
	if !kind.Valid() {
		return Version{}, errs.Newf(errs.InvalidInput, "compute version", "unknown bump kind %q", string(kind))
	}
	var target *Version
	if kind == Custom {
		if strings.TrimSpace(custom) == "" {
			return Version{}, errs.New(errs.InvalidInput, "compute version", "custom bump requires an explicit version")
		}
		v, err := Parse(custom)
		if err != nil {
			return Version{}, err
		}
		target = &v
	}
	return Bump(cur, kind, target)
}
