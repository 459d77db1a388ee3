package semver

import (
	"fmt"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const requirementLogPrefix = "semver:requirement"

type requirementKind int

const (
	requireAny requirementKind = iota
	requireCompatible
	requireMajor
	requireConstraint
)

// Requirement is a caller's version expectation for a service. The zero
// Requirement accepts every version.
type Requirement struct {
	raw        string
	kind       requirementKind
	version    Version
	major      int
	constraint *masterminds.Constraints
}

// RequireCompatible returns a requirement that accepts versions compatible
// with v (see Compatible).
func RequireCompatible(v Version) Requirement {
	return Requirement{raw: v.String(), kind: requireCompatible, version: v}
}

// ParseRequirement parses a requirement string.
//
//   - ""          any version
//   - "1.2.0"     compatible with 1.2.0 (same major, not older)
//   - "1"         any version with major 1
//   - "^1.2", ">=1.0.0 <2.0.0", ...   a Masterminds constraint
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Requirement{}, nil
	case IsMajorOnly(s):
		return Requirement{raw: s, kind: requireMajor, major: ExtractMajorFromRange(s)}, nil
	case IsExactVersion(s):
		v, err := ParseVersion(s)
		if err != nil {
			return Requirement{}, err
		}
		return Requirement{raw: s, kind: requireCompatible, version: v}, nil
	}

	constraint, err := masterminds.NewConstraint(s)
	if err != nil {
		return Requirement{}, fmt.Errorf("%s - invalid version requirement %q: %w", requirementLogPrefix, s, err)
	}
	return Requirement{raw: s, kind: requireConstraint, constraint: constraint}, nil
}

// Allows reports whether a service at version v satisfies the requirement.
func (r Requirement) Allows(v Version) bool {
	switch r.kind {
	case requireCompatible:
		return Compatible(r.version, v)
	case requireMajor:
		return v.Major == r.major
	case requireConstraint:
		sv, err := masterminds.NewVersion(v.String())
		if err != nil {
			return false
		}
		return r.constraint.Check(sv)
	default:
		return true
	}
}

// IsAny reports whether the requirement accepts every version.
func (r Requirement) IsAny() bool {
	return r.kind == requireAny
}

func (r Requirement) String() string {
	if r.kind == requireAny {
		return "*"
	}
	return r.raw
}

// SatisfiesRange checks if a version string satisfies a requirement string.
func SatisfiesRange(version, rangeStr string) bool {
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	req, err := ParseRequirement(rangeStr)
	if err != nil {
		return false
	}
	return req.Allows(v)
}
