package semver

import (
	"fmt"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const versionLogPrefix = "semver:version"

// Version is a (major, minor, patch) triple.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// NewVersion builds a Version.
func NewVersion(major, minor, patch int) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// ParseVersion parses "1.2.3", "v1.2" or "1". Prerelease and build metadata
// are accepted and ignored.
func ParseVersion(s string) (Version, error) {
	sv, err := masterminds.NewVersion(strings.TrimSpace(s))
	if err != nil {
		return Version{}, fmt.Errorf("%s - invalid version %q: %w", versionLogPrefix, s, err)
	}
	return Version{Major: int(sv.Major()), Minor: int(sv.Minor()), Patch: int(sv.Patch())}, nil
}

// MustParseVersion is ParseVersion for constants.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

// Compatible reports whether a service at version actual satisfies a caller
// that requires version required: the majors match and actual's minor.patch
// is not older than required's.
func Compatible(required, actual Version) bool {
	if required.Major != actual.Major {
		return false
	}
	if actual.Minor != required.Minor {
		return actual.Minor > required.Minor
	}
	return actual.Patch >= required.Patch
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
