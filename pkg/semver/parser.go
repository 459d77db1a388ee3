// Package semver provides service reference parsing and semantic version
// compatibility rules.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// ParsedServiceRef holds the parsed components of a service reference string.
type ParsedServiceRef struct {
	// Service identifier (e.g., "adi.agent-loop.cli")
	ID string
	// Leading namespace segment (e.g., "adi")
	Namespace string
	// Remainder after the namespace (e.g., "agent-loop.cli")
	Name string
	// Version requirement if specified (e.g., "^1.2.0", "1", ""); empty means any version
	Range string
	// Raw input string
	Raw string
}

var (
	serviceIDRegex    = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-zA-Z0-9_-]+)+$`)
	namespaceRegex    = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseServiceRef parses a service reference string.
//
// Supported formats:
//   - adi.agent-loop.cli           (no version)
//   - adi.agent-loop.cli@1         (major only)
//   - adi.agent-loop.cli@1.2.0     (compatible with 1.2.0)
//   - adi.agent-loop.cli@^1.2.0    (caret range)
//   - adi.agent-loop.cli@>=1.0.0   (comparison range)
func ParseServiceRef(input string) (*ParsedServiceRef, error) {
	raw := strings.TrimSpace(input)

	id := raw
	rangeStr := ""
	if atIndex := strings.Index(raw, "@"); atIndex != -1 {
		id = raw[:atIndex]
		rangeStr = strings.TrimSpace(raw[atIndex+1:])
		if rangeStr == "" {
			return nil, fmt.Errorf("%s - empty version after @: %s", logPrefix, raw)
		}
	}

	if !ValidateServiceID(id) {
		return nil, fmt.Errorf("%s - invalid service identifier: %q", logPrefix, raw)
	}

	firstDot := strings.Index(id, ".")
	return &ParsedServiceRef{
		ID:        id,
		Namespace: id[:firstDot],
		Name:      id[firstDot+1:],
		Range:     rangeStr,
		Raw:       raw,
	}, nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is a full version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// BuildServiceRef builds a reference string from an identifier and optional range.
func BuildServiceRef(id, rangeStr string) string {
	if rangeStr != "" {
		return id + "@" + rangeStr
	}
	return id
}

// ValidateServiceID validates a dotted service identifier: a lowercase
// namespace followed by one or more segments of letters, digits, '-' or '_'.
func ValidateServiceID(id string) bool {
	return serviceIDRegex.MatchString(id)
}

// ValidateNamespace validates a namespace (lowercase, alphanumeric, hyphens).
func ValidateNamespace(ns string) bool {
	return namespaceRegex.MatchString(ns)
}
