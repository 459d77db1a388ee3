package semver

import "testing"

func TestParseRequirement_Allows(t *testing.T) {
	tests := []struct {
		name        string
		requirement string
		version     Version
		want        bool
	}{
		{"any", "", NewVersion(9, 9, 9), true},
		{"compatible newer minor", "1.0.0", NewVersion(1, 2, 0), true},
		{"compatible different major", "2.0.0", NewVersion(1, 2, 0), false},
		{"major only match", "1", NewVersion(1, 7, 3), true},
		{"major only mismatch", "1", NewVersion(2, 0, 0), false},
		{"caret", "^1.2.0", NewVersion(1, 3, 0), true},
		{"caret below", "^1.2.0", NewVersion(1, 1, 0), false},
		{"comparison range", ">=1.0.0 <2.0.0", NewVersion(1, 9, 9), true},
		{"comparison range excluded", ">=1.0.0 <2.0.0", NewVersion(2, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequirement(tt.requirement)
			if err != nil {
				t.Fatalf("semver:requirement_test - unexpected error: %v", err)
			}
			if got := req.Allows(tt.version); got != tt.want {
				t.Errorf("semver:requirement_test - %q.Allows(%v) = %v, want %v", tt.requirement, tt.version, got, tt.want)
			}
		})
	}
}

func TestParseRequirement_Invalid(t *testing.T) {
	if _, err := ParseRequirement("not a range"); err == nil {
		t.Error("semver:requirement_test - expected error for invalid requirement")
	}
}

func TestRequireCompatible(t *testing.T) {
	req := RequireCompatible(NewVersion(1, 0, 0))
	if !req.Allows(NewVersion(1, 2, 0)) {
		t.Error("semver:requirement_test - 1.2.0 should satisfy 1.0.0")
	}
	if req.Allows(NewVersion(2, 0, 0)) {
		t.Error("semver:requirement_test - 2.0.0 should not satisfy 1.0.0")
	}
	if req.String() != "1.0.0" {
		t.Errorf("semver:requirement_test - String = %q", req.String())
	}
}

func TestRequirement_ZeroValue(t *testing.T) {
	var req Requirement
	if !req.IsAny() || req.String() != "*" {
		t.Errorf("semver:requirement_test - zero requirement should be any, got %q", req.String())
	}
	if !req.Allows(NewVersion(0, 0, 1)) {
		t.Error("semver:requirement_test - zero requirement should allow every version")
	}
}

func TestSatisfiesRange(t *testing.T) {
	tests := []struct {
		version  string
		rangeStr string
		want     bool
	}{
		{"1.2.0", "1.0.0", true},
		{"1.2.0", "2.0.0", false},
		{"3.4.2", "^3.2.0", true},
		{"3.4.2", "3", true},
		{"bad", "3", false},
		{"3.4.2", "bad range", false},
	}
	for _, tt := range tests {
		if got := SatisfiesRange(tt.version, tt.rangeStr); got != tt.want {
			t.Errorf("SatisfiesRange(%q, %q) = %v, want %v", tt.version, tt.rangeStr, got, tt.want)
		}
	}
}
