package bootstrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/morezero/plugin-host/pkg/commsutil"
	"github.com/morezero/plugin-host/pkg/semver"
)

const logPrefix = "bootstrap:loader"

// defaultPaths are tried after any explicit path.
var defaultPaths = []string{"config/manifest.yaml", "config/manifest.json", "manifest.yaml", "manifest.json"}

// LoadManifest loads the manifest from the first readable path: explicit
// paths first, then the defaults. A file that exists but does not parse or
// validate is an error. With no file at all the default manifest is used.
func LoadManifest(paths ...string) (*Manifest, error) {
	all := make([]string, 0, len(paths)+len(defaultPaths))
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	all = append(all, defaultPaths...)

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Warn(fmt.Sprintf("%s - Cannot read manifest %s: %v", logPrefix, p, err))
			}
			continue
		}

		m, err := ParseManifest(data, filepath.Ext(p))
		if err != nil {
			return nil, fmt.Errorf("%s - manifest %s: %w", logPrefix, p, err)
		}
		slog.Info(fmt.Sprintf("%s - Loaded manifest from %s", logPrefix, p))
		return m, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default manifest", logPrefix))
	return GetDefaultManifest(), nil
}

// ParseManifest decodes JSON for a ".json" extension and YAML otherwise, then
// validates the result.
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s - invalid JSON: %w", logPrefix, err)
		}
	default:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s - invalid YAML: %w", logPrefix, err)
		}
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every module names exactly one of name or path, that
// no module appears twice and that aliases have targets and do not chain.
func Validate(m *Manifest) error {
	var errs []error
	seen := make(map[string]bool, len(m.Modules))
	for idx, e := range m.Modules {
		if (e.Name == "") == (e.Path == "") {
			errs = append(errs, fmt.Errorf("module %d: exactly one of name or path is required", idx))
			continue
		}
		if seen[e.Ref()] {
			errs = append(errs, fmt.Errorf("module %d: %s listed twice", idx, e.Ref()))
		}
		seen[e.Ref()] = true
	}
	for alias, target := range m.Aliases {
		if alias == "" || strings.TrimSpace(target) == "" {
			errs = append(errs, fmt.Errorf("alias %q: empty name or target", alias))
			continue
		}
		base := target
		if at := strings.IndexByte(base, '@'); at >= 0 {
			base = base[:at]
		}
		if _, chained := m.Aliases[base]; chained {
			errs = append(errs, fmt.Errorf("alias %q: target %q is itself an alias", alias, target))
		}
		if _, err := semver.ParseServiceRef(target); err != nil {
			errs = append(errs, fmt.Errorf("alias %q: %w", alias, err))
		}
	}
	for _, id := range m.RequiredServices {
		if ref, err := semver.ParseServiceRef(id); err != nil || ref.Range != "" {
			errs = append(errs, fmt.Errorf("required service %q: not a service identifier", id))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s - invalid manifest: %w", logPrefix, errors.Join(errs...))
	}
	return nil
}

// GetDefaultManifest returns the built-in manifest: the agent loop module and
// short aliases for its services.
func GetDefaultManifest() *Manifest {
	return &Manifest{
		Name:        "plugin-host",
		Version:     "1.0.0",
		Description: "Default plugin host manifest",
		Modules: []ModuleEntry{
			{Name: "adi.agent-loop"},
		},
		Aliases: map[string]string{
			"agent":           "adi.agent-loop.cli@^1.0.0",
			"agent.tools":     "adi.agent-loop.tools@^1.0.0",
			"agent.resources": "adi.agent-loop.resources@^1.0.0",
		},
		RequiredServices: []string{"adi.agent-loop.cli"},
		ChangeEvents: ChangeEventSubjects{
			Global:  commsutil.SubjectChangeEvent,
			Pattern: commsutil.SubjectChangeEvent + ".{module}.{service}",
		},
	}
}

// CreateResolvedManifest builds a ResolvedManifest. Disabled modules are dropped.
func CreateResolvedManifest(m *Manifest) *ResolvedManifest {
	var modules []ModuleEntry
	for _, e := range m.Modules {
		if !e.Disabled {
			modules = append(modules, e)
		}
	}

	aliases := make(map[string]string, len(m.Aliases))
	for alias, target := range m.Aliases {
		aliases[alias] = target
	}

	return &ResolvedManifest{
		name:         m.Name,
		version:      m.Version,
		modules:      modules,
		aliases:      aliases,
		required:     append([]string(nil), m.RequiredServices...),
		changeEvents: m.ChangeEvents,
	}
}

// MergeManifests merges override into a copy of base. Override modules
// replace base modules with the same reference and are otherwise appended;
// aliases and change subjects in override win. Neither input is modified.
func MergeManifests(base, override *Manifest) *Manifest {
	merged := *base

	merged.Modules = append([]ModuleEntry(nil), base.Modules...)
	index := make(map[string]int, len(merged.Modules))
	for idx, e := range merged.Modules {
		index[e.Ref()] = idx
	}
	for _, e := range override.Modules {
		if idx, ok := index[e.Ref()]; ok {
			merged.Modules[idx] = e
			continue
		}
		index[e.Ref()] = len(merged.Modules)
		merged.Modules = append(merged.Modules, e)
	}

	merged.Aliases = make(map[string]string, len(base.Aliases)+len(override.Aliases))
	for alias, target := range base.Aliases {
		merged.Aliases[alias] = target
	}
	for alias, target := range override.Aliases {
		merged.Aliases[alias] = target
	}

	merged.RequiredServices = append([]string(nil), base.RequiredServices...)
	for _, id := range override.RequiredServices {
		if !containsString(merged.RequiredServices, id) {
			merged.RequiredServices = append(merged.RequiredServices, id)
		}
	}

	if override.ChangeEvents.Global != "" {
		merged.ChangeEvents.Global = override.ChangeEvents.Global
	}
	if override.ChangeEvents.Pattern != "" {
		merged.ChangeEvents.Pattern = override.ChangeEvents.Pattern
	}
	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}

	return &merged
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
