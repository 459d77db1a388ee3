// Package bootstrap loads the host manifest: which modules to load and the
// service aliases callers may use.
package bootstrap

import "sort"

// ModuleEntry names one module to load, either from the built-in catalog by
// Name or from a shared object by Path.
type ModuleEntry struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Ref returns the catalog name or the path.
func (e ModuleEntry) Ref() string {
	if e.Path != "" {
		return e.Path
	}
	return e.Name
}

// Manifest is the root host manifest.
type Manifest struct {
	Name        string        `json:"name" yaml:"name"`
	Version     string        `json:"version" yaml:"version"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Modules     []ModuleEntry `json:"modules" yaml:"modules"`
	// Aliases map a short name to a target "service" or "service@requirement".
	Aliases map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	// RequiredServices must be registered once all modules have started.
	RequiredServices []string            `json:"requiredServices,omitempty" yaml:"requiredServices,omitempty"`
	ChangeEvents     ChangeEventSubjects `json:"changeEventSubjects" yaml:"changeEventSubjects"`
}

// ChangeEventSubjects defines event subject patterns.
type ChangeEventSubjects struct {
	Global  string `json:"global" yaml:"global"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

// ResolvedManifest provides fast lookup over a validated manifest.
type ResolvedManifest struct {
	name         string
	version      string
	modules      []ModuleEntry
	aliases      map[string]string
	required     []string
	changeEvents ChangeEventSubjects
}

// Modules returns the enabled modules in manifest order.
func (rm *ResolvedManifest) Modules() []ModuleEntry {
	return append([]ModuleEntry(nil), rm.modules...)
}

// ResolveAlias returns the alias target, or ref unchanged when it is not an alias.
func (rm *ResolvedManifest) ResolveAlias(ref string) string {
	if target, ok := rm.aliases[ref]; ok {
		return target
	}
	return ref
}

// Aliases returns the alias names sorted.
func (rm *ResolvedManifest) Aliases() []string {
	out := make([]string, 0, len(rm.aliases))
	for alias := range rm.aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// RequiredServices returns the service identifiers that must be present.
func (rm *ResolvedManifest) RequiredServices() []string {
	return append([]string(nil), rm.required...)
}

// GlobalChangeSubject returns the global change event subject.
func (rm *ResolvedManifest) GlobalChangeSubject() string {
	return rm.changeEvents.Global
}

// Name returns the manifest name.
func (rm *ResolvedManifest) Name() string {
	return rm.name
}

// Version returns the manifest version.
func (rm *ResolvedManifest) Version() string {
	return rm.version
}
