package module

import (
	"fmt"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
)

const loaderLogPrefix = "module:loader"

// Catalog maps module names to entries linked into the host binary.
type Catalog map[string]EntryFunc

// Names returns the catalog's module names, sorted.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the entry for ref. A ref that looks like a file path
// (contains a separator or ends in .so) is opened as a Go plugin; anything
// else is looked up in the catalog.
func (c Catalog) Resolve(ref string) (EntryFunc, error) {
	if IsPluginPath(ref) {
		return Open(ref)
	}
	entry, ok := c[ref]
	if !ok {
		return nil, fmt.Errorf("%s - unknown module %q (known: %s)", loaderLogPrefix, ref, strings.Join(c.Names(), ", "))
	}
	return entry, nil
}

// IsPluginPath reports whether ref names a plugin file rather than a
// catalog entry.
func IsPluginPath(ref string) bool {
	return strings.HasSuffix(ref, ".so") || strings.ContainsRune(ref, filepath.Separator) || strings.Contains(ref, "/")
}

// Open loads a module built with -buildmode=plugin and returns its entry.
func Open(path string) (EntryFunc, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open %s: %w", loaderLogPrefix, path, err)
	}
	sym, err := p.Lookup(EntrySymbol)
	if err != nil {
		return nil, fmt.Errorf("%s - %s does not export %s: %w", loaderLogPrefix, path, EntrySymbol, err)
	}
	return entryFromSymbol(path, sym)
}

func entryFromSymbol(path string, sym interface{}) (EntryFunc, error) {
	switch fn := sym.(type) {
	case func() Module:
		return fn, nil
	case EntryFunc:
		return fn, nil
	case *EntryFunc:
		if fn == nil || *fn == nil {
			return nil, fmt.Errorf("%s - %s exports a nil %s", loaderLogPrefix, path, EntrySymbol)
		}
		return *fn, nil
	case *func() Module:
		if fn == nil || *fn == nil {
			return nil, fmt.Errorf("%s - %s exports a nil %s", loaderLogPrefix, path, EntrySymbol)
		}
		return *fn, nil
	default:
		return nil, fmt.Errorf("%s - %s exports %s with unexpected type %T", loaderLogPrefix, path, EntrySymbol, sym)
	}
}
