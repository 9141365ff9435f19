// Package fsplugin implements the engine's static filesystem-inspection
// plugin model: a plugin inspects one file found on a mounted volume (an
// RPM package, say) and reports metadata about it, without the core engine
// needing to know about any package-format-specific parsing. Plugins
// register themselves from their own package's init(), matching
// spec.md's Non-goals carve-out for a compiled-in (not dynamically
// loaded) plugin set.
package fsplugin

import "sync"

// Result is one plugin's findings about a single file.
type Result struct {
	Plugin   string
	Metadata map[string]string
}

// Plugin inspects a file's contents and reports structured metadata, or
// declines if the file is not in a format it understands.
type Plugin interface {
	// Name identifies the plugin, e.g. "rpminspect".
	Name() string
	// Supports reports whether data looks like this plugin's format,
	// cheaply (magic bytes/extension), without fully parsing it.
	Supports(path string, data []byte) bool
	// Inspect parses data and returns metadata. Only called after
	// Supports has returned true.
	Inspect(path string, data []byte) (map[string]string, error)
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a plugin to the static registry. Called from a plugin
// package's init(), e.g. fsplugin/rpminspect.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

// Inspect runs every registered plugin that claims to support path/data
// and collects their results. A plugin that errors still contributes a
// Result, whose Metadata holds only its error message under "error", and
// the other plugins still run.
func Inspect(path string, data []byte) []Result {
	mu.Lock()
	candidates := append([]Plugin(nil), plugins...)
	mu.Unlock()

	var results []Result
	for _, p := range candidates {
		if !p.Supports(path, data) {
			continue
		}
		meta, err := p.Inspect(path, data)
		if err != nil {
			results = append(results, Result{Plugin: p.Name(), Metadata: map[string]string{"error": err.Error()}})
			continue
		}
		results = append(results, Result{Plugin: p.Name(), Metadata: meta})
	}
	return results
}
