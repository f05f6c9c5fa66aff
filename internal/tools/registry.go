// Package tools maps tool names to invocation adapters. The engine treats
// every external tool as an opaque argv; the registry only decides what that
// argv is. Unknown tool references are rejected at validation time.
package tools

import (
	"fmt"
	"sort"
)

// builtin adapters for the tools the documented workflows invoke. DAG files
// can override any of these with a tools: entry of the same name.
var builtin = map[string][]string{
	"docker":        {"docker"},
	"kubectl":       {"kubectl"},
	"helm":          {"helm"},
	"trivy":         {"trivy"},
	"sonar-scanner": {"sonar-scanner"},
}

// Registry maps tool names to base argv templates.
type Registry struct {
	tools map[string][]string
}

// NewRegistry creates a registry preloaded with the builtin adapters.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string][]string, len(builtin))}
	for name, argv := range builtin {
		r.tools[name] = argv
	}
	return r
}

// Register adds or overrides a tool adapter.
func (r *Registry) Register(name string, argv []string) error {
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if len(argv) == 0 {
		return fmt.Errorf("tool %q: argv must not be empty", name)
	}
	r.tools[name] = append([]string{}, argv...)
	return nil
}

// Resolve expands a tool reference into a full argv. The step's args replace
// a "{}" placeholder in the registered argv, or are appended when the
// template has none.
func (r *Registry) Resolve(name string, args []string) ([]string, error) {
	base, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	argv := make([]string, 0, len(base)+len(args))
	placed := false
	for _, a := range base {
		if a == "{}" && !placed {
			argv = append(argv, args...)
			placed = true
			continue
		}
		argv = append(argv, a)
	}
	if !placed {
		argv = append(argv, args...)
	}
	return argv, nil
}

// Known returns the set of registered tool names, for DAG validation.
func (r *Registry) Known() map[string]bool {
	known := make(map[string]bool, len(r.tools))
	for name := range r.tools {
		known[name] = true
	}
	return known
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
