package tool

import (
	"sync"

	"github.com/kilnai/kiln/internal/codeblock"
)

// Registry is a process-wide, order-preserving set of tool specs, keyed
// by name. It is read-only after Activate runs (spec.md §5).
//
// The donor's ToolRegistry (internal/agent/tool_registry.go) is a flat
// map guarded by a mutex; this generalizes it per the design note in
// spec.md §9 ("process-wide tool registry with initialisation order →
// explicit builder"): construction (Build) is separated from the side
// effects of probing availability (Activate).
type Registry struct {
	mu      sync.RWMutex
	order   []string
	byName  map[string]Spec
}

// Build constructs a Registry from the discovered tool set, restricted
// to allowlist if it's non-empty. Discovery order is preserved.
func Build(discovered []Spec, allowlist []string) *Registry {
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = true
	}

	r := &Registry{byName: make(map[string]Spec, len(discovered))}
	for _, spec := range discovered {
		if len(allowlist) > 0 && !allowed[spec.Name] {
			continue
		}
		r.order = append(r.order, spec.Name)
		r.byName[spec.Name] = spec
	}
	return r
}

// ActivationResult reports the outcome of running one tool's Init.
type ActivationResult struct {
	Tool      string
	Available bool
	Reason    string
}

// Activate runs each registered tool's Init (if any), marking tools
// whose Init errors as unavailable while keeping them registered so
// prompt generation can still mention them (spec.md §4.3 step 4,
// supplemented per SPEC_FULL.md §10 from the donor's init_tools()).
func (r *Registry) Activate() []ActivationResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]ActivationResult, 0, len(r.order))
	for _, name := range r.order {
		spec := r.byName[name]
		available := true
		reason := ""
		if spec.Init != nil {
			if err := spec.Init(); err != nil {
				available = false
				reason = err.Error()
			}
		}
		spec.Available = available
		r.byName[name] = spec
		results = append(results, ActivationResult{Tool: name, Available: available, Reason: reason})
	}
	return results
}

// GetTool looks up a tool by its registered name.
func (r *Registry) GetTool(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// GetToolForLangtag finds the tool whose block_types (or name) match
// lang, preserving discovery order.
func (r *Registry) GetToolForLangtag(lang string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		spec := r.byName[name]
		if spec.MatchesLangtag(lang) {
			return spec, true
		}
	}
	return Spec{}, false
}

// HasTool reports whether name is registered (regardless of
// availability).
func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// AvailableTools returns every registered, available tool in discovery
// order.
func (r *Registry) AvailableTools() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.byName[name]
		if spec.Available {
			out = append(out, spec)
		}
	}
	return out
}

// AllTools returns every registered tool, available or not, in
// discovery order — used by prompt generation to list unavailable
// tools alongside their deactivation reason.
func (r *Registry) AllTools() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// resolveLangtag adapts GetToolForLangtag to codeblock.LangResolver,
// only resolving to tools that are currently available.
func (r *Registry) resolveLangtag(lang string) (string, bool) {
	spec, ok := r.GetToolForLangtag(lang)
	if !ok || !spec.Available {
		return "", false
	}
	return spec.Name, true
}

// LangResolver exposes the registry's langtag lookup as a
// codeblock.LangResolver, for use by the markdown ToolUse parser.
func (r *Registry) LangResolver() codeblock.LangResolver {
	return r.resolveLangtag
}

// IsRunnable reports whether tu names a currently registered, available
// tool — the "is_runnable" property of spec.md §3/§4.2.
func (r *Registry) IsRunnable(tu codeblock.ToolUse) bool {
	spec, ok := r.GetTool(tu.Tool)
	return ok && spec.Available
}
