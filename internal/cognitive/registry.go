package cognitive

import "github.com/harunnryd/heike/internal/plan"

// AdapterRegistry is the in-memory Tool Registry (§4.8): a map from
// canonical step type to the Adapter instance that serves it.
// Adapters are constructed once at startup.
type AdapterRegistry struct {
	adapters map[string]Adapter
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[string]Adapter)}
}

// Register binds stepType to adapter. Registering the same type twice
// replaces the previous binding.
func (r *AdapterRegistry) Register(stepType string, adapter Adapter) {
	r.adapters[stepType] = adapter
}

var _ Registry = (*AdapterRegistry)(nil)

// Resolve looks up the adapter for a canonical step type. Callers
// resolving a possibly-aliased step must run plan.NormalizeStepType
// first (the Plan Executor does this as part of ResolveAdapter).
func (r *AdapterRegistry) Resolve(stepType string) (Adapter, bool) {
	a, ok := r.adapters[stepType]
	return a, ok
}

// ResolveAdapter performs the full §4.7 resolution path: normalize any
// alias the step's type might be, then look the canonical type up in
// the registry, returning the (possibly rewritten) step alongside the
// adapter so the executor dispatches with the canonical type.
func ResolveAdapter(registry Registry, step plan.Step) (plan.Step, Adapter, bool) {
	normalized := plan.NormalizeStepType(step)
	adapter, ok := registry.Resolve(normalized.Type)
	return normalized, adapter, ok
}
