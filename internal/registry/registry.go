// Package registry holds the write-once adapter and dialect registries
// through which the core discovers ingestion adapters and per-dialect
// planner/emitter function pairs. These are process-start singletons,
// never mutated once the pipeline begins running: a plug-in discovery
// mechanism, not a place for request-scoped state.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/schemaplan/schemaplan/internal/adapter"
	"github.com/schemaplan/schemaplan/internal/differ"
	"github.com/schemaplan/schemaplan/internal/emitter"
	"github.com/schemaplan/schemaplan/internal/hints"
	"github.com/schemaplan/schemaplan/internal/planner"
	"github.com/schemaplan/schemaplan/ir"
)

// PlanFunc matches planner.Plan's signature.
type PlanFunc func(base, head *ir.Schema, ops []differ.Op, h hints.Hints) []planner.Step

// SQLGenFunc matches emitter.GeneratePostgresSQL's signature.
type SQLGenFunc func(steps []planner.Step, h hints.Hints) (forward, rollback string, summary emitter.Summary)

var (
	adapterMu sync.RWMutex
	adapters  = map[string]adapter.Adapter{}

	dialectMu       sync.RWMutex
	dialectPlanners = map[string]PlanFunc{}
	dialectSQLGen   = map[string]SQLGenFunc{}
)

// RegisterAdapter registers an ingestion adapter under name. Call during
// process init only; registering the same name twice panics, since a
// silent overwrite would be a configuration bug, not a runtime condition.
func RegisterAdapter(name string, a adapter.Adapter) {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("registry: adapter %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter looks up a registered adapter by name.
func GetAdapter(name string) (adapter.Adapter, bool) {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// AdapterNames returns the sorted list of registered adapter names.
func AdapterNames() []string {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RegisterDialect registers both the planner and SQL-generator function
// for a dialect in one call, keyed by dialect name (e.g. "postgresql").
// Registering the same name twice panics.
func RegisterDialect(name string, plan PlanFunc, sqlgen SQLGenFunc) {
	dialectMu.Lock()
	defer dialectMu.Unlock()
	if _, exists := dialectPlanners[name]; exists {
		panic(fmt.Sprintf("registry: dialect %q already registered", name))
	}
	dialectPlanners[name] = plan
	dialectSQLGen[name] = sqlgen
}

// GetPlanner returns the registered planner function for dialect.
func GetPlanner(name string) (PlanFunc, bool) {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	p, ok := dialectPlanners[name]
	return p, ok
}

// GetSQLGen returns the registered SQL-generator function for dialect.
func GetSQLGen(name string) (SQLGenFunc, bool) {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	g, ok := dialectSQLGen[name]
	return g, ok
}

// SupportedDialects returns the sorted intersection of dialects that have
// both a registered planner and a registered SQL generator.
func SupportedDialects() []string {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	var out []string
	for name := range dialectPlanners {
		if _, ok := dialectSQLGen[name]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
