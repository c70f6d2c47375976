// Package scheduler linearizes a planner.Step list into a topological
// order that respects each Step's DependsOn edges.
package scheduler

import "github.com/schemaplan/schemaplan/internal/planner"

// Schedule runs Kahn's algorithm over steps using DependsOn as the
// predecessor edges. Input order feeds the zero-indegree queue, so ties
// are broken by original order. If a cycle prevents a full ordering
// (fewer nodes emitted than given), the input is returned unchanged: the
// scheduler never drops Steps and never panics. That fallback is a
// last-resort safety net, not a correctness guarantee the planner can
// lean on.
func Schedule(steps []planner.Step) []planner.Step {
	indexByID := make(map[string]int, len(steps))
	for i, st := range steps {
		indexByID[st.ID] = i
	}

	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, st := range steps {
		for _, dep := range st.DependsOn {
			depIdx, ok := indexByID[dep]
			if !ok {
				continue
			}
			indegree[i]++
			dependents[depIdx] = append(dependents[depIdx], i)
		}
	}

	queue := make([]int, 0, len(steps))
	for i := range steps {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	ordered := make([]planner.Step, 0, len(steps))
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		ordered = append(ordered, steps[idx])
		for _, next := range dependents[idx] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) != len(steps) {
		return steps
	}
	return ordered
}
