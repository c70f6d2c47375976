// Package emitter renders a scheduled planner.Step list into forward and
// rollback SQL scripts plus a structured risk/phase summary.
package emitter

import (
	"sort"
	"strings"

	"github.com/schemaplan/schemaplan/internal/hints"
	"github.com/schemaplan/schemaplan/internal/planner"
)

const globalBucket = "__global__"
const emptyPlanSentinel = "-- no schema changes detected\n"
const concurrencyBanner = "-- NOTE: This migration must run OUTSIDE a transaction due to CONCURRENTLY.\n\n"

// TableSummary is the per-table slice of the plan summary: which phases
// were touched, which risk flags were inferred, and the phase-count
// 5-tuple (prep, backfill, tighten, indexes, finalize).
type TableSummary struct {
	Ops         []string `json:"ops"`
	Risks       []string `json:"risks"`
	PhaseCounts [5]int   `json:"phase_counts"`
}

// Summary is the JSON-serializable plan summary the CLI boundary writes
// to the --summary-json path when one is given.
type Summary struct {
	Tables map[string]TableSummary `json:"tables"`
	Unsafe bool                    `json:"unsafe"`
}

var phaseOrder = []planner.Phase{
	planner.PhasePrep,
	planner.PhaseBackfill,
	planner.PhaseTighten,
	planner.PhaseIndexes,
	planner.PhaseFinalize,
}

func phaseIndex(p planner.Phase) int {
	for i, pp := range phaseOrder {
		if pp == p {
			return i
		}
	}
	return -1
}

// GeneratePostgresSQL renders the forward script, the rollback script,
// and the plan summary for a scheduled Step list. Registered under
// dialect key "postgresql" by internal/registry.
func GeneratePostgresSQL(steps []planner.Step, h hints.Hints) (forward, rollback string, summary Summary) {
	if len(steps) == 0 {
		return emptyPlanSentinel, emptyPlanSentinel, Summary{Tables: map[string]TableSummary{}}
	}

	buckets, order := bucketByTable(steps)

	var fwd strings.Builder
	for _, table := range order {
		fwd.WriteString("-- ==== Table: " + table + " ====\n")
		for _, st := range buckets[table] {
			writeForwardStep(&fwd, st)
		}
		fwd.WriteString("\n")
	}
	forwardSQL := fwd.String()

	var rb strings.Builder
	for _, table := range order {
		rb.WriteString("-- ==== Table: " + table + " (rollback) ====\n")
		bucket := buckets[table]
		for i := len(bucket) - 1; i >= 0; i-- {
			writeRollbackStep(&rb, bucket[i])
		}
		rb.WriteString("\n")
	}
	rollbackSQL := rb.String()

	summary = buildSummary(buckets, order)

	if h.Sub("planner").Bool("add_banner_for_non_txn") && strings.Contains(forwardSQL, "INDEX CONCURRENTLY") {
		forwardSQL = concurrencyBanner + forwardSQL
	}

	return forwardSQL, rollbackSQL, summary
}

func bucketByTable(steps []planner.Step) (map[string][]planner.Step, []string) {
	buckets := map[string][]planner.Step{}
	var order []string
	seen := map[string]bool{}
	for _, st := range steps {
		table := st.Table
		if table == "" {
			table = globalBucket
		}
		if !seen[table] {
			seen[table] = true
			order = append(order, table)
		}
		buckets[table] = append(buckets[table], st)
	}
	return buckets, order
}

func writeForwardStep(w *strings.Builder, st planner.Step) {
	if !st.Destructive {
		w.WriteString(st.SQL)
		w.WriteString("\n")
		return
	}
	w.WriteString("-- DESTRUCTIVE (commented out by default):\n")
	for _, line := range strings.Split(st.SQL, "\n") {
		w.WriteString("-- " + line + "\n")
	}
}

func writeRollbackStep(w *strings.Builder, st planner.Step) {
	if st.ReverseSQL != nil {
		w.WriteString(*st.ReverseSQL)
		w.WriteString("\n")
		return
	}
	if st.Reversible {
		w.WriteString("-- rollback for step " + st.ID + " may be lossy\n")
	}
	lines := strings.Split(st.SQL, "\n")
	w.WriteString("-- forward: " + lines[0] + "\n")
	for _, line := range lines[1:] {
		w.WriteString("-- " + line + "\n")
	}
}

func buildSummary(buckets map[string][]planner.Step, order []string) Summary {
	tables := make(map[string]TableSummary, len(order))
	unsafe := false
	for _, table := range order {
		if table == globalBucket {
			continue
		}
		bucket := buckets[table]
		var phaseCounts [5]int
		opsSet := map[string]bool{}
		riskSet := map[string]bool{}
		for _, st := range bucket {
			if idx := phaseIndex(st.Phase); idx >= 0 {
				phaseCounts[idx]++
			}
			opsSet[string(st.Phase)] = true
			addRiskFlags(riskSet, st)
			if st.Destructive {
				riskSet["destructive_present"] = true
				unsafe = true
			}
		}
		tables[table] = TableSummary{
			Ops:         sortedKeys(opsSet),
			Risks:       sortedKeys(riskSet),
			PhaseCounts: phaseCounts,
		}
	}
	return Summary{Tables: tables, Unsafe: unsafe}
}

func addRiskFlags(risks map[string]bool, st planner.Step) {
	sql := st.SQL
	if strings.Contains(sql, "NOT VALID") {
		risks["fk_validate"] = true
	}
	if strings.Contains(sql, "CREATE") && strings.Contains(sql, "INDEX CONCURRENTLY") {
		risks["concurrent_index"] = true
	}
	if strings.Contains(sql, "SET NOT NULL") {
		risks["not_null_tighten"] = true
	}
	if strings.Contains(sql, "USING") && strings.Contains(sql, "ALTER COLUMN") && strings.Contains(sql, "TYPE") {
		risks["rewrite_likely"] = true
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
