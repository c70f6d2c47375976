// Package planner expands a differ.Op list into a dependency-linked,
// phased list of SQL Steps. This is the largest component of the core
// pipeline: the Op→Step expansion rules encode all the online-safe DDL
// transformations (NOT VALID + VALIDATE, concurrent index creation,
// batched backfill, fast-NOT-NULL via CHECK).
package planner

// Phase documents the intended lifecycle stage of a Step. Phase tags are
// metadata only; ordering is enforced exclusively by DependsOn edges, and
// phase is never used as a sort key.
type Phase string

const (
	PhasePrep     Phase = "prep"
	PhaseBackfill Phase = "backfill"
	PhaseTighten  Phase = "tighten"
	PhaseIndexes  Phase = "indexes"
	PhaseFinalize Phase = "finalize"
)

// Step is a single SQL statement (or script fragment) with phase,
// dependency, and reversibility metadata.
type Step struct {
	ID          string
	Table       string
	SQL         string
	Phase       Phase
	Reversible  bool
	DependsOn   []string
	Destructive bool
	ReverseSQL  *string
}
