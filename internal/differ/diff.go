package differ

import (
	"sort"
	"strings"

	"github.com/schemaplan/schemaplan/internal/hints"
	"github.com/schemaplan/schemaplan/ir"
)

// Diff compares a base and a head schema snapshot and returns the ordered
// list of Ops needed to turn base into head. Output ordering is: all
// CREATE_TABLE ops (sorted by table name), then all DROP_TABLE ops (sorted),
// then per-table ops for tables present in both, iterated in sorted table
// order.
func Diff(base, head *ir.Schema, h hints.Hints) []Op {
	var ops []Op

	headOnly, baseOnly, both := partitionTableNames(base, head)

	for _, t := range headOnly {
		ops = append(ops, CreateTableOp{base: base2(t), NewTable: head.Tables[t]})
	}
	for _, t := range baseOnly {
		ops = append(ops, DropTableOp{base: base2(t)})
	}
	for _, t := range both {
		ops = append(ops, diffTable(base.Tables[t], head.Tables[t], h)...)
	}

	return ops
}

// base2 avoids the name collision between the `base` struct embedded in Op
// implementations and the `base` schema parameter of Diff.
func base2(table string) base {
	return base{Table: table}
}

func partitionTableNames(baseSchema, headSchema *ir.Schema) (headOnly, baseOnly, both []string) {
	for t := range headSchema.Tables {
		if _, ok := baseSchema.Tables[t]; !ok {
			headOnly = append(headOnly, t)
		} else {
			both = append(both, t)
		}
	}
	for t := range baseSchema.Tables {
		if _, ok := headSchema.Tables[t]; !ok {
			baseOnly = append(baseOnly, t)
		}
	}
	sort.Strings(headOnly)
	sort.Strings(baseOnly)
	sort.Strings(both)
	return
}

func diffTable(b, h *ir.Table, hnt hints.Hints) []Op {
	var ops []Op

	removed, added := partitionColumnNames(b, h)

	renames := inferRenames(b, h, removed, added, hnt)
	usedAdded := make(map[string]bool, len(renames))
	removedSet := make(map[string]bool, len(renames))
	for _, r := range renames {
		usedAdded[r.to] = true
		removedSet[r.from] = true
		ops = append(ops, RenameColumnOp{base: base2(b.Name), From: r.from, To: r.to})
	}

	var remainingAdded, remainingRemoved []string
	for _, c := range added {
		if !usedAdded[c] {
			remainingAdded = append(remainingAdded, c)
		}
	}
	for _, c := range removed {
		if !removedSet[c] {
			remainingRemoved = append(remainingRemoved, c)
		}
	}
	sort.Strings(remainingAdded)
	sort.Strings(remainingRemoved)

	for _, c := range remainingAdded {
		ops = append(ops, AddColumnOp{base: base2(b.Name), Column: h.Columns[c]})
	}
	for _, c := range remainingRemoved {
		ops = append(ops, DropColumnOp{base: base2(b.Name), Name: c})
	}

	// Common columns (by identical name, or matched via rename): type,
	// nullable, default diffs, in that order per pair.
	var pairs []columnRename
	var common []string
	for c := range b.Columns {
		if _, ok := h.Columns[c]; ok {
			common = append(common, c)
		}
	}
	sort.Strings(common)
	for _, c := range common {
		pairs = append(pairs, columnRename{from: c, to: c})
	}
	pairs = append(pairs, renames...)

	for _, pr := range pairs {
		bcol, ok := b.Columns[pr.from]
		if !ok {
			continue
		}
		hcol, ok := h.Columns[pr.to]
		if !ok {
			continue
		}
		if bcol.DataType != hcol.DataType {
			ops = append(ops, AlterColumnTypeOp{base: base2(b.Name), Name: pr.to, From: bcol.DataType, To: hcol.DataType})
		}
		if bcol.Nullable != hcol.Nullable {
			ops = append(ops, AlterNullableOp{base: base2(b.Name), Name: pr.to, Nullable: hcol.Nullable})
		}
		if defaultText(bcol.Default) != defaultText(hcol.Default) {
			ops = append(ops, AlterDefaultOp{base: base2(b.Name), Name: pr.to, Default: hcol.Default})
		}
	}

	ops = append(ops, diffIndexes(b, h)...)
	ops = append(ops, diffForeignKeys(b, h)...)
	ops = append(ops, diffUniques(b, h)...)
	ops = append(ops, diffChecks(b, h)...)

	return ops
}

func defaultText(d *string) string {
	if d == nil {
		return ""
	}
	return *d
}

func partitionColumnNames(b, h *ir.Table) (removed, added []string) {
	for c := range b.Columns {
		if _, ok := h.Columns[c]; !ok {
			removed = append(removed, c)
		}
	}
	for c := range h.Columns {
		if _, ok := b.Columns[c]; !ok {
			added = append(added, c)
		}
	}
	return
}

type columnRename struct {
	from string
	to   string
}

// inferRenames matches removed columns in base to added columns in head,
// first from the renames hint, then by a type-compatibility heuristic. The
// heuristic is deliberately loose and can mis-pair columns; hints exist for
// precision.
func inferRenames(b, h *ir.Table, removed, added []string, hnt hints.Hints) []columnRename {
	addedSet := make(map[string]bool, len(added))
	for _, c := range added {
		addedSet[c] = true
	}

	hintMap := parseRenameHints(hnt, b.Name, h.Name)

	var renames []columnRename
	used := make(map[string]bool)

	removedSorted := append([]string(nil), removed...)
	sort.Strings(removedSorted)

	for _, rc := range removedSorted {
		if target, ok := hintMap[rc]; ok && addedSet[target] && !used[target] {
			renames = append(renames, columnRename{from: rc, to: target})
			used[target] = true
		}
	}

	addedSorted := append([]string(nil), added...)
	sort.Strings(addedSorted)

	for _, rc := range removedSorted {
		if alreadyRenamed(renames, rc) {
			continue
		}
		bcol := b.Columns[rc]
		for _, ac := range addedSorted {
			if used[ac] {
				continue
			}
			hcol := h.Columns[ac]
			if isTypeCompatible(bcol.DataType, hcol.DataType) {
				renames = append(renames, columnRename{from: rc, to: ac})
				used[ac] = true
				break
			}
		}
	}

	return renames
}

func alreadyRenamed(renames []columnRename, from string) bool {
	for _, r := range renames {
		if r.from == from {
			return true
		}
	}
	return false
}

// parseRenameHints extracts the "oldTable.oldCol": "newTable.newCol" entries
// from the renames hint that apply to the (base, head) table pair being
// diffed. Entries containing ':' on either side are reserved syntax and
// skipped; malformed entries are skipped silently, never an error.
func parseRenameHints(hnt hints.Hints, baseTable, headTable string) map[string]string {
	out := map[string]string{}
	renames := hnt.StringMap("renames")
	for k, v := range renames {
		if strings.Contains(k, ":") || strings.Contains(v, ":") {
			continue
		}
		leftTable, leftCol, ok1 := splitDotted(k)
		rightTable, rightCol, ok2 := splitDotted(v)
		if !ok1 || !ok2 {
			continue
		}
		if leftTable == baseTable && rightTable == headTable {
			out[leftCol] = rightCol
		}
	}
	return out
}

func splitDotted(s string) (string, string, bool) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

var intFamily = map[string]bool{"int": true, "integer": true, "bigint": true, "smallint": true}

// isTypeCompatible decides whether two data-type tokens are close enough for
// the rename heuristic to treat a removed/added column pair as a rename
// rather than an unrelated drop+add.
func isTypeCompatible(t1, t2 string) bool {
	if t1 == t2 {
		return true
	}
	n1, n2 := normalizeType(t1), normalizeType(t2)
	if n1 == n2 {
		return true
	}
	if intFamily[n1] && intFamily[n2] {
		return true
	}
	if n1 == "numeric" && n2 == "numeric" {
		return true
	}
	return false
}

func normalizeType(t string) string {
	if idx := strings.Index(t, "("); idx >= 0 {
		t = t[:idx]
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func diffIndexes(b, h *ir.Table) []Op {
	var ops []Op
	var added, removed []string
	for name := range h.Indexes {
		if _, ok := b.Indexes[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range b.Indexes {
		if _, ok := h.Indexes[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	for _, name := range added {
		ops = append(ops, AddIndexOp{base: base2(b.Name), Index: h.Indexes[name]})
	}
	for _, name := range removed {
		ops = append(ops, DropIndexOp{base: base2(b.Name), Name: name})
	}
	return ops
}

func diffForeignKeys(b, h *ir.Table) []Op {
	var ops []Op
	var added, removed []string
	for name := range h.ForeignKeys {
		if _, ok := b.ForeignKeys[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range b.ForeignKeys {
		if _, ok := h.ForeignKeys[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	for _, name := range added {
		ops = append(ops, AddFKOp{base: base2(b.Name), FK: h.ForeignKeys[name]})
	}
	for _, name := range removed {
		ops = append(ops, DropFKOp{base: base2(b.Name), Name: name})
	}
	return ops
}

func diffChecks(b, h *ir.Table) []Op {
	var ops []Op
	var added, removed []string
	for name := range h.Checks {
		if _, ok := b.Checks[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range b.Checks {
		if _, ok := h.Checks[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	for _, name := range added {
		ops = append(ops, AddCheckOp{base: base2(b.Name), Name: name, Expr: h.Checks[name]})
	}
	for _, name := range removed {
		ops = append(ops, DropCheckOp{base: base2(b.Name), Name: name})
	}
	return ops
}

func diffUniques(b, h *ir.Table) []Op {
	var ops []Op
	baseSet := uniqueSet(b.Uniques)
	headSet := uniqueSet(h.Uniques)

	var added, removed []string
	for key := range headSet {
		if _, ok := baseSet[key]; !ok {
			added = append(added, key)
		}
	}
	for key := range baseSet {
		if _, ok := headSet[key]; !ok {
			removed = append(removed, key)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	for _, key := range added {
		ops = append(ops, AddUniqueOp{base: base2(b.Name), Columns: headSet[key]})
	}
	for _, key := range removed {
		ops = append(ops, DropUniqueOp{base: base2(b.Name), Columns: baseSet[key]})
	}
	return ops
}

// uniqueSet builds a map from a sorted-column-join key to the (sorted)
// column list, so unique constraint sets can be compared by column-set
// identity regardless of original column order.
func uniqueSet(sets [][]string) map[string][]string {
	out := make(map[string][]string, len(sets))
	for _, cols := range sets {
		sorted := append([]string(nil), cols...)
		sort.Strings(sorted)
		out[strings.Join(sorted, ",")] = sorted
	}
	return out
}
