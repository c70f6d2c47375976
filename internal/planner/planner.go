package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/schemaplan/schemaplan/internal/differ"
	"github.com/schemaplan/schemaplan/internal/hints"
	"github.com/schemaplan/schemaplan/ir"
)

const defaultBackfillBatchRows = 5000

// state carries the mutable bookkeeping the Op->Step expansion needs:
// per-column predecessor tracking, the unsafe allowlist, and the
// monotonic id counter. Grouped into a struct instead of passed as loose
// arguments to keep the per-OpKind expand* methods readable.
type state struct {
	sid int
	out []Step

	planner hints.Hints

	unsafeAllow map[string]bool

	// tableRenameStep records, per table, the step id of the latest rename
	// step on that table (a RENAME COLUMN step; the differ emits no table
	// renames). add() makes every later step on the table depend on it.
	tableRenameStep map[string]string

	defaultStepByCol  map[string]string
	backfillStepByCol map[string]string
	notnullStepByCol  map[string]string

	validateSteps      []string // VALIDATE CONSTRAINT step ids (ADD_FK/ADD_CHECK)
	addConstraintSteps []string // NOT VALID ADD step ids (ADD_FK/ADD_CHECK)
}

func key(table, col string) string { return table + "." + col }

// nextID returns the next monotonic step id, "s1", "s2", ....
func (s *state) nextID() string {
	s.sid++
	return fmt.Sprintf("s%d", s.sid)
}

// add appends a new Step, auto-injecting the table's rename-anchor
// dependency if one was recorded.
func (s *state) add(table, sql string, phase Phase, dependsOn []string, destructive bool, reversible bool, reverseSQL *string) *Step {
	deps := append([]string(nil), dependsOn...)
	if rn, ok := s.tableRenameStep[table]; ok {
		deps = append(deps, rn)
	}
	st := Step{
		ID:          s.nextID(),
		Table:       table,
		SQL:         sql,
		Phase:       phase,
		Reversible:  reversible,
		DependsOn:   deps,
		Destructive: destructive,
		ReverseSQL:  reverseSQL,
	}
	s.out = append(s.out, st)
	return &s.out[len(s.out)-1]
}

// isAllowed checks the unsafe_allow list in priority order:
// "kind: table.name", "kind: table", "kind: name", bare "kind".
func (s *state) isAllowed(kind, table, name string) bool {
	candidates := []string{
		fmt.Sprintf("%s: %s.%s", kind, table, name),
		fmt.Sprintf("%s: %s", kind, table),
		fmt.Sprintf("%s: %s", kind, name),
		kind,
	}
	for _, c := range candidates {
		if s.unsafeAllow[c] {
			return true
		}
	}
	return false
}

func strp(s string) *string { return &s }

// Plan expands a differ.Op list into a dependency-linked list of Steps
// for the PostgreSQL dialect. Registered under dialect key "postgresql"
// by internal/registry.
func Plan(base, head *ir.Schema, ops []differ.Op, h hints.Hints) []Step {
	s := &state{
		planner:           h.Sub("planner"),
		unsafeAllow:       map[string]bool{},
		tableRenameStep:   map[string]string{},
		defaultStepByCol:  map[string]string{},
		backfillStepByCol: map[string]string{},
		notnullStepByCol:  map[string]string{},
	}
	for _, a := range h.StringSlice("unsafe_allow") {
		s.unsafeAllow[a] = true
	}

	for _, op := range ops {
		s.expand(op, head)
	}

	s.tightenDependencies()

	return s.out
}

func (s *state) expand(op differ.Op, head *ir.Schema) {
	switch o := op.(type) {
	case differ.RenameColumnOp:
		s.expandRenameColumn(o)
	case differ.AddColumnOp:
		s.expandAddColumn(o)
	case differ.DropColumnOp:
		s.expandDropColumn(o)
	case differ.AlterColumnTypeOp:
		s.expandAlterColumnType(o)
	case differ.AlterNullableOp:
		s.expandAlterNullable(o, head)
	case differ.AlterDefaultOp:
		s.expandAlterDefault(o)
	case differ.AddIndexOp:
		s.expandAddIndex(o)
	case differ.DropIndexOp:
		s.expandDropIndex(o)
	case differ.AddFKOp:
		s.expandAddFK(o)
	case differ.DropFKOp:
		s.expandDropFK(o)
	case differ.AddUniqueOp:
		s.expandAddUnique(o)
	case differ.DropUniqueOp:
		s.expandDropUnique(o)
	case differ.AddCheckOp:
		s.expandAddCheck(o)
	case differ.DropCheckOp:
		s.expandDropCheck(o)
	case differ.CreateTableOp:
		s.expandCreateTable(o)
	case differ.DropTableOp:
		s.expandDropTable(o)
	}
}

func (s *state) expandRenameColumn(o differ.RenameColumnOp) {
	t := o.TableName()
	sql := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", t, o.From, o.To)
	reverse := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", t, o.To, o.From)
	st := s.add(t, sql, PhasePrep, nil, false, true, &reverse)
	s.tableRenameStep[t] = st.ID
}

func (s *state) backfillBatchRows() int {
	return s.planner.Int("default_backfill_batch_rows", defaultBackfillBatchRows)
}

func (s *state) useBatchedBackfill() bool {
	return s.planner.Bool("use_batched_backfill") || s.planner.Bool("large_table_mode")
}

// backfillSQL renders the UPDATE statement that populates col with expr
// for existing NULL rows, either as a single statement or as a batched
// DO $$ ... $$ loop guarded by ctid, per hint `planner.use_batched_backfill`.
func (s *state) backfillSQL(table, col, expr string) string {
	if !s.useBatchedBackfill() {
		return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL;", table, col, expr, col)
	}
	batch := s.backfillBatchRows()
	return fmt.Sprintf(`DO $$
DECLARE
  _batch CONSTANT integer := %d;
  _rows integer;
BEGIN
  LOOP
    UPDATE %s SET %s = %s
    WHERE ctid IN (SELECT ctid FROM %s WHERE %s IS NULL LIMIT _batch);
    GET DIAGNOSTICS _rows = ROW_COUNT;
    EXIT WHEN _rows = 0;
  END LOOP;
END $$;`, batch, table, col, expr, table, col)
}

func (s *state) expandAddColumn(o differ.AddColumnOp) {
	t := o.TableName()
	col := o.Column
	nullClause := ""
	if col.Nullable {
		nullClause = " NULL"
	}
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s%s;", t, col.Name, col.DataType, nullClause)
	reverse := fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s;", t, col.Name)
	addStep := s.add(t, sql, PhasePrep, nil, false, true, &reverse)

	var defaultDeps []string
	if col.Default != nil {
		defaultSQL := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", t, col.Name, *col.Default)
		defStep := s.add(t, defaultSQL, PhaseTighten, []string{addStep.ID}, false, true, nil)
		s.defaultStepByCol[key(t, col.Name)] = defStep.ID
		defaultDeps = []string{defStep.ID}
	}

	if !col.Nullable {
		expr := "<DEFAULT_OR_EXPR>"
		if col.Default != nil {
			expr = *col.Default
		}
		backfillDeps := append([]string{addStep.ID}, defaultDeps...)
		backfillSQL := s.backfillSQL(t, col.Name, expr)
		backfillStep := s.add(t, backfillSQL, PhaseBackfill, backfillDeps, false, false, nil)
		s.backfillStepByCol[key(t, col.Name)] = backfillStep.ID

		notnullSQL := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", t, col.Name)
		notnullStep := s.add(t, notnullSQL, PhaseTighten, []string{backfillStep.ID}, false, true, nil)
		s.notnullStepByCol[key(t, col.Name)] = notnullStep.ID
	}
}

func (s *state) expandDropColumn(o differ.DropColumnOp) {
	t := o.TableName()
	destructive := !s.isAllowed("drop_column", t, o.Name)
	sql := fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s;", t, o.Name)
	s.add(t, sql, PhaseFinalize, nil, destructive, false, nil)
}

func (s *state) expandAlterColumnType(o differ.AlterColumnTypeOp) {
	t := o.TableName()
	sql := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;", t, o.Name, o.To, o.Name, o.To)
	s.add(t, sql, PhaseFinalize, nil, false, false, nil)
}

func (s *state) expandAlterNullable(o differ.AlterNullableOp, head *ir.Schema) {
	t := o.TableName()
	if o.Nullable {
		sql := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", t, o.Name)
		s.add(t, sql, PhaseFinalize, nil, false, true, nil)
		return
	}

	expr := "<DEFAULT_OR_EXPR>"
	if tbl, ok := head.Tables[t]; ok {
		if col, ok := tbl.Columns[o.Name]; ok && col.Default != nil {
			expr = *col.Default
		}
	}
	backfillSQL := s.backfillSQL(t, o.Name, expr)
	backfillStep := s.add(t, backfillSQL, PhaseBackfill, nil, false, false, nil)
	s.backfillStepByCol[key(t, o.Name)] = backfillStep.ID

	if s.planner.Bool("use_fast_not_null") {
		chkName := fmt.Sprintf("chk_%s_%s_nn", t, o.Name)
		chkSQL := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IS NOT NULL) NOT VALID;", t, chkName, o.Name)
		chkStep := s.add(t, chkSQL, PhasePrep, []string{backfillStep.ID}, false, true, nil)

		validateSQL := fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s;", t, chkName)
		validateStep := s.add(t, validateSQL, PhaseTighten, []string{chkStep.ID}, false, false, nil)

		notnullSQL := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", t, o.Name)
		notnullStep := s.add(t, notnullSQL, PhaseTighten, []string{validateStep.ID}, false, true, nil)
		s.notnullStepByCol[key(t, o.Name)] = notnullStep.ID

		dropChkSQL := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", t, chkName)
		s.add(t, dropChkSQL, PhaseFinalize, []string{notnullStep.ID}, false, false, nil)
		return
	}

	notnullSQL := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", t, o.Name)
	notnullStep := s.add(t, notnullSQL, PhaseTighten, []string{backfillStep.ID}, false, true, nil)
	s.notnullStepByCol[key(t, o.Name)] = notnullStep.ID
}

func (s *state) expandAlterDefault(o differ.AlterDefaultOp) {
	t := o.TableName()
	var sql string
	var reverse *string
	if o.Default != nil {
		sql = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", t, o.Name, *o.Default)
		reverse = strp(fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", t, o.Name))
	} else {
		sql = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", t, o.Name)
	}

	k := key(t, o.Name)
	st := s.add(t, sql, PhaseTighten, nil, false, reverse != nil, reverse)
	s.defaultStepByCol[k] = st.ID

	// If a backfill step for this column already exists (e.g. synthesized
	// by an AlterNullableOp on the same column), it must run after the new
	// default is in place rather than before.
	if bfID, ok := s.backfillStepByCol[k]; ok && bfID != st.ID {
		s.appendDependency(bfID, st.ID)
	}
}

// appendDependency adds dependsOn to the DependsOn list of the step with
// the given id, used when a later-created step must retroactively become
// a predecessor of an earlier one.
func (s *state) appendDependency(stepID, dependsOn string) {
	for i := range s.out {
		if s.out[i].ID == stepID {
			s.out[i].DependsOn = append(s.out[i].DependsOn, dependsOn)
			return
		}
	}
}

func (s *state) expandAddIndex(o differ.AddIndexOp) {
	t := o.TableName()
	idx := o.Index
	uniqueKw := ""
	if idx.Unique {
		uniqueKw = "UNIQUE "
	}
	cols := strings.Join(idx.Columns, ", ")
	includeClause := ""
	if len(idx.Include) > 0 {
		includeClause = fmt.Sprintf(" INCLUDE (%s)", strings.Join(idx.Include, ", "))
	}
	sql := fmt.Sprintf("CREATE %sINDEX CONCURRENTLY IF NOT EXISTS %s ON %s USING %s (%s)%s;",
		uniqueKw, idx.Name, t, idx.IndexMethod(), cols, includeClause)
	reverse := fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s;", idx.Name)
	s.add(t, sql, PhaseIndexes, nil, false, true, &reverse)
}

func (s *state) expandDropIndex(o differ.DropIndexOp) {
	t := o.TableName()
	destructive := !s.isAllowed("drop_index", t, o.Name)
	sql := fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s;", o.Name)
	s.add(t, sql, PhaseIndexes, nil, destructive, false, nil)
}

func (s *state) expandAddFK(o differ.AddFKOp) {
	s.addFKSteps(o.TableName(), o.FK, false)
}

// addFKSteps emits the NOT VALID add and the deferred VALIDATE for a
// foreign key. The nested form (constraints belonging to a freshly created
// table) skips the orphan-cleanup advisory and the cross-table post-pass
// bookkeeping: a brand-new table has no data to clean.
func (s *state) addFKSteps(t string, fk *ir.ForeignKey, nested bool) {
	cols := strings.Join(fk.Columns, ", ")
	refCols := strings.Join(fk.RefColumns, ", ")
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)", t, fk.Name, cols, fk.RefTable, refCols)
	if fk.OnDelete != "" {
		sql += fmt.Sprintf(" ON DELETE %s", fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		sql += fmt.Sprintf(" ON UPDATE %s", fk.OnUpdate)
	}
	sql += " NOT VALID;"
	addStep := s.add(t, sql, PhasePrep, nil, false, false, nil)

	if !nested {
		s.addConstraintSteps = append(s.addConstraintSteps, addStep.ID)
		if s.emitValidationHints() {
			hintSQL := fmt.Sprintf("-- check for orphaned rows in %s before validating %s\n-- SELECT * FROM %s t WHERE NOT EXISTS (SELECT 1 FROM %s r WHERE r.%s = t.%s);",
				t, fk.Name, t, fk.RefTable, refCols, cols)
			s.add(t, hintSQL, PhaseBackfill, []string{addStep.ID}, false, false, nil)
		}
	}

	validateSQL := fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s;", t, fk.Name)
	validateStep := s.add(t, validateSQL, PhaseTighten, []string{addStep.ID}, false, false, nil)
	if !nested {
		s.validateSteps = append(s.validateSteps, validateStep.ID)
	}
}

func (s *state) expandDropFK(o differ.DropFKOp) {
	t := o.TableName()
	// drop_fk is not an allowlistable kind; dropping a foreign key always
	// surfaces as destructive.
	sql := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", t, o.Name)
	s.add(t, sql, PhaseFinalize, nil, true, false, nil)
}

func (s *state) expandAddCheck(o differ.AddCheckOp) {
	s.addCheckSteps(o.TableName(), o.Name, o.Expr, false)
}

// addCheckSteps emits the NOT VALID add and the deferred VALIDATE for a
// check constraint. As with addFKSteps, the nested form is bare: no data
// advisory, no post-pass bookkeeping.
func (s *state) addCheckSteps(t, name, expr string, nested bool) {
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s) NOT VALID;", t, name, expr)
	addStep := s.add(t, sql, PhasePrep, nil, false, false, nil)

	if !nested {
		s.addConstraintSteps = append(s.addConstraintSteps, addStep.ID)
		if s.emitValidationHints() {
			hintSQL := fmt.Sprintf("-- confirm existing rows in %s satisfy: %s", t, expr)
			s.add(t, hintSQL, PhaseBackfill, []string{addStep.ID}, false, false, nil)
		}
	}

	validateSQL := fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s;", t, name)
	validateStep := s.add(t, validateSQL, PhaseTighten, []string{addStep.ID}, false, false, nil)
	if !nested {
		s.validateSteps = append(s.validateSteps, validateStep.ID)
	}
}

func (s *state) emitValidationHints() bool {
	// Defaults to true; an absent key means enabled.
	if v, ok := s.planner["emit_data_validation_hints"]; ok {
		b, _ := v.(bool)
		return b
	}
	return true
}

func (s *state) expandDropCheck(o differ.DropCheckOp) {
	t := o.TableName()
	destructive := !s.isAllowed("drop_check", t, o.Name)
	sql := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", t, o.Name)
	s.add(t, sql, PhaseFinalize, nil, destructive, false, nil)
}

func uniqueConstraintBaseName(table string, cols []string) string {
	return fmt.Sprintf("uq_%s_%s", table, strings.Join(cols, "_"))
}

func (s *state) expandAddUnique(o differ.AddUniqueOp) {
	s.addUniqueSteps(o.TableName(), o.Columns, false)
}

// addUniqueSteps emits the concurrent unique index plus the guarded
// constraint attach. The standalone form also emits the duplicate-precheck
// advisory and honors unique_nulls_not_distinct; the nested form (uniques
// on a freshly created, empty table) is bare.
func (s *state) addUniqueSteps(t string, columns []string, nested bool) {
	base := uniqueConstraintBaseName(t, columns)
	idxName := base + "_idx"

	var idxDeps []string
	colsClause := strings.Join(columns, ", ")
	if !nested {
		precheckSQL := fmt.Sprintf("-- verify no existing duplicate values for (%s) on %s before adding unique constraint", colsClause, t)
		precheckStep := s.add(t, precheckSQL, PhasePrep, nil, false, false, nil)
		idxDeps = []string{precheckStep.ID}

		if len(columns) == 1 && s.planner.Bool("unique_nulls_not_distinct") {
			colsClause += " NULLS NOT DISTINCT"
		}
	}

	idxSQL := fmt.Sprintf("CREATE UNIQUE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s (%s);", idxName, t, colsClause)
	idxStep := s.add(t, idxSQL, PhaseIndexes, idxDeps, false, true, nil)

	attachSQL := fmt.Sprintf(`DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_constraint WHERE conname = '%s' AND conrelid = '%s'::regclass
  ) THEN
    ALTER TABLE %s ADD CONSTRAINT %s UNIQUE USING INDEX %s NOT DEFERRABLE;
  END IF;
END $$;`, base, t, t, base, idxName)
	s.add(t, attachSQL, PhaseFinalize, []string{idxStep.ID}, false, false, nil)
}

func (s *state) expandDropUnique(o differ.DropUniqueOp) {
	t := o.TableName()
	name := uniqueConstraintBaseName(t, o.Columns)
	destructive := !s.isAllowed("drop_unique", t, name)
	sql := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", t, name)
	s.add(t, sql, PhaseFinalize, nil, destructive, false, nil)
}

func (s *state) expandCreateTable(o differ.CreateTableOp) {
	t := o.TableName()
	tbl := o.NewTable

	var colNames []string
	for c := range tbl.Columns {
		colNames = append(colNames, c)
	}
	sort.Strings(colNames)

	var lines []string
	for _, cn := range colNames {
		col := tbl.Columns[cn]
		line := fmt.Sprintf("%s %s", col.Name, col.DataType)
		if len(tbl.PrimaryKey) == 1 && tbl.PrimaryKey[0] == col.Name {
			line += " PRIMARY KEY"
		}
		if !col.Nullable {
			line += " NOT NULL"
		}
		if col.Default != nil {
			line += fmt.Sprintf(" DEFAULT %s", *col.Default)
		}
		lines = append(lines, "  "+line)
	}
	if len(tbl.PrimaryKey) > 1 {
		lines = append(lines, fmt.Sprintf("  PRIMARY KEY (%s)", strings.Join(tbl.PrimaryKey, ", ")))
	}

	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", t, strings.Join(lines, ",\n"))
	reverse := fmt.Sprintf("DROP TABLE IF EXISTS %s;", t)
	s.add(t, sql, PhasePrep, nil, false, false, &reverse)

	var checkNames []string
	for n := range tbl.Checks {
		checkNames = append(checkNames, n)
	}
	sort.Strings(checkNames)
	for _, cn := range checkNames {
		s.addCheckSteps(t, cn, tbl.Checks[cn], true)
	}

	for _, cols := range tbl.Uniques {
		sorted := append([]string(nil), cols...)
		sort.Strings(sorted)
		s.addUniqueSteps(t, sorted, true)
	}

	var fkNames []string
	for n := range tbl.ForeignKeys {
		fkNames = append(fkNames, n)
	}
	sort.Strings(fkNames)
	for _, fn := range fkNames {
		s.addFKSteps(t, tbl.ForeignKeys[fn], true)
	}
}

func (s *state) expandDropTable(o differ.DropTableOp) {
	t := o.TableName()
	destructive := !s.isAllowed("drop_table", t, t)
	sql := fmt.Sprintf("DROP TABLE IF EXISTS %s;", t)
	s.add(t, sql, PhaseFinalize, nil, destructive, false, nil)
}

// tightenDependencies is the post-pass over the built steps: every
// VALIDATE CONSTRAINT step gets every NOT-NULL tighten step for the same
// table as a predecessor (so validation never races concurrent nullable
// writes), and every NOT VALID ADD step gets every backfill step for the
// same table as a predecessor (so constraints are introduced over
// already-cleaned data).
func (s *state) tightenDependencies() {
	notnullByTable := map[string][]string{}
	for k, id := range s.notnullStepByCol {
		table := strings.SplitN(k, ".", 2)[0]
		notnullByTable[table] = append(notnullByTable[table], id)
	}
	backfillByTable := map[string][]string{}
	for k, id := range s.backfillStepByCol {
		table := strings.SplitN(k, ".", 2)[0]
		backfillByTable[table] = append(backfillByTable[table], id)
	}
	// Map iteration filled these lists in arbitrary order; sort so the
	// appended dependency edges are identical run to run.
	for _, ids := range notnullByTable {
		sort.Strings(ids)
	}
	for _, ids := range backfillByTable {
		sort.Strings(ids)
	}

	for _, id := range s.validateSteps {
		table := s.tableOf(id)
		s.appendDependencies(id, notnullByTable[table])
	}
	for _, id := range s.addConstraintSteps {
		table := s.tableOf(id)
		s.appendDependencies(id, backfillByTable[table])
	}
}

func (s *state) tableOf(stepID string) string {
	for _, st := range s.out {
		if st.ID == stepID {
			return st.Table
		}
	}
	return ""
}

func (s *state) appendDependencies(stepID string, deps []string) {
	if len(deps) == 0 {
		return
	}
	for i := range s.out {
		if s.out[i].ID == stepID {
			s.out[i].DependsOn = append(s.out[i].DependsOn, deps...)
			return
		}
	}
}
