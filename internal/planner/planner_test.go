package planner

import (
	"strings"
	"testing"

	"github.com/schemaplan/schemaplan/internal/differ"
	"github.com/schemaplan/schemaplan/internal/hints"
	"github.com/schemaplan/schemaplan/ir"
)

func findStep(t *testing.T, steps []Step, sql string) Step {
	t.Helper()
	for _, st := range steps {
		if strings.Contains(st.SQL, sql) {
			return st
		}
	}
	t.Fatalf("no step found containing %q, got: %+v", sql, steps)
	return Step{}
}

func dependsOn(steps []Step, childSQL, parentID string) bool {
	for _, st := range steps {
		if strings.Contains(st.SQL, childSQL) {
			for _, d := range st.DependsOn {
				if d == parentID {
					return true
				}
			}
		}
	}
	return false
}

func TestPlan_AddNotNullColumnBackfillsThenTightens(t *testing.T) {
	col := &ir.Column{Name: "status", DataType: "text", Nullable: false, Default: strp("'pending'")}
	addOp := mustAddColumnOp(t, "orders", col)

	steps := Plan(ir.NewSchema(), ir.NewSchema(), []differ.Op{addOp}, hints.Hints{})

	addStep := findStep(t, steps, "ADD COLUMN IF NOT EXISTS status")
	defaultStep := findStep(t, steps, "SET DEFAULT 'pending'")
	backfillStep := findStep(t, steps, "UPDATE orders SET status")
	notnullStep := findStep(t, steps, "SET NOT NULL")

	if addStep.Phase != PhasePrep {
		t.Errorf("expected ADD COLUMN in prep phase, got %s", addStep.Phase)
	}
	if defaultStep.Phase != PhaseTighten {
		t.Errorf("expected SET DEFAULT in tighten phase, got %s", defaultStep.Phase)
	}
	if backfillStep.Phase != PhaseBackfill {
		t.Errorf("expected backfill in backfill phase, got %s", backfillStep.Phase)
	}
	if notnullStep.Phase != PhaseTighten {
		t.Errorf("expected SET NOT NULL in tighten phase, got %s", notnullStep.Phase)
	}
	if !dependsOn(steps, "SET NOT NULL", backfillStep.ID) {
		t.Error("expected SET NOT NULL to depend on the backfill step")
	}
	if !dependsOn(steps, "UPDATE orders SET status", addStep.ID) {
		t.Error("expected backfill to depend on the ADD COLUMN step")
	}
}

func mustAddColumnOp(t *testing.T, table string, col *ir.Column) differ.Op {
	t.Helper()
	// AddColumnOp has an unexported base field; the differ package is the
	// only one that can construct it directly, so route through Diff by
	// comparing an empty table against one with the column.
	base := ir.NewTable(table)
	head := ir.NewTable(table)
	head.Columns[col.Name] = col
	baseSchema := ir.NewSchema()
	baseSchema.Tables[table] = base
	headSchema := ir.NewSchema()
	headSchema.Tables[table] = head

	ops := differ.Diff(baseSchema, headSchema, hints.Hints{})
	for _, op := range ops {
		if op.Kind() == differ.OpAddColumn {
			return op
		}
	}
	t.Fatalf("expected an add_column op, got %+v", ops)
	return nil
}

func TestPlan_AlterNullableFastPath(t *testing.T) {
	baseSchema := ir.NewSchema()
	baseTable := ir.NewTable("users")
	baseTable.Columns["email"] = &ir.Column{Name: "email", DataType: "text", Nullable: true}
	baseSchema.Tables["users"] = baseTable

	headSchema := ir.NewSchema()
	headTable := ir.NewTable("users")
	headTable.Columns["email"] = &ir.Column{Name: "email", DataType: "text", Nullable: false, Default: strp("''")}
	headSchema.Tables["users"] = headTable

	h := hints.Hints{"planner": map[string]any{"use_fast_not_null": true}}
	ops := differ.Diff(baseSchema, headSchema, h)
	steps := Plan(baseSchema, headSchema, ops, h)

	chkStep := findStep(t, steps, "CHECK (email IS NOT NULL) NOT VALID")
	validateStep := findStep(t, steps, "VALIDATE CONSTRAINT")
	notnullStep := findStep(t, steps, "SET NOT NULL")
	dropChkStep := findStep(t, steps, "DROP CONSTRAINT IF EXISTS chk_users_email_nn")

	if chkStep.Phase != PhasePrep {
		t.Errorf("expected fast-not-null CHECK in prep phase, got %s", chkStep.Phase)
	}
	if !dependsOn(steps, "VALIDATE CONSTRAINT", chkStep.ID) {
		t.Error("expected VALIDATE CONSTRAINT to depend on the NOT VALID CHECK add")
	}
	if !dependsOn(steps, "SET NOT NULL", validateStep.ID) {
		t.Error("expected SET NOT NULL to depend on VALIDATE CONSTRAINT")
	}
	if !dependsOn(steps, "DROP CONSTRAINT IF EXISTS chk_users_email_nn", notnullStep.ID) {
		t.Error("expected the temporary CHECK drop to depend on SET NOT NULL")
	}
	if dropChkStep.Phase != PhaseFinalize {
		t.Errorf("expected temporary CHECK drop in finalize phase, got %s", dropChkStep.Phase)
	}
}

func TestPlan_AddIndexUsesConcurrently(t *testing.T) {
	headSchema := ir.NewSchema()
	tbl := ir.NewTable("orders")
	tbl.Indexes["idx_orders_customer"] = &ir.Index{Name: "idx_orders_customer", Columns: []string{"customer_id"}}
	headSchema.Tables["orders"] = tbl
	baseSchema := ir.NewSchema()
	baseSchema.Tables["orders"] = ir.NewTable("orders")

	ops := differ.Diff(baseSchema, headSchema, hints.Hints{})
	steps := Plan(baseSchema, headSchema, ops, hints.Hints{})

	st := findStep(t, steps, "CREATE INDEX CONCURRENTLY")
	if st.Phase != PhaseIndexes {
		t.Errorf("expected CREATE INDEX CONCURRENTLY in indexes phase, got %s", st.Phase)
	}
	if st.Destructive {
		t.Error("CREATE INDEX CONCURRENTLY should never be destructive")
	}
}

func TestPlan_DropColumnIsDestructiveUnlessAllowed(t *testing.T) {
	baseSchema := ir.NewSchema()
	baseTable := ir.NewTable("orders")
	baseTable.Columns["legacy_flag"] = &ir.Column{Name: "legacy_flag", DataType: "boolean", Nullable: true}
	baseSchema.Tables["orders"] = baseTable
	headSchema := ir.NewSchema()
	headSchema.Tables["orders"] = ir.NewTable("orders")

	ops := differ.Diff(baseSchema, headSchema, hints.Hints{})

	steps := Plan(baseSchema, headSchema, ops, hints.Hints{})
	st := findStep(t, steps, "DROP COLUMN IF EXISTS legacy_flag")
	if !st.Destructive {
		t.Error("expected DROP COLUMN without an unsafe_allow entry to be destructive")
	}

	h := hints.Hints{"unsafe_allow": []any{"drop_column: orders.legacy_flag"}}
	steps = Plan(baseSchema, headSchema, ops, h)
	st = findStep(t, steps, "DROP COLUMN IF EXISTS legacy_flag")
	if st.Destructive {
		t.Error("expected DROP COLUMN with a matching unsafe_allow entry to not be destructive")
	}
}

func TestPlan_AddFKValidatesAfterNotValidAdd(t *testing.T) {
	baseSchema := ir.NewSchema()
	baseSchema.Tables["orders"] = ir.NewTable("orders")
	baseSchema.Tables["customers"] = ir.NewTable("customers")

	headSchema := ir.NewSchema()
	headOrders := ir.NewTable("orders")
	headOrders.ForeignKeys["fk_orders_customer"] = &ir.ForeignKey{
		Name: "fk_orders_customer", Columns: []string{"customer_id"},
		RefTable: "customers", RefColumns: []string{"id"},
	}
	headSchema.Tables["orders"] = headOrders
	headSchema.Tables["customers"] = ir.NewTable("customers")

	ops := differ.Diff(baseSchema, headSchema, hints.Hints{})
	steps := Plan(baseSchema, headSchema, ops, hints.Hints{})

	addStep := findStep(t, steps, "FOREIGN KEY (customer_id) REFERENCES customers (id) NOT VALID")
	validateStep := findStep(t, steps, "VALIDATE CONSTRAINT fk_orders_customer")

	if addStep.Phase != PhasePrep {
		t.Errorf("expected NOT VALID FK add in prep phase, got %s", addStep.Phase)
	}
	if validateStep.Phase != PhaseTighten {
		t.Errorf("expected VALIDATE CONSTRAINT in tighten phase, got %s", validateStep.Phase)
	}
	if !dependsOn(steps, "VALIDATE CONSTRAINT fk_orders_customer", addStep.ID) {
		t.Error("expected VALIDATE CONSTRAINT to depend on the NOT VALID add")
	}
}

func TestPlan_CreateTableExpandsNestedConstraints(t *testing.T) {
	headSchema := ir.NewSchema()
	tbl := ir.NewTable("invoices")
	tbl.Columns["id"] = &ir.Column{Name: "id", DataType: "bigint", Nullable: false}
	tbl.Columns["amount"] = &ir.Column{Name: "amount", DataType: "numeric(12,2)", Nullable: false}
	tbl.PrimaryKey = []string{"id"}
	tbl.Checks["chk_amount_positive"] = "amount > 0"
	tbl.Uniques = [][]string{{"amount"}}
	headSchema.Tables["invoices"] = tbl

	baseSchema := ir.NewSchema()

	ops := differ.Diff(baseSchema, headSchema, hints.Hints{})
	steps := Plan(baseSchema, headSchema, ops, hints.Hints{})

	createStep := findStep(t, steps, "CREATE TABLE IF NOT EXISTS invoices")
	if createStep.Phase != PhasePrep {
		t.Errorf("expected CREATE TABLE in prep phase, got %s", createStep.Phase)
	}
	findStep(t, steps, "ADD CONSTRAINT chk_amount_positive CHECK (amount > 0) NOT VALID")
	findStep(t, steps, "VALIDATE CONSTRAINT chk_amount_positive")
	findStep(t, steps, "CREATE UNIQUE INDEX CONCURRENTLY IF NOT EXISTS uq_invoices_amount_idx")
	findStep(t, steps, "ADD CONSTRAINT uq_invoices_amount UNIQUE USING INDEX uq_invoices_amount_idx")

	// Constraints nested in a freshly created table are expanded bare: the
	// table is empty, so no advisory comment steps are emitted.
	for _, st := range steps {
		if strings.HasPrefix(st.SQL, "--") {
			t.Errorf("expected no advisory steps for nested constraints, got: %s", st.SQL)
		}
	}
}

func TestPlan_DropTableIsAlwaysDestructiveByDefault(t *testing.T) {
	baseSchema := ir.NewSchema()
	baseSchema.Tables["obsolete"] = ir.NewTable("obsolete")
	headSchema := ir.NewSchema()

	ops := differ.Diff(baseSchema, headSchema, hints.Hints{})
	steps := Plan(baseSchema, headSchema, ops, hints.Hints{})

	st := findStep(t, steps, "DROP TABLE IF EXISTS obsolete")
	if !st.Destructive {
		t.Error("expected DROP TABLE to be destructive by default")
	}
	if st.Phase != PhaseFinalize {
		t.Errorf("expected DROP TABLE in finalize phase, got %s", st.Phase)
	}
}

func TestPlan_BatchedBackfillHint(t *testing.T) {
	baseSchema := ir.NewSchema()
	baseTable := ir.NewTable("events")
	baseTable.Columns["kind"] = &ir.Column{Name: "kind", DataType: "text", Nullable: true}
	baseSchema.Tables["events"] = baseTable

	headSchema := ir.NewSchema()
	headTable := ir.NewTable("events")
	headTable.Columns["kind"] = &ir.Column{Name: "kind", DataType: "text", Nullable: false, Default: strp("'unknown'")}
	headSchema.Tables["events"] = headTable

	h := hints.Hints{"planner": map[string]any{"use_batched_backfill": true, "default_backfill_batch_rows": 1000}}
	ops := differ.Diff(baseSchema, headSchema, h)
	steps := Plan(baseSchema, headSchema, ops, h)

	st := findStep(t, steps, "DO $$")
	if !strings.Contains(st.SQL, "_batch CONSTANT integer := 1000") {
		t.Errorf("expected batch size 1000 in backfill SQL, got: %s", st.SQL)
	}
	if !strings.Contains(st.SQL, "EXIT WHEN _rows = 0") {
		t.Error("expected batched backfill loop to exit when no rows remain")
	}
}
