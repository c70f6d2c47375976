// Package differ implements the structural diff between two schema
// snapshots, turning an (base, head) IR pair into an ordered list of typed
// Ops for the planner to expand into SQL steps.
package differ

import "github.com/schemaplan/schemaplan/ir"

// OpKind enumerates the kinds of structural change the differ can detect.
type OpKind string

const (
	OpCreateTable      OpKind = "create_table"
	OpDropTable        OpKind = "drop_table"
	OpRenameTable      OpKind = "rename_table" // reserved; no table-rename inference yet
	OpAddColumn        OpKind = "add_column"
	OpDropColumn       OpKind = "drop_column"
	OpRenameColumn     OpKind = "rename_column"
	OpAlterColumnType  OpKind = "alter_column_type"
	OpAlterNullable    OpKind = "alter_nullable"
	OpAlterDefault     OpKind = "alter_default"
	OpAddIndex         OpKind = "add_index"
	OpDropIndex        OpKind = "drop_index"
	OpAddFK            OpKind = "add_fk"
	OpDropFK           OpKind = "drop_fk"
	OpAddUnique        OpKind = "add_unique"
	OpDropUnique       OpKind = "drop_unique"
	OpAddCheck         OpKind = "add_check"
	OpDropCheck        OpKind = "drop_check"
)

// Op is a single typed schema change derived from comparing two IRs. Each
// kind is its own struct carrying typed fields rather than a kind plus an
// untyped payload map, so the planner never does string-keyed access.
type Op interface {
	Kind() OpKind
	TableName() string
}

type base struct {
	Table string
}

func (b base) TableName() string { return b.Table }

// CreateTableOp creates a table that exists in head but not base.
type CreateTableOp struct {
	base
	NewTable *ir.Table
}

func (CreateTableOp) Kind() OpKind { return OpCreateTable }

// DropTableOp drops a table that exists in base but not head.
type DropTableOp struct {
	base
}

func (DropTableOp) Kind() OpKind { return OpDropTable }

// RenameColumnOp renames a column within a table, inferred either from a
// hint or from the type-compatibility heuristic.
type RenameColumnOp struct {
	base
	From string
	To   string
}

func (RenameColumnOp) Kind() OpKind { return OpRenameColumn }

// AddColumnOp adds a new column to an existing table.
type AddColumnOp struct {
	base
	Column *ir.Column
}

func (AddColumnOp) Kind() OpKind { return OpAddColumn }

// DropColumnOp drops a column from an existing table.
type DropColumnOp struct {
	base
	Name string
}

func (DropColumnOp) Kind() OpKind { return OpDropColumn }

// AlterColumnTypeOp changes the data type of an existing column.
type AlterColumnTypeOp struct {
	base
	Name string
	From string
	To   string
}

func (AlterColumnTypeOp) Kind() OpKind { return OpAlterColumnType }

// AlterNullableOp flips the nullability of an existing column.
type AlterNullableOp struct {
	base
	Name     string
	Nullable bool
}

func (AlterNullableOp) Kind() OpKind { return OpAlterNullable }

// AlterDefaultOp changes (or drops) the default expression of an existing
// column. A nil Default means the default is being dropped.
type AlterDefaultOp struct {
	base
	Name    string
	Default *string
}

func (AlterDefaultOp) Kind() OpKind { return OpAlterDefault }

// AddIndexOp adds an index present in head but not base.
type AddIndexOp struct {
	base
	Index *ir.Index
}

func (AddIndexOp) Kind() OpKind { return OpAddIndex }

// DropIndexOp drops an index present in base but not head.
type DropIndexOp struct {
	base
	Name string
}

func (DropIndexOp) Kind() OpKind { return OpDropIndex }

// AddFKOp adds a foreign key present in head but not base.
type AddFKOp struct {
	base
	FK *ir.ForeignKey
}

func (AddFKOp) Kind() OpKind { return OpAddFK }

// DropFKOp drops a foreign key present in base but not head.
type DropFKOp struct {
	base
	Name string
}

func (DropFKOp) Kind() OpKind { return OpDropFK }

// AddUniqueOp adds a unique column-set present in head but not base.
type AddUniqueOp struct {
	base
	Columns []string
}

func (AddUniqueOp) Kind() OpKind { return OpAddUnique }

// DropUniqueOp drops a unique column-set present in base but not head.
type DropUniqueOp struct {
	base
	Columns []string
}

func (DropUniqueOp) Kind() OpKind { return OpDropUnique }

// AddCheckOp adds a named check constraint present in head but not base.
type AddCheckOp struct {
	base
	Name string
	Expr string
}

func (AddCheckOp) Kind() OpKind { return OpAddCheck }

// DropCheckOp drops a named check constraint present in base but not head.
type DropCheckOp struct {
	base
	Name string
}

func (DropCheckOp) Kind() OpKind { return OpDropCheck }
