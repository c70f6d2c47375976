// Package sqlfile implements a schema ingestion adapter that reads plain
// ".sql" DDL files from a directory and parses them into the core IR,
// using the real PostgreSQL grammar via pg_query_go: each file is split
// into statements with SplitWithParser, each statement parsed with
// pg_query.Parse, and the resulting parse-tree nodes walked into tables,
// columns, indexes and constraints.
package sqlfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/schemaplan/schemaplan/ir"
)

// Adapter parses a directory of .sql files into an ir.Schema.
type Adapter struct{}

// New constructs a sqlfile Adapter.
func New() *Adapter { return &Adapter{} }

// EmitIR reads every *.sql file directly under repoPath (optionally
// narrowed to the moduleHint subdirectory, if it exists) in sorted
// filename order, and parses each into the schema being built.
// Determinism requires this: the same directory tree must always yield
// byte-identical IR.
func (a *Adapter) EmitIR(repoPath, moduleHint string) (*ir.Schema, error) {
	root := repoPath
	if moduleHint != "" {
		candidate := filepath.Join(repoPath, moduleHint)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			root = candidate
		}
	}

	files, err := filepath.Glob(filepath.Join(root, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("sqlfile: globbing %s: %w", root, err)
	}
	sort.Strings(files)

	schema := ir.NewSchema()
	p := &parser{schema: schema}

	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("sqlfile: reading %s: %w", f, err)
		}
		if err := p.parseFile(string(content)); err != nil {
			return nil, fmt.Errorf("sqlfile: parsing %s: %w", f, err)
		}
	}

	return schema, nil
}

type parser struct {
	schema *ir.Schema
}

func (p *parser) parseFile(content string) error {
	statements, err := pg_query.SplitWithParser(content, true)
	if err != nil {
		return fmt.Errorf("splitting statements: %w", err)
	}
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := p.parseStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseStatement(stmt string) error {
	result, err := pg_query.Parse(stmt)
	if err != nil {
		return fmt.Errorf("pg_query parse error: %w (statement: %q)", err, stmt)
	}
	for _, raw := range result.Stmts {
		if raw.Stmt == nil {
			continue
		}
		if err := p.dispatch(raw.Stmt); err != nil {
			return err
		}
	}
	return nil
}

// dispatch routes a parsed node to its handler. Statement kinds the core
// has no IR representation for (views, functions, triggers, ...) are
// silently ignored: an ingestion front-end only needs to surface what the
// IR can express.
func (p *parser) dispatch(node *pg_query.Node) error {
	switch n := node.Node.(type) {
	case *pg_query.Node_CreateStmt:
		return p.parseCreateTable(n.CreateStmt)
	case *pg_query.Node_IndexStmt:
		return p.parseCreateIndex(n.IndexStmt)
	case *pg_query.Node_AlterTableStmt:
		return p.parseAlterTable(n.AlterTableStmt)
	case *pg_query.Node_CreateEnumStmt:
		return p.parseCreateEnum(n.CreateEnumStmt)
	case *pg_query.Node_CreateExtensionStmt:
		p.schema.Extensions = append(p.schema.Extensions, n.CreateExtensionStmt.Extname)
		return nil
	default:
		return nil
	}
}

func (p *parser) parseCreateTable(stmt *pg_query.CreateStmt) error {
	if stmt.Relation == nil {
		return nil
	}
	name := stmt.Relation.Relname
	table := ir.NewTable(name)

	for _, elt := range stmt.TableElts {
		switch e := elt.Node.(type) {
		case *pg_query.Node_ColumnDef:
			col := p.parseColumnDef(e.ColumnDef, table)
			table.Columns[col.Name] = col
		case *pg_query.Node_Constraint:
			p.applyTableConstraint(e.Constraint, table)
		}
	}

	p.schema.Tables[name] = table
	return nil
}

func (p *parser) parseColumnDef(col *pg_query.ColumnDef, table *ir.Table) *ir.Column {
	c := &ir.Column{
		Name:     col.Colname,
		Nullable: true,
	}
	if col.TypeName != nil {
		c.DataType = typeNameString(col.TypeName)
	}

	for _, rawCons := range col.Constraints {
		cons := rawCons.GetConstraint()
		if cons == nil {
			continue
		}
		switch cons.Contype {
		case pg_query.ConstrType_CONSTR_NOTNULL:
			c.Nullable = false
		case pg_query.ConstrType_CONSTR_NULL:
			c.Nullable = true
		case pg_query.ConstrType_CONSTR_DEFAULT:
			if cons.RawExpr != nil {
				expr := deparseExprFallback(cons.RawExpr)
				c.Default = &expr
			}
		case pg_query.ConstrType_CONSTR_PRIMARY:
			table.PrimaryKey = append(table.PrimaryKey, c.Name)
			c.Nullable = false
		case pg_query.ConstrType_CONSTR_UNIQUE:
			table.Uniques = append(table.Uniques, []string{c.Name})
		case pg_query.ConstrType_CONSTR_CHECK:
			if cons.RawExpr != nil {
				name := cons.Conname
				if name == "" {
					name = fmt.Sprintf("chk_%s_%s", table.Name, c.Name)
				}
				table.Checks[name] = deparseExprFallback(cons.RawExpr)
			}
		case pg_query.ConstrType_CONSTR_FOREIGN:
			if fk := p.parseInlineForeignKey(cons, c.Name, table.Name); fk != nil {
				table.ForeignKeys[fk.Name] = fk
			}
		}
	}

	return c
}

func (p *parser) parseInlineForeignKey(cons *pg_query.Constraint, localCol, tableName string) *ir.ForeignKey {
	if cons.Pktable == nil {
		return nil
	}
	refTable := cons.Pktable.Relname
	var refCols []string
	for _, a := range cons.PkAttrs {
		if s := a.GetString_(); s != nil {
			refCols = append(refCols, s.Sval)
		}
	}
	if len(refCols) == 0 {
		refCols = []string{"id"}
	}
	name := cons.Conname
	if name == "" {
		name = fmt.Sprintf("fk_%s_%s", tableName, localCol)
	}
	return &ir.ForeignKey{
		Name:       name,
		Columns:    []string{localCol},
		RefTable:   refTable,
		RefColumns: refCols,
		OnDelete:   fkActionString(cons.FkDelAction),
		OnUpdate:   fkActionString(cons.FkUpdAction),
		Deferrable: cons.Deferrable,
	}
}

func (p *parser) applyTableConstraint(cons *pg_query.Constraint, table *ir.Table) {
	cols := constraintColumns(cons.Keys)
	switch cons.Contype {
	case pg_query.ConstrType_CONSTR_PRIMARY:
		table.PrimaryKey = cols
		for _, c := range cols {
			if col, ok := table.Columns[c]; ok {
				col.Nullable = false
			}
		}
	case pg_query.ConstrType_CONSTR_UNIQUE:
		table.Uniques = append(table.Uniques, cols)
	case pg_query.ConstrType_CONSTR_CHECK:
		if cons.RawExpr != nil {
			name := cons.Conname
			if name == "" {
				name = fmt.Sprintf("chk_%s_%d", table.Name, len(table.Checks)+1)
			}
			table.Checks[name] = deparseExprFallback(cons.RawExpr)
		}
	case pg_query.ConstrType_CONSTR_FOREIGN:
		if cons.Pktable == nil {
			return
		}
		refTable := cons.Pktable.Relname
		var refCols []string
		for _, a := range cons.PkAttrs {
			if s := a.GetString_(); s != nil {
				refCols = append(refCols, s.Sval)
			}
		}
		name := cons.Conname
		if name == "" {
			name = fmt.Sprintf("fk_%s_%s", table.Name, strings.Join(cols, "_"))
		}
		table.ForeignKeys[name] = &ir.ForeignKey{
			Name:       name,
			Columns:    cols,
			RefTable:   refTable,
			RefColumns: refCols,
			OnDelete:   fkActionString(cons.FkDelAction),
			OnUpdate:   fkActionString(cons.FkUpdAction),
			Deferrable: cons.Deferrable,
		}
	}
}

func (p *parser) parseCreateIndex(stmt *pg_query.IndexStmt) error {
	if stmt.Relation == nil {
		return nil
	}
	tableName := stmt.Relation.Relname
	table, ok := p.schema.Tables[tableName]
	if !ok {
		return nil
	}
	var cols []string
	for _, ic := range stmt.IndexParams {
		if ic.GetIndexElem() != nil {
			cols = append(cols, ic.GetIndexElem().Name)
		}
	}
	name := stmt.Idxname
	if name == "" {
		name = fmt.Sprintf("idx_%s_%s", tableName, strings.Join(cols, "_"))
	}
	method := stmt.AccessMethod
	if method == "" {
		method = "btree"
	}
	table.Indexes[name] = &ir.Index{
		Name:    name,
		Columns: cols,
		Unique:  stmt.Unique,
		Method:  method,
	}
	return nil
}

func (p *parser) parseAlterTable(stmt *pg_query.AlterTableStmt) error {
	if stmt.Relation == nil {
		return nil
	}
	tableName := stmt.Relation.Relname
	table, ok := p.schema.Tables[tableName]
	if !ok {
		return nil
	}
	for _, cmdNode := range stmt.Cmds {
		cmd := cmdNode.GetAlterTableCmd()
		if cmd == nil {
			continue
		}
		switch cmd.Subtype {
		case pg_query.AlterTableType_AT_AddColumn:
			if colDef := cmd.GetDef().GetColumnDef(); colDef != nil {
				col := p.parseColumnDef(colDef, table)
				table.Columns[col.Name] = col
			}
		case pg_query.AlterTableType_AT_DropColumn:
			delete(table.Columns, cmd.Name)
		case pg_query.AlterTableType_AT_AddConstraint:
			if cons := cmd.GetDef().GetConstraint(); cons != nil {
				p.applyTableConstraint(cons, table)
			}
		case pg_query.AlterTableType_AT_SetNotNull:
			if col, ok := table.Columns[cmd.Name]; ok {
				col.Nullable = false
			}
		case pg_query.AlterTableType_AT_DropNotNull:
			if col, ok := table.Columns[cmd.Name]; ok {
				col.Nullable = true
			}
		case pg_query.AlterTableType_AT_ColumnDefault:
			if col, ok := table.Columns[cmd.Name]; ok {
				if cmd.Def != nil {
					expr := deparseExprFallback(cmd.Def)
					col.Default = &expr
				} else {
					col.Default = nil
				}
			}
		}
	}
	return nil
}

func (p *parser) parseCreateEnum(stmt *pg_query.CreateEnumStmt) error {
	if len(stmt.TypeName) == 0 {
		return nil
	}
	last := stmt.TypeName[len(stmt.TypeName)-1]
	name := last.GetString_().Sval
	var values []string
	for _, v := range stmt.Vals {
		if s := v.GetString_(); s != nil {
			values = append(values, s.Sval)
		}
	}
	if p.schema.Enums == nil {
		p.schema.Enums = map[string][]string{}
	}
	p.schema.Enums[name] = values
	return nil
}

func constraintColumns(keys []*pg_query.Node) []string {
	var out []string
	for _, k := range keys {
		if s := k.GetString_(); s != nil {
			out = append(out, s.Sval)
		}
	}
	return out
}

func fkActionString(action string) string {
	switch action {
	case "c":
		return "CASCADE"
	case "n":
		return "SET NULL"
	case "d":
		return "SET DEFAULT"
	case "r":
		return "RESTRICT"
	case "a", "":
		return ""
	default:
		return ""
	}
}

// typeNameString renders a pg_query TypeName back into a PG-compiled type
// token (e.g. "numeric(12,2)"), matching the IR's Column.DataType shape.
func typeNameString(t *pg_query.TypeName) string {
	if len(t.Names) == 0 {
		return ""
	}
	var parts []string
	for _, n := range t.Names {
		if s := n.GetString_(); s != nil && s.Sval != "pg_catalog" {
			parts = append(parts, s.Sval)
		}
	}
	base := strings.Join(parts, ".")

	var mods []string
	for _, m := range t.Typmods {
		if c := m.GetAConst(); c != nil {
			if iv := c.GetIval(); iv != nil {
				mods = append(mods, fmt.Sprintf("%d", iv.Ival))
			}
		}
	}
	if len(mods) > 0 {
		base = fmt.Sprintf("%s(%s)", base, strings.Join(mods, ","))
	}
	if t.ArrayBounds != nil {
		base += "[]"
	}
	return base
}

// deparseExprFallback renders a raw expression node as SQL text. Full
// general-purpose deparsing is out of scope (the core only needs the
// literal text to pass through into generated DDL); this covers the
// common constant and function-call shapes found in schema defaults and
// check predicates, falling back to pg_query's Deparse for anything more
// exotic via a throwaway SelectStmt wrapper.
func deparseExprFallback(node *pg_query.Node) string {
	if c := node.GetAConst(); c != nil {
		switch v := c.Val.(type) {
		case *pg_query.A_Const_Ival:
			return fmt.Sprintf("%d", v.Ival.Ival)
		case *pg_query.A_Const_Sval:
			return "'" + v.Sval.Sval + "'"
		case *pg_query.A_Const_Fval:
			return v.Fval.Fval
		case *pg_query.A_Const_Boolval:
			if v.Boolval.Boolval {
				return "true"
			}
			return "false"
		}
	}
	if fn := node.GetFuncCall(); fn != nil && len(fn.Funcname) > 0 && len(fn.Args) == 0 {
		if s := fn.Funcname[len(fn.Funcname)-1].GetString_(); s != nil {
			return s.Sval + "()"
		}
	}
	if tc := node.GetTypeCast(); tc != nil {
		inner := deparseExprFallback(tc.Arg)
		return fmt.Sprintf("%s::%s", inner, typeNameString(tc.TypeName))
	}
	tree := &pg_query.ParseResult{Stmts: []*pg_query.RawStmt{{Stmt: &pg_query.Node{
		Node: &pg_query.Node_SelectStmt{SelectStmt: &pg_query.SelectStmt{
			TargetList:  []*pg_query.Node{{Node: &pg_query.Node_ResTarget{ResTarget: &pg_query.ResTarget{Val: node}}}},
			Op:          pg_query.SetOperation_SETOP_NONE,
			LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
		}},
	}}}}
	if out, err := pg_query.Deparse(tree); err == nil {
		return strings.TrimPrefix(out, "SELECT ")
	}
	return ""
}
