package ir

// Validate checks the invariants listed in the data model: column names are
// unique within a table, primary-key/foreign-key/index/unique columns exist
// on the table they're attached to. The differ and planner do not call it
// (they trust their inputs); ingestion adapters should call it on freshly
// built IR before handing it to the rest of the pipeline.
func (t *Table) Validate() error {
	for name := range t.Columns {
		// map keys are already unique by construction; this guards against an
		// adapter populating Columns from a slice without deduplicating.
		if t.Columns[name].Name != "" && t.Columns[name].Name != name {
			return DuplicateColumnError{Table: t.Name, Column: name}
		}
	}

	for _, col := range t.PrimaryKey {
		if _, ok := t.Columns[col]; !ok {
			return UnknownColumnError{Table: t.Name, Column: col, Via: "primary key"}
		}
	}

	for _, fk := range t.ForeignKeys {
		for _, col := range fk.Columns {
			if _, ok := t.Columns[col]; !ok {
				return UnknownColumnError{Table: t.Name, Column: col, Via: "foreign key " + fk.Name}
			}
		}
	}

	for _, idx := range t.Indexes {
		for _, col := range idx.Columns {
			if _, ok := t.Columns[col]; !ok {
				return UnknownColumnError{Table: t.Name, Column: col, Via: "index " + idx.Name}
			}
		}
	}

	for _, uq := range t.Uniques {
		for _, col := range uq {
			if _, ok := t.Columns[col]; !ok {
				return UnknownColumnError{Table: t.Name, Column: col, Via: "unique constraint"}
			}
		}
	}

	return nil
}

// Validate runs Table.Validate over every table in the schema.
func (s *Schema) Validate() error {
	for _, t := range s.Tables {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}
