package ir

import "fmt"

// DuplicateColumnError is returned when a table lists the same column name
// more than once.
type DuplicateColumnError struct {
	Table  string
	Column string
}

func (e DuplicateColumnError) Error() string {
	return fmt.Sprintf("duplicate column %q in table %q", e.Column, e.Table)
}

// UnknownColumnError is returned when a primary key, foreign key, index or
// unique constraint references a column that isn't defined on the table.
type UnknownColumnError struct {
	Table  string
	Column string
	Via    string // e.g. "primary key", "index idx_name", "foreign key fk_name"
}

func (e UnknownColumnError) Error() string {
	return fmt.Sprintf("%s on table %q references unknown column %q", e.Via, e.Table, e.Column)
}
