// Package adapter defines the ingestion-adapter interface through which
// external front-ends hand a schema snapshot to the core. Ingestion itself
// (parsing SQL DDL files, querying information_schema, walking some other
// source of schema metadata) stays outside the core pipeline; the core
// only depends on this interface.
package adapter

import "github.com/schemaplan/schemaplan/ir"

// Adapter turns some external representation of a schema (a directory of
// source files, a module path, ...) into an IR snapshot.
type Adapter interface {
	// EmitIR loads the schema rooted at repoPath into an IR Schema.
	// moduleHint narrows which module/package within repoPath holds the
	// schema definitions; adapters that don't need it may ignore it.
	EmitIR(repoPath, moduleHint string) (*ir.Schema, error)
}
