package registry

import (
	"github.com/schemaplan/schemaplan/internal/adapter/sqlfile"
	"github.com/schemaplan/schemaplan/internal/emitter"
	"github.com/schemaplan/schemaplan/internal/planner"
)

// init bootstraps the default adapter and dialect at process start;
// registries are write-once and populated before the pipeline ever runs.
func init() {
	RegisterAdapter("sqlfile", sqlfile.New())
	RegisterDialect("postgresql", planner.Plan, emitter.GeneratePostgresSQL)
}
