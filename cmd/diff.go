package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/internal/differ"
	"github.com/schemaplan/schemaplan/internal/emitter"
	"github.com/schemaplan/schemaplan/internal/hints"
	"github.com/schemaplan/schemaplan/internal/logger"
	"github.com/schemaplan/schemaplan/internal/registry"
	"github.com/schemaplan/schemaplan/internal/scheduler"
	"github.com/schemaplan/schemaplan/ir"
)

// errUnsafe signals the CLI boundary should exit 2. The core pipeline never
// returns it; destructive detection is recorded in the summary, not raised
// as an error.
type errUnsafe struct{}

func (errUnsafe) Error() string { return "unsafe changes detected (use --fail-on-unsafe to enforce)" }

func exitCodeFor(err error) int {
	if _, ok := err.(errUnsafe); ok {
		return 2
	}
	return 1
}

var (
	baseDir      string
	baseModule   string
	headDir      string
	headModule   string
	dialectFlag  string
	adapterFlag  string
	outDir       string
	schemaHints  string
	failOnUnsafe bool
	summaryOnly  bool
	summaryJSON  string
)

func registerDiffFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&baseDir, "base-dir", "", "path to the base schema source tree")
	cmd.Flags().StringVar(&baseModule, "base-module", "", "module hint narrowing base-dir")
	cmd.Flags().StringVar(&headDir, "head-dir", "", "path to the head schema source tree")
	cmd.Flags().StringVar(&headModule, "head-module", "", "module hint narrowing head-dir")
	cmd.Flags().StringVar(&dialectFlag, "dialect", "postgresql", "target SQL dialect")
	cmd.Flags().StringVar(&adapterFlag, "adapter", "sqlfile", "ingestion adapter name")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "directory to write forward.sql/rollback.sql/ir_*.json into")
	cmd.Flags().StringVar(&schemaHints, "schema-hints", "", "path to a schema hints YAML file")
	cmd.Flags().BoolVar(&failOnUnsafe, "fail-on-unsafe", false, "exit 2 if the plan contains destructive (unsafe) steps")
	cmd.Flags().BoolVar(&summaryOnly, "summary-only", false, "skip writing forward.sql/rollback.sql/ir_*.json")
	cmd.Flags().StringVar(&summaryJSON, "summary-json", "", "path to write the plan summary as JSON")
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Diff two schema snapshots and emit a migration plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDiff(cmd)
	},
}

func init() {
	registerDiffFlags(diffCmd)
}

func runDiff(cmd *cobra.Command) error {
	log := logger.Get()

	if baseDir == "" || headDir == "" {
		return fmt.Errorf("diff: --base-dir and --head-dir are required")
	}

	a, ok := registry.GetAdapter(adapterFlag)
	if !ok {
		return fmt.Errorf("diff: unknown adapter %q (available: %v)", adapterFlag, registry.AdapterNames())
	}
	planFn, ok := registry.GetPlanner(dialectFlag)
	if !ok {
		return fmt.Errorf("diff: unsupported dialect %q (available: %v)", dialectFlag, registry.SupportedDialects())
	}
	sqlgenFn, ok := registry.GetSQLGen(dialectFlag)
	if !ok {
		return fmt.Errorf("diff: unsupported dialect %q (available: %v)", dialectFlag, registry.SupportedDialects())
	}

	hintsPath := resolveHintsPath(schemaHints, outDir)
	h := hints.Load(hintsPath)

	baseIR, err := a.EmitIR(baseDir, baseModule)
	if err != nil {
		return fmt.Errorf("diff: ingesting base schema: %w", err)
	}
	headIR, err := a.EmitIR(headDir, headModule)
	if err != nil {
		return fmt.Errorf("diff: ingesting head schema: %w", err)
	}
	if len(baseIR.Tables) == 0 || len(headIR.Tables) == 0 {
		log.Warn("no tables detected in one or both schemas",
			"base_dir", baseDir, "base_tables", tableNames(baseIR),
			"head_dir", headDir, "head_tables", tableNames(headIR))
	}

	ops := differ.Diff(baseIR, headIR, h)
	steps := planFn(baseIR, headIR, ops, h)
	ordered := scheduler.Schedule(steps)
	forward, rollback, summary := sqlgenFn(ordered, h)

	renderSummary(summary)

	if summaryJSON != "" {
		if err := writeJSON(summaryJSON, summary); err != nil {
			return fmt.Errorf("diff: writing summary json: %w", err)
		}
	}

	if !summaryOnly {
		if err := writeArtifacts(outDir, forward, rollback, baseIR, headIR); err != nil {
			return err
		}
	}

	if failOnUnsafe && summary.Unsafe {
		return errUnsafe{}
	}
	return nil
}

func tableNames(schema *ir.Schema) []string {
	names := make([]string, 0, len(schema.Tables))
	for n := range schema.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resolveHintsPath auto-discovers a hints file when none is given
// explicitly: first "./schema_hints.yml", then "{out_dir}/schema_hints.yml".
func resolveHintsPath(explicit, outDir string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("schema_hints.yml"); err == nil {
		return "schema_hints.yml"
	}
	candidate := filepath.Join(outDir, "schema_hints.yml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// renderSummary prints the per-table ops/risks/phase-count breakdown as a
// terminal table. Table rendering lives at the CLI boundary only; the core
// pipeline never touches a terminal.
func renderSummary(summary emitter.Summary) {
	if len(summary.Tables) == 0 {
		pterm.Info.Println("no schema changes detected")
		return
	}

	var tableNames []string
	for name := range summary.Tables {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	rows := pterm.TableData{{"table", "ops", "risks", "prep", "backfill", "tighten", "indexes", "finalize"}}
	for _, name := range tableNames {
		ts := summary.Tables[name]
		counts := ts.PhaseCounts
		rows = append(rows, []string{
			name,
			strings.Join(ts.Ops, ","),
			strings.Join(ts.Risks, ","),
			strconv.Itoa(counts[0]),
			strconv.Itoa(counts[1]),
			strconv.Itoa(counts[2]),
			strconv.Itoa(counts[3]),
			strconv.Itoa(counts[4]),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

	if summary.Unsafe {
		pterm.Warning.Println("plan contains destructive steps; review before applying")
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeArtifacts(outDir, forward, rollback string, baseIR, headIR *ir.Schema) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("diff: creating out-dir %s: %w", outDir, err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "forward.sql"), []byte(forward), 0o644); err != nil {
		return fmt.Errorf("diff: writing forward.sql: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "rollback.sql"), []byte(rollback), 0o644); err != nil {
		return fmt.Errorf("diff: writing rollback.sql: %w", err)
	}
	if err := writeJSON(filepath.Join(outDir, "ir_base.json"), baseIR); err != nil {
		return fmt.Errorf("diff: writing ir_base.json: %w", err)
	}
	if err := writeJSON(filepath.Join(outDir, "ir_head.json"), headIR); err != nil {
		return fmt.Errorf("diff: writing ir_head.json: %w", err)
	}
	return nil
}
