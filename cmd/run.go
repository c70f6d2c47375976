package cmd

import (
	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/internal/config"
)

var runConfigPath string

// runCmd drives the same diff pipeline as diffCmd but takes its settings
// from a YAML config file instead of flags, so repeated invocations can be
// driven from a checked-in file.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the diff pipeline from a schema-agent.yml config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath)
		if err != nil {
			return err
		}
		applyConfig(cmd, cfg)
		return runDiff(cmd)
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "schema-agent.yml", "path to the run configuration file")
	runCmd.Flags().StringVar(&outDir, "out-dir", ".", "directory to write forward.sql/rollback.sql/ir_*.json into")
	runCmd.Flags().StringVar(&summaryJSON, "summary-json", "", "path to write the plan summary as JSON")
}

// applyConfig maps a loaded CLIConfig onto the flag-backed globals that
// runDiff reads, so diff and run share one code path. Flags given
// explicitly on the command line win over config-file values.
func applyConfig(cmd *cobra.Command, cfg config.CLIConfig) {
	baseDir = cfg.BaseDir
	baseModule = cfg.BaseModule
	headDir = cfg.HeadDir
	headModule = cfg.HeadModule
	dialectFlag = cfg.Dialect
	adapterFlag = cfg.Adapter
	schemaHints = cfg.SchemaHints
	failOnUnsafe = cfg.FailOnUnsafe
	summaryOnly = cfg.SummaryOnly
	if !cmd.Flags().Changed("out-dir") {
		outDir = cfg.OutDir
	}
	if !cmd.Flags().Changed("summary-json") {
		summaryJSON = cfg.SummaryJSON
	}
}
