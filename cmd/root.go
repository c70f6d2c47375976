package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/internal/logger"
)

var Debug bool

// RootCmd also runs the diff pipeline directly when --base-dir/--head-dir
// are given without a subcommand, for backward-compatible invocation.
var RootCmd = &cobra.Command{
	Use:   "schemaplan",
	Short: "PostgreSQL schema-diff migration planner",
	Long: `schemaplan compares two schema snapshots and produces a forward
migration script, a reverse (rollback) script, and a structured plan
summary, using online-safe PostgreSQL DDL patterns.

Use "schemaplan [command] --help" for more information about a command.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if baseDir == "" && headDir == "" {
			return cmd.Help()
		}
		return runDiff(cmd)
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable debug logging")
	registerDiffFlags(RootCmd)
	RootCmd.AddCommand(diffCmd)
	RootCmd.AddCommand(runCmd)
}

func setupLogger() {
	level := slog.LevelInfo
	if Debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger.SetGlobal(slog.New(handler), Debug)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
