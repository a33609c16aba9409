// Package cli implements the tabload command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tabload",
	Short: "Load tabular data packages into SQL tables",
	Long: `tabload reads a data package descriptor, derives one table per resource,
creates the tables that are missing and streams the CSV rows into them.

Rows that cannot be read are skipped and values that do not fit their column
are stored as NULL. Both are listed in the load report.

Exit Codes:
  0  - Success (rows may have been skipped, see the report)
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Store unavailable
  12 - Descriptor not found or invalid
  13 - One or more resources failed`,
	SilenceUsage: true,
}

var rootFlags struct {
	envFile   string
	logLevel  string
	logFormat string
}

// Execute runs the root command.
func Execute() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersionInfo(os.Stdout)
		return nil
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.envFile, "env-file", ".env", "Environment file read before configuration")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json")
}
