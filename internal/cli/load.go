package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabload/internal/config"
	"github.com/JonMunkholm/tabload/internal/core"
)

var loadCmd = &cobra.Command{
	Use:   "load <descriptor|directory>",
	Short: "Load every resource of a data package",
	Long: `Load reads the package descriptor (datapackage.json, datapackage.yaml or a
path to either), creates the missing tables and inserts the rows.

An existing table is reused when its columns match the derived definition and
left alone otherwise. A resource that fails does not stop the others, but an
unreachable store stops the run.

Examples:
  tabload load ./s-and-p-500-companies
  tabload load --store postgres --dsn postgres://localhost/market datapackage.json
  tabload load --json ./pkg > report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

var loadFlags struct {
	store           string
	dsn             string
	batchSize       int
	workers         int
	batchTimeout    time.Duration
	resourceTimeout time.Duration
	json            bool
}

func init() {
	rootCmd.AddCommand(loadCmd)

	f := loadCmd.Flags()
	f.StringVar(&loadFlags.store, "store", "", "Store driver: memory, postgres, sqlite, mysql (env STORE_DRIVER)")
	f.StringVar(&loadFlags.dsn, "dsn", "", "Store connection string (env STORE_DSN)")
	f.IntVar(&loadFlags.batchSize, "batch-size", 0, "Rows per insert batch (env LOAD_BATCH_SIZE)")
	f.IntVar(&loadFlags.workers, "workers", 0, "Resources loaded in parallel (env LOAD_WORKERS)")
	f.DurationVar(&loadFlags.batchTimeout, "batch-timeout", 0, "Timeout of each store call (env LOAD_BATCH_TIMEOUT)")
	f.DurationVar(&loadFlags.resourceTimeout, "resource-timeout", 0, "Timeout of one resource, 0 for none (env LOAD_RESOURCE_TIMEOUT)")
	f.BoolVar(&loadFlags.json, "json", false, "Print the report as JSON")
}

func resetLoadFlags() {
	loadFlags.store = ""
	loadFlags.dsn = ""
	loadFlags.batchSize = 0
	loadFlags.workers = 0
	loadFlags.batchTimeout = 0
	loadFlags.resourceTimeout = 0
	loadFlags.json = false
}

func applyLoadFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("store") {
		cfg.Store.Driver = loadFlags.store
	}
	if f.Changed("dsn") {
		cfg.Store.DSN = loadFlags.dsn
	}
	if f.Changed("batch-size") {
		cfg.Load.BatchSize = loadFlags.batchSize
	}
	if f.Changed("workers") {
		cfg.Load.Workers = loadFlags.workers
	}
	if f.Changed("batch-timeout") {
		cfg.Load.BatchTimeout = loadFlags.batchTimeout
	}
	if f.Changed("resource-timeout") {
		cfg.Load.ResourceTimeout = loadFlags.resourceTimeout
	}
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, func(c *config.Config) { applyLoadFlags(cmd, c) })
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	svc := core.NewService(st, cfg.Load)
	defer svc.Close()

	out := cmd.OutOrStdout()
	styles := plainStyles()
	if !loadFlags.json && styledOutput(os.Stdout) {
		styles = defaultReportStyles()
		svc.OnProgress(progressPrinter(cmd.ErrOrStderr(), styles))
	}

	report, runErr := svc.LoadFile(ctx, args[0])
	if report != nil {
		if loadFlags.json {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			printReport(out, report, styles)
		}
	}
	if runErr != nil {
		return runErr
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%w: %d of %d", ErrResourcesFailed, n, len(report.Resources))
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
