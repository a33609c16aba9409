package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabload/internal/config"
	"github.com/JonMunkholm/tabload/internal/core"
	"github.com/JonMunkholm/tabload/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the load server",
	Long: `Serve starts the HTTP API and report pages. Loads are started with
POST /api/loads and run in the background, at most LOAD_MAX_CONCURRENT at a
time.

On SIGINT or SIGTERM the server stops accepting requests and waits up to
SERVER_SHUTDOWN_TIMEOUT for running loads.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveFlags struct {
	host  string
	port  int
	store string
	dsn   string
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVar(&serveFlags.host, "host", "", "Interface to bind (env SERVER_HOST)")
	f.IntVarP(&serveFlags.port, "port", "p", 0, "Port to listen on (env SERVER_PORT)")
	f.StringVar(&serveFlags.store, "store", "", "Store driver (env STORE_DRIVER)")
	f.StringVar(&serveFlags.dsn, "dsn", "", "Store connection string (env STORE_DSN)")
}

func resetServeFlags() {
	serveFlags.host = ""
	serveFlags.port = 0
	serveFlags.store = ""
	serveFlags.dsn = ""
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, func(c *config.Config) {
		f := cmd.Flags()
		if f.Changed("host") {
			c.Server.Host = serveFlags.host
		}
		if f.Changed("port") {
			c.Server.Port = serveFlags.port
		}
		if f.Changed("store") {
			c.Store.Driver = serveFlags.store
		}
		if f.Changed("dsn") {
			c.Store.DSN = serveFlags.dsn
		}
	})
	if err != nil {
		return err
	}
	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	svc := core.NewService(st, cfg.Load)
	defer svc.Close()

	loads := core.NewLoads(svc, core.NewLoadLimiter(cfg.Load.MaxConcurrent, cfg.Load.MaxWaitTime), cfg.Load.Timeout)
	srv := web.NewServer(svc, loads, cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
