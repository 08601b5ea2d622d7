package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/flowkit/internal/compiler"
	"github.com/roach88/flowkit/internal/config"
	"github.com/roach88/flowkit/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	PersistOptions

	Host     string
	Port     int
	MaxSteps int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <flows-dir>",
		Short: "Serve the flows of a directory over HTTP",
		Long: `Compile every flow file in a directory and serve them over HTTP.

Routes:
  GET  /health                  liveness
  GET  /flows                   loaded flows
  GET  /flows/:name             method specs of one flow
  POST /flows/:name/kickoff     run a flow instance to quiescence
  GET  /flows/:name/states/:id  persisted snapshot (requires --db or --redis)
  GET  /events                  websocket stream of every run's events

Settings come from FLOWKIT_* environment variables; flags override them.

Examples:
  flowkit serve ./flows
  flowkit serve ./flows --port 9090 --db ./flowkit.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	opts.PersistOptions.register(cmd)
	cmd.Flags().StringVar(&opts.Host, "host", "", "listen host (env FLOWKIT_API_HOST)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "listen port (env FLOWKIT_API_PORT)")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "maximum method invocations per run (env FLOWKIT_MAX_STEPS)")

	return cmd
}

func runServe(opts *ServeOptions, dir string, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts.PersistOptions.apply(cfg)
	if opts.Host != "" {
		cfg.APIHost = opts.Host
	}
	if cmd.Flags().Changed("port") {
		cfg.APIPort = opts.Port
	}
	if cmd.Flags().Changed("max-steps") {
		cfg.MaxSteps = opts.MaxSteps
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger, err := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	defs, err := compiler.LoadDir(dir, compiler.WithHTTPTimeout(cfg.HTTPTimeout))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load flows", err)
	}
	if len(defs) == 0 {
		return NewExitError(ExitCommandError, "no flow files found in "+dir)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxSteps(cfg.MaxSteps),
	}
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	if b != nil {
		defer func() {
			if closeErr := b.Close(); closeErr != nil {
				logger.Error("error closing store", "error", closeErr)
			}
		}()
		srvOpts = append(srvOpts, server.WithBackend(b))
	}

	api, err := server.New(defs, srvOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create server", err)
	}
	return serveHTTP(ctx, cfg, api, logger)
}

// serveHTTP runs the API until ctx is done, then shuts down within the
// configured timeout.
func serveHTTP(ctx context.Context, cfg *config.Config, api *server.Server, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.SetupRoutes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", "addr", httpServer.Addr)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return WrapExitError(ExitCommandError, "HTTP server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	api.CloseWebSockets()
	return nil
}
