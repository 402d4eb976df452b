package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fleetd/internal/api"
	"github.com/roach88/fleetd/internal/config"
	"github.com/roach88/fleetd/internal/notify"
	"github.com/roach88/fleetd/internal/reconciler"
	"github.com/roach88/fleetd/internal/report"
	"github.com/roach88/fleetd/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fleet API daemon",
		Long: `Start the fleet API daemon.

The daemon serves the HTTP API, runs the reconciliation hooks on every
mutation, and delivers update notifications to the control plane when
one is configured.

Example:
  fleetd serve --config ./fleetd.yaml
  fleetd serve --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	return cmd
}

func runServe(opts *ServeOptions) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	if opts.Verbose {
		level.Set(slog.LevelDebug)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	var notifier *notify.Notifier
	rec := reconciler.New(nil)
	if cfg.ControlPlane.Endpoint != "" {
		notifier = notify.New(cfg.ControlPlane.Endpoint, report.LogReporter{},
			notify.WithHTTPClient(&http.Client{Timeout: cfg.ControlPlane.Timeout}))
		rec = reconciler.New(notifier)
	}
	rec.RegisterHooks(st)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.NewServer(st).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http api listening", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if notifier != nil {
		g.Go(func() error {
			if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	// Config reloads apply the log level live. Everything else in the
	// config needs a restart to take effect.
	if opts.Config != "" {
		g.Go(func() error {
			return config.Watch(ctx, opts.Config, func(next *config.Config) {
				level.Set(next.Log.SlogLevel())
				slog.Info("log level applied", "level", next.Log.Level)
			})
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "daemon failed", err)
	}
	slog.Info("daemon stopped")
	return nil
}

// loadConfig loads the config file, or the built-in defaults when no
// path was given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}
