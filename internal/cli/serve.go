package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/geoshift/geoshift/internal/config"
	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/httpapi"
	"github.com/geoshift/geoshift/internal/notify"
	"github.com/geoshift/geoshift/internal/position"
	"github.com/geoshift/geoshift/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config   string
	Database string
	Listen   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the geofence session daemon",
		Long: `Run the geofence session daemon.

The daemon opens the SQLite database (creating it if needed), starts the
single-writer session engine, and serves the HTTP API plus the websocket
notification stream.

Example:
  geoshift serve --db ./geoshift.db
  geoshift serve --config ./geoshift.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP bind address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.Listen != "" {
		cfg.ListenAddr = opts.Listen
	}

	slog.Info("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	bridge := position.New(time.Now, 0)
	hub := notify.NewHub(time.Now)

	eng := engine.New(engine.Deps{
		Timings:  config.NewStore(cfg.Timings.Resolve()),
		Sessions: st,
		Registry: st,
		Identity: st,
		Audit:    st,
		Position: bridge,
		Notifier: notify.Multi{hub, notify.LogNotifier{}},
		UserID:   cfg.UserID,
	})

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	// Boot synchronously so the HTTP surface starts with resolved identity
	// and a loaded fence snapshot.
	eng.SetReady()
	eng.Drain(ctx)
	userID := eng.Status().UserID

	api := httpapi.New(eng, st, hub, bridge, userID)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go hub.Run(ctx)

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- eng.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpSrv.ListenAndServe()
	}()

	slog.Info("daemon started", "listen", cfg.ListenAddr, "db", cfg.DBPath, "user", userID)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", cfg.ListenAddr)

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			<-engineErr
			return WrapExitError(ExitFailure, "http server error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}

	cancel()
	if err := <-engineErr; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("daemon stopped gracefully")
	return nil
}
