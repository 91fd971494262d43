package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/runtime"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		ui       bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat backend server",
		Long:  "Loads configuration, wires the model providers, and serves the chat API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runtime.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("ui") {
				cfg.Server.UI = ui
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}

			rt, err := runtime.New(cfg, runtime.Options{})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- rt.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := rt.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&ui, "ui", false, "Serve the built-in web frontend")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")

	return cmd
}
