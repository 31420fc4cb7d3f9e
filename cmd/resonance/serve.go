package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/resonance/internal/app"
	"github.com/ent0n29/resonance/internal/config"
	"github.com/ent0n29/resonance/internal/observability"
)

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		Long: `Run the HTTP and websocket API.

Environment:
  APP_BIND_ADDR       listen address (default :8080)
  STORE_URL           empty for in-memory, postgres://..., or a SQLite path
  REDIS_URL           optional strategy cache
  BRAIN_MODE          auto|openai|http|mock|none (default auto)
  OPENAI_API_KEY      enables the OpenAI provider in auto mode
  BRAIN_HTTP_URL      enables the HTTP provider in auto mode
  LEXICON_PATH        optional YAML lexicon override`,
		Example: "  BRAIN_MODE=mock resonance serve --addr :9090",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(os.Stdout)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.BindAddr = addr
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override APP_BIND_ADDR")
	return cmd
}

func runServer(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log := observability.Logger()

	built, err := app.Build(parent, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Error("cleanup failed", "error", err)
		}
	}()
	if !built.Brain.Configured {
		log.Warn("no generative service configured; every turn will get the fallback apology", "brain_mode", cfg.BrainMode)
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(parent)
	defer runCancel()
	built.Start(runCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.BindAddr, "store", built.Companion.Healthy().StoreMode, "brain_mode", cfg.BrainMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutdown signal received")
	case <-parent.Done():
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	log.Info("shutdown complete")
	return nil
}
