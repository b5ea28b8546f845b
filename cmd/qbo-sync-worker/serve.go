package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vipul43/qbo-sync-worker/internal/api"
	"github.com/vipul43/qbo-sync-worker/internal/database"
	"github.com/vipul43/qbo-sync-worker/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic sync watcher",
	RunE:  runServe,
}

var serveNoWatcher bool

func init() {
	serveCmd.Flags().BoolVar(&serveNoWatcher, "no-watcher", false, "serve the API without periodic sync cycles")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.accounts, a.orchestrator)
	router := api.NewRouter(handler, database.NewReadinessChecker(a.db), a.logger)
	server := api.NewServer(a.cfg.HTTPPort, router, a.logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 2)
	go func() {
		errChan <- server.Start()
	}()

	watcherDone := make(chan error, 1)
	if serveNoWatcher {
		close(watcherDone)
	} else {
		w := watcher.New(a.cfg.PollInterval, a.orchestrator, a.logger)
		go func() {
			watcherDone <- w.Start(ctx)
		}()
	}

	select {
	case <-sigChan:
		a.logger.Info("Shutdown signal received")
	case err := <-errChan:
		if err != nil {
			a.logger.Error("HTTP server stopped", slog.Any("error", err))
			cancel()
			return err
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown incomplete", slog.Any("error", err))
	}

	select {
	case <-shutdownCtx.Done():
		a.logger.Warn("Shutdown timeout exceeded")
	case err := <-watcherDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Watcher error", slog.Any("error", err))
		}
	}

	a.logger.Info("Application stopped")
	return nil
}
