// Package main implements the helpdesk API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/helpdeskai/helpdesk/engine/app"
	"github.com/helpdeskai/helpdesk/pkg/config"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yaml")
	poll := pflag.Bool("poll", false, "also poll the mailbox on the configured interval")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, *poll, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, poll bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Overrides{})
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.WithIngest(ctx, app.Overrides{}); err != nil {
		return err
	}

	if poll {
		if err := a.Sched.Start(ctx); err != nil {
			return err
		}
		defer a.Sched.Stop()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      newServer(a).routes(a.Metrics, cfg.HTTP.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.HTTP.Port, "poll", poll)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// newServer exposes the app's store and pipeline over HTTP.
func newServer(a *app.App) *server {
	s := &server{
		store:    a.Store,
		pipeline: a.Pipeline,
		clock:    a.Clock,
		log:      a.Log,
	}
	if a.Sched != nil && a.Runner != nil {
		s.cycles = a.Sched
		s.reports = a.Runner
	}
	return s
}
