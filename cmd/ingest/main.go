// Command ingest polls the support mailbox and turns new email into
// tickets. With --once it runs a single cycle and exits, which suits cron.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/helpdeskai/helpdesk/engine/app"
	"github.com/helpdeskai/helpdesk/pkg/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to config.yaml")
		once       = pflag.Bool("once", false, "run one cycle and exit")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	if err := run(cfg, *once, log); err != nil {
		log.Error("ingest exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, once bool, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Overrides{})
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.WithIngest(ctx, app.Overrides{}); err != nil {
		return err
	}

	if once {
		report, err := a.Runner.RunCycle(ctx)
		log.Info("cycle finished", "report", report.String())
		return err
	}

	a.Metrics.CollectRuntime(ctx, 15*time.Second)
	a.Metrics.ServeAsync(ctx, cfg.MetricsPort, log)

	if err := a.Sched.Start(ctx); err != nil {
		return err
	}
	log.Info("polling mailbox", "interval", cfg.Ingest.PollInterval, "workers", cfg.Ingest.Workers, "policy", cfg.Mail.Policy)

	<-ctx.Done()
	log.Info("shutting down")
	// Stop waits for an in-flight cycle; its context is already cancelled.
	a.Sched.Stop()
	return nil
}
