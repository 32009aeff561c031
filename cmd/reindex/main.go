// Command reindex rebuilds the vector index from the ticket store. Run it
// after an index outage, or with --reembed after changing the embedding
// model.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/helpdeskai/helpdesk/engine/app"
	"github.com/helpdeskai/helpdesk/pkg/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to config.yaml")
		reembed    = pflag.Bool("reembed", false, "recompute every vector with the configured embedding model")
		recreate   = pflag.Bool("recreate", false, "drop and recreate the Qdrant collection first")
		batch      = pflag.Int("batch", 64, "tickets per store page and index upsert")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Overrides{})
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	r := &reindexer{
		store:    a.Store,
		index:    a.Index,
		embedder: a.Embedder,
		log:      log,
		opts:     options{Reembed: *reembed, Recreate: *recreate, Batch: *batch},
	}
	st, err := r.run(ctx)
	log.Info("reindex finished", "tickets", st.Tickets, "reembedded", st.Reembedded, "pages", st.Pages)
	if err != nil {
		log.Error("reindex failed", "err", err)
		a.Close()
		os.Exit(1)
	}
}
