package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/engine/embed"
	"github.com/helpdeskai/helpdesk/engine/semantic"
	"github.com/helpdeskai/helpdesk/engine/tickets"
	"github.com/helpdeskai/helpdesk/pkg/fn"
)

// batchIndexer is implemented by indexes that can upsert many points per
// request.
type batchIndexer interface {
	IndexBatch(ctx context.Context, ts []domain.Ticket) error
}

// collectionManager is implemented by indexes backed by a named collection.
type collectionManager interface {
	DeleteCollection(ctx context.Context) error
	EnsureCollection(ctx context.Context) error
}

type options struct {
	Reembed  bool
	Recreate bool
	Batch    int
}

type stats struct {
	Tickets    int
	Reembedded int
	Pages      int
}

type reindexer struct {
	store    tickets.Store
	index    semantic.Indexer
	embedder *embed.Client
	log      *slog.Logger
	opts     options
}

var errNoCollection = errors.New("reindex: index has no collection to recreate")

// run walks every ingested ticket oldest first and pushes its vector into
// the index. Manually created tickets carry no vector and are skipped.
func (r *reindexer) run(ctx context.Context) (stats, error) {
	var st stats
	if r.opts.Batch <= 0 {
		r.opts.Batch = 64
	}
	if r.opts.Recreate {
		cm, ok := r.index.(collectionManager)
		if !ok {
			return st, errNoCollection
		}
		if err := cm.DeleteCollection(ctx); err != nil {
			return st, fmt.Errorf("reindex: drop collection: %w", err)
		}
		if err := cm.EnsureCollection(ctx); err != nil {
			return st, fmt.Errorf("reindex: create collection: %w", err)
		}
		r.log.Info("collection recreated")
	}

	q := tickets.Query{WithVector: true, Order: tickets.OrderCreated, Limit: r.opts.Batch}
	for {
		page, err := r.store.List(ctx, q)
		if err != nil {
			return st, fmt.Errorf("reindex: list offset %d: %w", q.Offset, err)
		}
		if len(page) == 0 {
			return st, nil
		}
		st.Pages++

		if r.opts.Reembed {
			if err := r.reembed(ctx, page); err != nil {
				return st, err
			}
			st.Reembedded += len(page)
		}
		if err := r.push(ctx, page); err != nil {
			return st, err
		}
		st.Tickets += len(page)
		r.log.Info("page indexed", "offset", q.Offset, "tickets", len(page), "total", st.Tickets)

		if len(page) < q.Limit {
			return st, nil
		}
		q.Offset += len(page)
	}
}

// reembed replaces each ticket's vector in place and in the store.
func (r *reindexer) reembed(ctx context.Context, page []domain.Ticket) error {
	bodies := fn.Map(page, func(t domain.Ticket) string { return t.Body })
	vecs, err := r.embedder.EmbedBatch(ctx, bodies)
	if err != nil {
		return fmt.Errorf("reindex: embed: %w", err)
	}
	for i := range page {
		if err := r.store.SetVector(ctx, page[i].ID, vecs[i]); err != nil {
			return fmt.Errorf("reindex: store vector %s: %w", page[i].ID, err)
		}
		page[i].Vector = vecs[i]
	}
	return nil
}

func (r *reindexer) push(ctx context.Context, page []domain.Ticket) error {
	if bi, ok := r.index.(batchIndexer); ok {
		for _, chunk := range fn.Chunk(page, r.opts.Batch) {
			if err := bi.IndexBatch(ctx, chunk); err != nil {
				return fmt.Errorf("reindex: upsert: %w", err)
			}
		}
		return nil
	}
	for _, t := range page {
		if err := r.index.Index(ctx, t); err != nil {
			return fmt.Errorf("reindex: index %s: %w", t.ID, err)
		}
	}
	return nil
}
