// Package semantic finds previously indexed tickets whose embeddings are
// close to a query vector.
package semantic

import (
	"context"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// Candidate is one neighbour returned by a search. Vector is the stored
// embedding so callers can re-score independently of the index's own
// approximate score.
type Candidate struct {
	TicketID  string        `json:"ticket_id"`
	Score     float32       `json:"score"`
	CreatedAt time.Time     `json:"created_at"`
	Vector    domain.Vector `json:"-"`
}

// Scope restricts a search. Tickets created before Since are never returned.
// A zero Since searches everything.
type Scope struct {
	Since time.Time
}

// Within returns a scope covering the window ending at now.
func Within(now time.Time, window time.Duration) Scope {
	return Scope{Since: now.Add(-window)}
}

// Searcher returns at most k candidates ordered by descending score.
type Searcher interface {
	FindNearest(ctx context.Context, vec domain.Vector, k int, scope Scope) ([]Candidate, error)
}

// Indexer makes a persisted ticket's vector searchable.
type Indexer interface {
	Index(ctx context.Context, t domain.Ticket) error
}

// Index is a searchable ticket-vector index.
type Index interface {
	Searcher
	Indexer
}
