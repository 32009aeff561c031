// Package tickets persists helpdesk tickets.
package tickets

import (
	"context"
	"sort"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// AllTeams in a Query matches tickets of every team.
const AllTeams domain.Team = "Admin"

// Order selects a result ordering.
type Order int

const (
	// OrderQueue sorts by priority ascending, then newest first.
	OrderQueue Order = iota
	// OrderHistory sorts by last update, newest first.
	OrderHistory
	// OrderCreated sorts by creation time, oldest first.
	OrderCreated
)

// Query filters and orders a List call.
type Query struct {
	// Team restricts to one team; empty or AllTeams means every team.
	Team     domain.Team
	Statuses []domain.Status
	// WithVector keeps only tickets created by ingestion.
	WithVector bool
	// Since keeps tickets created at or after Since. Zero means no bound.
	Since  time.Time
	Order  Order
	Offset int
	Limit  int
}

// DayCount is the number of tickets created on one UTC day.
type DayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// Stats summarizes the ticket population.
type Stats struct {
	ByStatus      map[domain.Status]int64 `json:"statusCounts"`
	ByPriority    map[int]int64           `json:"priorityCounts"`
	ByTeam        map[domain.Team]int64   `json:"teamCounts"`
	CreatedPerDay []DayCount              `json:"createdOverTime"`
}

// Store is the durable ticket collection. Tickets are never deleted.
type Store interface {
	// Insert persists a new ticket. Failures are *domain.PersistenceError.
	Insert(ctx context.Context, t domain.Ticket) error
	Get(ctx context.Context, id string) (domain.Ticket, error)
	List(ctx context.Context, q Query) ([]domain.Ticket, error)
	// Transition atomically moves an open ticket to a terminal status.
	Transition(ctx context.Context, id string, to domain.Status, now time.Time) (domain.Ticket, error)
	SetReply(ctx context.Context, id, reply string, now time.Time) (domain.Ticket, error)
	// SetVector replaces the embedding of a ticket that already has one.
	// UpdatedAt is left alone; re-embedding is not a user-visible change.
	SetVector(ctx context.Context, id string, vec domain.Vector) error
	Stats(ctx context.Context) (Stats, error)
}

// DefaultLimit caps List when Query.Limit is unset.
const DefaultLimit = 100

func dayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

func (q Query) matches(t domain.Ticket) bool {
	if q.Team != "" && q.Team != AllTeams && t.Team != q.Team {
		return false
	}
	if len(q.Statuses) > 0 {
		ok := false
		for _, s := range q.Statuses {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if q.WithVector && !t.HasVector() {
		return false
	}
	if !q.Since.IsZero() && t.CreatedAt.Before(q.Since) {
		return false
	}
	return true
}

func sortTickets(ts []domain.Ticket, o Order) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		switch o {
		case OrderHistory:
			return a.UpdatedAt.After(b.UpdatedAt)
		case OrderCreated:
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
	})
}

func sortedDays(perDay map[string]int64) []DayCount {
	out := make([]DayCount, 0, len(perDay))
	for d, n := range perDay {
		out = append(out, DayCount{Day: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}
