package semantic

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// MemoryIndex is an exact, brute-force index kept in process memory. It is
// used in tests and for single-process deployments without Qdrant.
type MemoryIndex struct {
	mu   sync.RWMutex
	dims int
	rows []memRow
}

type memRow struct {
	id        string
	vec       domain.Vector
	createdAt time.Time
}

// NewMemoryIndex creates an empty index for vectors of the given dimension.
func NewMemoryIndex(dims int) *MemoryIndex {
	return &MemoryIndex{dims: dims}
}

var _ Index = (*MemoryIndex)(nil)

// Index adds or replaces the ticket's vector.
func (m *MemoryIndex) Index(_ context.Context, t domain.Ticket) error {
	if err := CheckDims(t.Vector, m.dims); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row := memRow{id: t.ID, vec: append(domain.Vector(nil), t.Vector...), createdAt: t.CreatedAt}
	for i := range m.rows {
		if m.rows[i].id == t.ID {
			m.rows[i] = row
			return nil
		}
	}
	m.rows = append(m.rows, row)
	return nil
}

// FindNearest scores every in-scope vector by cosine similarity.
func (m *MemoryIndex) FindNearest(ctx context.Context, vec domain.Vector, k int, scope Scope) ([]Candidate, error) {
	if err := CheckDims(vec, m.dims); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]Candidate, 0, len(m.rows))
	for _, r := range m.rows {
		if !scope.Since.IsZero() && r.createdAt.Before(scope.Since) {
			continue
		}
		out = append(out, Candidate{
			TicketID:  r.id,
			Score:     float32(Cosine(vec, r.vec)),
			CreatedAt: r.createdAt,
			Vector:    r.vec,
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Len returns the number of indexed vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
