package tickets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// Memory is an in-process Store.
type Memory struct {
	mu sync.RWMutex
	m  map[string]domain.Ticket
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]domain.Ticket)}
}

func (s *Memory) Insert(_ context.Context, t domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[t.ID]; ok {
		return &domain.PersistenceError{Op: "insert", Err: fmt.Errorf("ticket %s already exists", t.ID)}
	}
	s.m[t.ID] = clone(t)
	return nil
}

func (s *Memory) Get(_ context.Context, id string) (domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.m[id]
	if !ok {
		return domain.Ticket{}, fmt.Errorf("tickets: %s: %w", id, domain.ErrNotFound)
	}
	return clone(t), nil
}

func (s *Memory) List(_ context.Context, q Query) ([]domain.Ticket, error) {
	s.mu.RLock()
	var out []domain.Ticket
	for _, t := range s.m {
		if q.matches(t) {
			out = append(out, clone(t))
		}
	}
	s.mu.RUnlock()

	sortTickets(out, q.Order)
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Transition(_ context.Context, id string, to domain.Status, now time.Time) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[id]
	if !ok {
		return domain.Ticket{}, fmt.Errorf("tickets: %s: %w", id, domain.ErrNotFound)
	}
	if err := t.Transition(to, now); err != nil {
		return domain.Ticket{}, err
	}
	s.m[id] = t
	return clone(t), nil
}

func (s *Memory) SetReply(_ context.Context, id, reply string, now time.Time) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[id]
	if !ok {
		return domain.Ticket{}, fmt.Errorf("tickets: %s: %w", id, domain.ErrNotFound)
	}
	t.SetReply(reply, now)
	s.m[id] = t
	return clone(t), nil
}

func (s *Memory) SetVector(_ context.Context, id string, vec domain.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[id]
	if !ok {
		return fmt.Errorf("tickets: %s: %w", id, domain.ErrNotFound)
	}
	t.Vector = append(domain.Vector(nil), vec...)
	s.m[id] = t
	return nil
}

func (s *Memory) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		ByStatus:   make(map[domain.Status]int64),
		ByPriority: make(map[int]int64),
		ByTeam:     make(map[domain.Team]int64),
	}
	perDay := make(map[string]int64)
	for _, t := range s.m {
		st.ByStatus[t.Status]++
		st.ByPriority[t.Priority]++
		st.ByTeam[t.Team]++
		perDay[dayOf(t.CreatedAt)]++
	}
	st.CreatedPerDay = sortedDays(perDay)
	return st, nil
}

// Len returns the number of stored tickets.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func clone(t domain.Ticket) domain.Ticket {
	if t.Vector != nil {
		t.Vector = append(domain.Vector(nil), t.Vector...)
	}
	return t
}
