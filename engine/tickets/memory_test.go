package tickets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func ticket(id string, team domain.Team, prio int, status domain.Status, created time.Time) domain.Ticket {
	return domain.Ticket{
		ID: id, Sender: id + "@example.com", Team: team, Priority: prio,
		Subject: "s", Summary: "x", Body: "b", Status: status,
		CreatedAt: created, UpdatedAt: created,
	}
}

func seed(t *testing.T, s Store, ts ...domain.Ticket) {
	t.Helper()
	for _, tk := range ts {
		if err := s.Insert(context.Background(), tk); err != nil {
			t.Fatalf("Insert %s: %v", tk.ID, err)
		}
	}
}

func ids(ts []domain.Ticket) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMemory_InsertGet(t *testing.T) {
	s := NewMemory()
	tk := ticket("a", domain.TeamBilling, 2, domain.StatusOpen, t0)
	tk.Vector = domain.Vector{1, 0}
	seed(t, s, tk)

	got, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Sender != tk.Sender || !got.HasVector() {
		t.Fatalf("unexpected ticket %+v", got)
	}
	got.Vector[0] = 9
	again, _ := s.Get(context.Background(), "a")
	if again.Vector[0] != 1 {
		t.Fatal("store leaked its internal vector")
	}

	if err := s.Insert(context.Background(), tk); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("duplicate insert: expected persistence error, got %v", err)
	}
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemory_ListQueueOrder(t *testing.T) {
	s := NewMemory()
	seed(t, s,
		ticket("p3-old", domain.TeamIT, 3, domain.StatusOpen, t0),
		ticket("p1", domain.TeamIT, 1, domain.StatusOpen, t0),
		ticket("p3-new", domain.TeamIT, 3, domain.StatusOpen, t0.Add(time.Hour)),
		ticket("billing", domain.TeamBilling, 1, domain.StatusOpen, t0),
		ticket("closed", domain.TeamIT, 1, domain.StatusClosed, t0),
	)

	got, err := s.List(context.Background(), Query{Team: domain.TeamIT, Statuses: []domain.Status{domain.StatusOpen}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"p1", "p3-new", "p3-old"}; !equal(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}

	all, _ := s.List(context.Background(), Query{Team: AllTeams, Statuses: []domain.Status{domain.StatusOpen}})
	if len(all) != 4 {
		t.Fatalf("Admin should see all teams, got %v", ids(all))
	}

	page, _ := s.List(context.Background(), Query{Team: AllTeams, Offset: 1, Limit: 2})
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %v", ids(page))
	}
}

func TestMemory_TransitionAndHistory(t *testing.T) {
	s := NewMemory()
	seed(t, s,
		ticket("a", domain.TeamHR, 2, domain.StatusOpen, t0),
		ticket("b", domain.TeamHR, 2, domain.StatusOpen, t0),
	)
	ctx := context.Background()
	if _, err := s.Transition(ctx, "a", domain.StatusClosed, t0.Add(time.Minute)); err != nil {
		t.Fatalf("close a: %v", err)
	}
	if _, err := s.Transition(ctx, "b", domain.StatusSpam, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("spam b: %v", err)
	}
	if _, err := s.Transition(ctx, "a", domain.StatusSpam, t0.Add(3*time.Minute)); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("closed→spam: expected invalid transition, got %v", err)
	}
	if _, err := s.Transition(ctx, "zzz", domain.StatusClosed, t0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	hist, _ := s.List(ctx, Query{Team: domain.TeamHR, Statuses: []domain.Status{domain.StatusClosed, domain.StatusSpam}, Order: OrderHistory})
	if want := []string{"b", "a"}; !equal(ids(hist), want) {
		t.Fatalf("history order: got %v, want %v", ids(hist), want)
	}
}

func TestMemory_SetReply(t *testing.T) {
	s := NewMemory()
	seed(t, s, ticket("a", domain.TeamSales, 4, domain.StatusOpen, t0))
	later := t0.Add(time.Hour)
	got, err := s.SetReply(context.Background(), "a", "We'll send a quote.", later)
	if err != nil {
		t.Fatalf("SetReply: %v", err)
	}
	if got.Reply != "We'll send a quote." || !got.UpdatedAt.Equal(later) {
		t.Fatalf("reply not applied: %+v", got)
	}
}

func TestMemory_VectorAndSinceFilters(t *testing.T) {
	s := NewMemory()
	withVec := ticket("v", domain.TeamIT, 2, domain.StatusOpen, t0.Add(time.Hour))
	withVec.Vector = domain.Vector{0, 1}
	oldVec := ticket("old", domain.TeamIT, 2, domain.StatusOpen, t0.Add(-48*time.Hour))
	oldVec.Vector = domain.Vector{1, 0}
	seed(t, s, withVec, oldVec, ticket("manual", domain.TeamIT, 2, domain.StatusOpen, t0))

	got, _ := s.List(context.Background(), Query{WithVector: true, Order: OrderCreated})
	if want := []string{"old", "v"}; !equal(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
	got, _ = s.List(context.Background(), Query{WithVector: true, Since: t0})
	if want := []string{"v"}; !equal(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
}

func TestMemory_SetVector(t *testing.T) {
	s := NewMemory()
	tk := ticket("a", domain.TeamIT, 2, domain.StatusOpen, t0)
	tk.Vector = domain.Vector{1, 0}
	seed(t, s, tk)
	if err := s.SetVector(context.Background(), "a", domain.Vector{0, 1}); err != nil {
		t.Fatalf("SetVector: %v", err)
	}
	got, _ := s.Get(context.Background(), "a")
	if got.Vector[1] != 1 || !got.UpdatedAt.Equal(t0) {
		t.Fatalf("vector not replaced or updatedAt touched: %+v", got)
	}
	if err := s.SetVector(context.Background(), "missing", domain.Vector{0, 1}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemory_Stats(t *testing.T) {
	s := NewMemory()
	seed(t, s,
		ticket("a", domain.TeamIT, 1, domain.StatusOpen, t0),
		ticket("b", domain.TeamIT, 2, domain.StatusClosed, t0.Add(24*time.Hour)),
		ticket("c", domain.TeamBilling, 1, domain.StatusOpen, t0.Add(25*time.Hour)),
	)
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.ByStatus[domain.StatusOpen] != 2 || st.ByTeam[domain.TeamIT] != 2 || st.ByPriority[1] != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
	want := []DayCount{{"2026-04-01", 1}, {"2026-04-02", 2}}
	if len(st.CreatedPerDay) != 2 || st.CreatedPerDay[0] != want[0] || st.CreatedPerDay[1] != want[1] {
		t.Fatalf("unexpected per-day %+v", st.CreatedPerDay)
	}
}
