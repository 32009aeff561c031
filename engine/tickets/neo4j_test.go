package tickets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/pkg/repo"
)

type fakeRepo struct {
	created   []domain.Ticket
	createErr error
	listOpts  repo.ListOpts
	expect    map[string]any
	props     map[string]any
	updateErr error
	counts    map[string]map[string]int64
	getErr    error
}

func (f *fakeRepo) Get(_ context.Context, id string) (domain.Ticket, error) {
	if f.getErr != nil {
		return domain.Ticket{}, f.getErr
	}
	return domain.Ticket{ID: id}, nil
}

func (f *fakeRepo) List(_ context.Context, opts repo.ListOpts) ([]domain.Ticket, error) {
	f.listOpts = opts
	return nil, nil
}

func (f *fakeRepo) Create(_ context.Context, t domain.Ticket) (domain.Ticket, error) {
	if f.createErr != nil {
		return domain.Ticket{}, f.createErr
	}
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeRepo) UpdateIf(_ context.Context, id string, expect, props map[string]any) (domain.Ticket, error) {
	f.expect, f.props = expect, props
	if f.updateErr != nil {
		return domain.Ticket{}, f.updateErr
	}
	return domain.Ticket{ID: id, Status: domain.Status(str(props, "status"))}, nil
}

func (f *fakeRepo) CountBy(_ context.Context, field string) (map[string]int64, error) {
	return f.counts[field], nil
}

func (f *fakeRepo) EnsureSchema(context.Context, ...string) error { return nil }

func TestNeo4jStore_InsertWrapsErrors(t *testing.T) {
	s := &Neo4jStore{r: &fakeRepo{createErr: errors.New("connection reset")}}
	err := s.Insert(context.Background(), domain.Ticket{ID: "a"})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestNeo4jStore_ListOpts(t *testing.T) {
	f := &fakeRepo{}
	s := &Neo4jStore{r: f}
	since := time.UnixMilli(1_700_000_000_000)
	_, err := s.List(context.Background(), Query{
		Team:       domain.TeamIT,
		Statuses:   []domain.Status{domain.StatusClosed, domain.StatusSpam},
		WithVector: true,
		Since:      since,
		Order:      OrderHistory,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	o := f.listOpts
	if o.Filter["team"] != "IT" || o.Filter["hasVector"] != true {
		t.Fatalf("unexpected filter %v", o.Filter)
	}
	if st, ok := o.Filter["status"].([]string); !ok || len(st) != 2 {
		t.Fatalf("expected status slice, got %v", o.Filter["status"])
	}
	if o.SinceKey != "createdAt" || o.Since != since.UnixMilli() {
		t.Fatalf("unexpected since %s=%v", o.SinceKey, o.Since)
	}
	if len(o.OrderBy) != 1 || o.OrderBy[0].Field != "updatedAt" || !o.OrderBy[0].Desc {
		t.Fatalf("unexpected order %v", o.OrderBy)
	}
	if o.Limit != DefaultLimit {
		t.Fatalf("expected default limit, got %d", o.Limit)
	}

	s.List(context.Background(), Query{Team: AllTeams, Statuses: []domain.Status{domain.StatusOpen}})
	if _, ok := f.listOpts.Filter["team"]; ok {
		t.Fatal("Admin must not filter by team")
	}
	if f.listOpts.Filter["status"] != "open" {
		t.Fatalf("single status should be scalar, got %v", f.listOpts.Filter["status"])
	}
	if ob := f.listOpts.OrderBy; ob[0].Field != "priority" || ob[0].Desc || ob[1].Field != "createdAt" || !ob[1].Desc {
		t.Fatalf("unexpected queue order %v", ob)
	}
}

func TestNeo4jStore_Transition(t *testing.T) {
	f := &fakeRepo{}
	s := &Neo4jStore{r: f}
	now := time.UnixMilli(1_700_000_000_000)
	got, err := s.Transition(context.Background(), "a", domain.StatusClosed, now)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Status != domain.StatusClosed || f.expect["status"] != "open" || f.props["updatedAt"] != now.UnixMilli() {
		t.Fatalf("unexpected guarded update expect=%v props=%v", f.expect, f.props)
	}

	if _, err := s.Transition(context.Background(), "a", domain.StatusOpen, now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("→open must be rejected before touching the store, got %v", err)
	}

	f.updateErr = repo.ErrPrecondition
	if _, err := s.Transition(context.Background(), "a", domain.StatusSpam, now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	f.updateErr = repo.ErrNotFound
	if _, err := s.Transition(context.Background(), "a", domain.StatusSpam, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNeo4jStore_SetVector(t *testing.T) {
	f := &fakeRepo{}
	s := &Neo4jStore{r: f}
	if err := s.SetVector(context.Background(), "a", domain.Vector{0.5, 0.25}); err != nil {
		t.Fatalf("SetVector: %v", err)
	}
	vec, ok := f.props["vector"].([]float64)
	if !ok || len(vec) != 2 || vec[0] != 0.5 || f.expect["hasVector"] != true {
		t.Fatalf("unexpected update expect=%v props=%v", f.expect, f.props)
	}
	if _, touched := f.props["updatedAt"]; touched {
		t.Fatal("updatedAt must not change")
	}
	f.updateErr = repo.ErrPrecondition
	if err := s.SetVector(context.Background(), "a", domain.Vector{1}); err == nil {
		t.Fatal("expected error for a ticket without a vector")
	}
}

func TestNeo4jStore_Stats(t *testing.T) {
	f := &fakeRepo{counts: map[string]map[string]int64{
		"status":     {"open": 2, "closed": 1},
		"priority":   {"1": 2, "3": 1},
		"team":       {"IT": 3},
		"createdDay": {"2026-04-02": 1, "2026-04-01": 2},
	}}
	st, err := (&Neo4jStore{r: f}).Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.ByStatus[domain.StatusOpen] != 2 || st.ByPriority[1] != 2 || st.ByTeam[domain.TeamIT] != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.CreatedPerDay[0].Day != "2026-04-01" || st.CreatedPerDay[1].Count != 1 {
		t.Fatalf("per-day not sorted: %+v", st.CreatedPerDay)
	}
}

func TestTicketNodeRoundTrip(t *testing.T) {
	created := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	in := domain.Ticket{
		ID: "a", Sender: "j@example.com", Team: domain.TeamTechSupport, Priority: 2,
		Subject: "Printer", Summary: "Printer jams.", Body: "It jams", Status: domain.StatusOpen,
		Vector: domain.Vector{0.6, 0.8}, CreatedAt: created, UpdatedAt: created,
	}
	props := ticketToMap(in)
	if props["createdDay"] != "2026-04-01" || props["hasVector"] != true {
		t.Fatalf("derived props missing: %v", props)
	}

	// The driver returns lists as []any.
	vec := props["vector"].([]float64)
	props["vector"] = []any{vec[0], vec[1]}
	rec := &neo4j.Record{Keys: []string{"n"}, Values: []any{dbtype.Node{Props: props}}}
	out, err := ticketFromRecord(rec)
	if err != nil {
		t.Fatalf("ticketFromRecord: %v", err)
	}
	if out.ID != in.ID || out.Team != in.Team || out.Priority != 2 || !out.CreatedAt.Equal(created) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if len(out.Vector) != 2 || out.Vector[1] != 0.8 {
		t.Fatalf("vector lost: %v", out.Vector)
	}

	manual := ticketToMap(domain.Ticket{ID: "m", CreatedAt: created, UpdatedAt: created})
	if _, ok := manual["vector"]; ok {
		t.Fatal("manual tickets must not carry a vector property")
	}
}
