package tickets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"golang.org/x/sync/errgroup"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/pkg/repo"
)

// Label is the Neo4j node label for tickets.
const Label = "Ticket"

// nodeRepo is the slice of repo.Neo4jRepo the store uses.
type nodeRepo interface {
	Get(ctx context.Context, id string) (domain.Ticket, error)
	List(ctx context.Context, opts repo.ListOpts) ([]domain.Ticket, error)
	Create(ctx context.Context, t domain.Ticket) (domain.Ticket, error)
	UpdateIf(ctx context.Context, id string, expect, props map[string]any) (domain.Ticket, error)
	CountBy(ctx context.Context, field string) (map[string]int64, error)
	EnsureSchema(ctx context.Context, indexed ...string) error
}

// Neo4jStore keeps tickets as :Ticket nodes.
type Neo4jStore struct {
	r nodeRepo
}

// NewNeo4jStore creates a store on driver. database may be empty.
func NewNeo4jStore(driver neo4j.DriverWithContext, database string) *Neo4jStore {
	return &Neo4jStore{r: repo.NewNeo4jRepo[domain.Ticket, string](
		driver, Label, ticketToMap, ticketFromRecord,
		repo.WithDatabase[domain.Ticket, string](database),
	)}
}

// EnsureSchema creates the id constraint and the indexes List relies on.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	return s.r.EnsureSchema(ctx, "status", "team", "createdAt", "updatedAt")
}

func (s *Neo4jStore) Insert(ctx context.Context, t domain.Ticket) error {
	if _, err := s.r.Create(ctx, t); err != nil {
		return &domain.PersistenceError{Op: "insert", Err: err}
	}
	return nil
}

func (s *Neo4jStore) Get(ctx context.Context, id string) (domain.Ticket, error) {
	t, err := s.r.Get(ctx, id)
	return t, mapErr(id, err)
}

func (s *Neo4jStore) List(ctx context.Context, q Query) ([]domain.Ticket, error) {
	opts := repo.ListOpts{Offset: q.Offset, Limit: q.Limit, Filter: map[string]any{}}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if q.Team != "" && q.Team != AllTeams {
		opts.Filter["team"] = string(q.Team)
	}
	switch len(q.Statuses) {
	case 0:
	case 1:
		opts.Filter["status"] = string(q.Statuses[0])
	default:
		ss := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			ss[i] = string(st)
		}
		opts.Filter["status"] = ss
	}
	if q.WithVector {
		opts.Filter["hasVector"] = true
	}
	if !q.Since.IsZero() {
		opts.SinceKey, opts.Since = "createdAt", q.Since.UnixMilli()
	}
	switch q.Order {
	case OrderHistory:
		opts.OrderBy = []repo.Order{{Field: "updatedAt", Desc: true}}
	case OrderCreated:
		opts.OrderBy = []repo.Order{{Field: "createdAt"}, {Field: "id"}}
	default:
		opts.OrderBy = []repo.Order{{Field: "priority"}, {Field: "createdAt", Desc: true}}
	}
	ts, err := s.r.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("tickets: list: %w", err)
	}
	return ts, nil
}

// Transition only writes when the stored status is still open, so two
// concurrent transitions cannot both succeed.
func (s *Neo4jStore) Transition(ctx context.Context, id string, to domain.Status, now time.Time) (domain.Ticket, error) {
	probe := domain.Ticket{Status: domain.StatusOpen}
	if err := probe.Transition(to, now); err != nil {
		return domain.Ticket{}, err
	}
	t, err := s.r.UpdateIf(ctx, id,
		map[string]any{"status": string(domain.StatusOpen)},
		map[string]any{"status": string(to), "updatedAt": now.UnixMilli()},
	)
	if errors.Is(err, repo.ErrPrecondition) {
		return domain.Ticket{}, fmt.Errorf("tickets: %s→%s: %w", id, to, domain.ErrInvalidTransition)
	}
	return t, mapErr(id, err)
}

func (s *Neo4jStore) SetReply(ctx context.Context, id, reply string, now time.Time) (domain.Ticket, error) {
	t, err := s.r.UpdateIf(ctx, id, nil, map[string]any{"reply": reply, "updatedAt": now.UnixMilli()})
	return t, mapErr(id, err)
}

func (s *Neo4jStore) SetVector(ctx context.Context, id string, vec domain.Vector) error {
	_, err := s.r.UpdateIf(ctx, id,
		map[string]any{"hasVector": true},
		map[string]any{"vector": float64s(vec)},
	)
	if errors.Is(err, repo.ErrPrecondition) {
		return fmt.Errorf("tickets: %s has no vector to replace", id)
	}
	return mapErr(id, err)
}

// Stats runs the four aggregations concurrently.
func (s *Neo4jStore) Stats(ctx context.Context) (Stats, error) {
	fields := []string{"status", "priority", "team", "createdDay"}
	counts := make([]map[string]int64, len(fields))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range fields {
		g.Go(func() error {
			c, err := s.r.CountBy(ctx, f)
			counts[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("tickets: stats: %w", err)
	}

	st := Stats{
		ByStatus:   make(map[domain.Status]int64),
		ByPriority: make(map[int]int64),
		ByTeam:     make(map[domain.Team]int64),
	}
	for k, n := range counts[0] {
		st.ByStatus[domain.Status(k)] += n
	}
	for k, n := range counts[1] {
		p, _ := strconv.Atoi(k)
		st.ByPriority[p] += n
	}
	for k, n := range counts[2] {
		st.ByTeam[domain.Team(k)] += n
	}
	st.CreatedPerDay = sortedDays(counts[3])
	return st, nil
}

func mapErr(id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("tickets: %s: %w", id, domain.ErrNotFound)
	default:
		return fmt.Errorf("tickets: %s: %w", id, err)
	}
}

func ticketToMap(t domain.Ticket) map[string]any {
	m := map[string]any{
		"id":         t.ID,
		"sender":     t.Sender,
		"team":       string(t.Team),
		"priority":   int64(t.Priority),
		"subject":    t.Subject,
		"summary":    t.Summary,
		"body":       t.Body,
		"status":     string(t.Status),
		"reply":      t.Reply,
		"createdAt":  t.CreatedAt.UnixMilli(),
		"updatedAt":  t.UpdatedAt.UnixMilli(),
		"createdDay": dayOf(t.CreatedAt),
		"hasVector":  t.HasVector(),
	}
	if t.HasVector() {
		m["vector"] = float64s(t.Vector)
	}
	return m
}

// float64s converts to the list type Neo4j stores.
func float64s(v domain.Vector) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func ticketFromRecord(rec *neo4j.Record) (domain.Ticket, error) {
	v, ok := rec.Get("n")
	if !ok {
		return domain.Ticket{}, errors.New("tickets: record has no node")
	}
	var props map[string]any
	switch n := v.(type) {
	case dbtype.Node:
		props = n.Props
	case map[string]any:
		props = n
	default:
		return domain.Ticket{}, fmt.Errorf("tickets: unexpected node type %T", v)
	}
	return ticketFromProps(props), nil
}

func ticketFromProps(p map[string]any) domain.Ticket {
	t := domain.Ticket{
		ID:        str(p, "id"),
		Sender:    str(p, "sender"),
		Team:      domain.Team(str(p, "team")),
		Priority:  int(num(p, "priority")),
		Subject:   str(p, "subject"),
		Summary:   str(p, "summary"),
		Body:      str(p, "body"),
		Status:    domain.Status(str(p, "status")),
		Reply:     str(p, "reply"),
		CreatedAt: time.UnixMilli(num(p, "createdAt")).UTC(),
		UpdatedAt: time.UnixMilli(num(p, "updatedAt")).UTC(),
	}
	switch raw := p["vector"].(type) {
	case []any:
		for _, x := range raw {
			if f, ok := x.(float64); ok {
				t.Vector = append(t.Vector, float32(f))
			}
		}
	case []float64:
		for _, f := range raw {
			t.Vector = append(t.Vector, float32(f))
		}
	}
	return t
}

func str(p map[string]any, k string) string {
	s, _ := p[k].(string)
	return s
}

func num(p map[string]any, k string) int64 {
	switch v := p[k].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
