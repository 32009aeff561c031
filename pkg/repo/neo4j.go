package repo

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo is a generic Neo4j-backed repository.
type Neo4jRepo[T any, ID comparable] struct {
	driver     neo4j.DriverWithContext
	database   string
	label      string
	idKey      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
	newSession func(ctx context.Context) runner // for testing
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// WithDatabase selects a non-default Neo4j database.
func WithDatabase[T any, ID comparable](name string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.database = name }
}

// NewNeo4jRepo creates a new Neo4j-backed repository.
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		driver:     driver,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) session(ctx context.Context) runner {
	if r.newSession != nil {
		return r.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ident rejects property names that cannot be spliced into Cypher safely.
func ident(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("repo: invalid property name %q", name)
	}
	return name, nil
}

// EnsureSchema creates a uniqueness constraint on the ID property plus
// range indexes on the given properties.
func (r *Neo4jRepo[T, ID]) EnsureSchema(ctx context.Context, indexed ...string) error {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	stmts := []string{fmt.Sprintf(
		"CREATE CONSTRAINT %s_%s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
		strings.ToLower(r.label), r.idKey, r.label, r.idKey)}
	for _, p := range indexed {
		if _, err := ident(p); err != nil {
			return err
		}
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX %s_%s IF NOT EXISTS FOR (n:%s) ON (n.%s)",
			strings.ToLower(r.label), p, r.label, p))
	}
	for _, c := range stmts {
		if _, err := sess.Run(ctx, c, nil); err != nil {
			return fmt.Errorf("repo: ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, err
	}
	if !result.Next(ctx) {
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	record := result.Record()
	return r.fromRecord(record)
}

// buildList renders the MATCH/WHERE/ORDER BY/SKIP/LIMIT query for opts.
func (r *Neo4jRepo[T, ID]) buildList(opts ListOpts) (string, map[string]any, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	params := map[string]any{"offset": opts.Offset, "limit": limit}

	keys := make([]string, 0, len(opts.Filter))
	for k := range opts.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var where []string
	for i, k := range keys {
		if _, err := ident(k); err != nil {
			return "", nil, err
		}
		p := fmt.Sprintf("f%d", i)
		v := opts.Filter[k]
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
			where = append(where, fmt.Sprintf("n.%s IN $%s", k, p))
		} else {
			where = append(where, fmt.Sprintf("n.%s = $%s", k, p))
		}
		params[p] = v
	}
	if opts.SinceKey != "" && opts.Since != nil {
		if _, err := ident(opts.SinceKey); err != nil {
			return "", nil, err
		}
		where = append(where, fmt.Sprintf("n.%s >= $since", opts.SinceKey))
		params["since"] = opts.Since
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:%s)", r.label)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" RETURN n")
	if len(opts.OrderBy) > 0 {
		var order []string
		for _, o := range opts.OrderBy {
			if _, err := ident(o.Field); err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			order = append(order, fmt.Sprintf("n.%s %s", o.Field, dir))
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(order, ", "))
	}
	b.WriteString(" SKIP $offset LIMIT $limit")
	return b.String(), params, nil
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	cypher, params, err := r.buildList(opts)
	if err != nil {
		return nil, err
	}

	sess := r.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	var items []T
	for result.Next(ctx) {
		item, err := r.fromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Neo4jRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("CREATE (n:%s $props) RETURN n", r.label)
	result, err := sess.Run(ctx, cypher, map[string]any{"props": r.toMap(entity)})
	if err != nil {
		return zero, err
	}
	if !result.Next(ctx) {
		return zero, fmt.Errorf("failed to create %s", r.label)
	}
	return r.fromRecord(result.Record())
}

// UpdateIf sets props on the entity with the given ID only when every
// property in expect currently holds the expected value. The check and the
// write run in one statement, so concurrent updates cannot both pass the
// guard. It returns ErrNotFound when no such entity exists and
// ErrPrecondition when the guard fails.
func (r *Neo4jRepo[T, ID]) UpdateIf(ctx context.Context, id ID, expect, props map[string]any) (T, error) {
	var zero T
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := map[string]any{"id": id, "props": props}
	var guard []string
	for i, k := range keys {
		if _, err := ident(k); err != nil {
			return zero, err
		}
		p := fmt.Sprintf("e%d", i)
		guard = append(guard, fmt.Sprintf("n.%s = $%s", k, p))
		params[p] = expect[k]
	}

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id})", r.label, r.idKey)
	if len(guard) > 0 {
		cypher += " WHERE " + strings.Join(guard, " AND ")
	}
	cypher += " SET n += $props RETURN n"

	sess := r.session(ctx)
	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		sess.Close(ctx)
		return zero, err
	}
	if result.Next(ctx) {
		defer sess.Close(ctx)
		return r.fromRecord(result.Record())
	}
	sess.Close(ctx)

	if _, err := r.Get(ctx, id); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrPrecondition)
}

// CountBy groups entities by a property and counts each group. Entities
// without the property are counted under "".
func (r *Neo4jRepo[T, ID]) CountBy(ctx context.Context, field string) (map[string]int64, error) {
	if _, err := ident(field); err != nil {
		return nil, err
	}
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n.%s AS key, count(*) AS count", r.label, field)
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		key, _ := rec.Get("key")
		cnt, _ := rec.Get("count")
		k := ""
		if key != nil {
			k = fmt.Sprint(key)
		}
		n, _ := cnt.(int64)
		out[k] += n
	}
	return out, nil
}
