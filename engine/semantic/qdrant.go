package semantic

import (
	"context"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// Payload keys stored on every ticket point.
const (
	payloadTicketID  = "ticket_id"
	payloadTeam      = "team"
	payloadCreatedAt = "created_at" // unix milliseconds
)

// PointsAPI is the subset of the Qdrant points service the index uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// CollectionsAPI is the subset of the Qdrant collections service the index uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantIndex is the sole owner of all Qdrant operations. Point IDs are
// ticket IDs.
type QdrantIndex struct {
	conn          *grpc.ClientConn
	points        PointsAPI
	collections   CollectionsAPI
	collection    string
	dims          int
	numCandidates uint64
}

// QdrantOption configures a QdrantIndex.
type QdrantOption func(*QdrantIndex)

// WithNumCandidates sets the HNSW ef used at query time. Higher values
// trade latency for recall.
func WithNumCandidates(n int) QdrantOption {
	return func(q *QdrantIndex) {
		if n > 0 {
			q.numCandidates = uint64(n)
		}
	}
}

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr, collection string, dims int, opts ...QdrantOption) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	q := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, dims, opts...)
	q.conn = conn
	return q, nil
}

// NewWithClients builds an index over already-constructed service clients.
func NewWithClients(points PointsAPI, collections CollectionsAPI, collection string, dims int, opts ...QdrantOption) *QdrantIndex {
	q := &QdrantIndex{
		points:        points,
		collections:   collections,
		collection:    collection,
		dims:          dims,
		numCandidates: 100,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

var _ Index = (*QdrantIndex)(nil)

// Close closes the underlying gRPC connection, if this index owns one.
func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureCollection creates the collection and its created_at payload index
// if they don't exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", classify(err))
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", q.collection, classify(err))
	}

	wait := true
	_, err = q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: q.collection,
		Wait:           &wait,
		FieldName:      payloadCreatedAt,
		FieldType:      pb.FieldType_FieldTypeInteger.Enum(),
	})
	if err != nil {
		return fmt.Errorf("semantic: index %s.%s: %w", q.collection, payloadCreatedAt, classify(err))
	}
	return nil
}

// DeleteCollection drops the collection. Used by reindex --reset.
func (q *QdrantIndex) DeleteCollection(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", q.collection, classify(err))
	}
	return nil
}

// Index upserts the ticket's vector and waits until it is searchable.
func (q *QdrantIndex) Index(ctx context.Context, t domain.Ticket) error {
	return q.IndexBatch(ctx, []domain.Ticket{t})
}

// IndexBatch upserts several tickets in one request.
func (q *QdrantIndex) IndexBatch(ctx context.Context, tickets []domain.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(tickets))
	for i, t := range tickets {
		if err := CheckDims(t.Vector, q.dims); err != nil {
			return fmt.Errorf("semantic: ticket %s: %w", t.ID, err)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: t.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: t.Vector}},
			},
			Payload: map[string]*pb.Value{
				payloadTicketID:  {Kind: &pb.Value_StringValue{StringValue: t.ID}},
				payloadTeam:      {Kind: &pb.Value_StringValue{StringValue: string(t.Team)}},
				payloadCreatedAt: {Kind: &pb.Value_IntegerValue{IntegerValue: t.CreatedAt.UnixMilli()}},
			},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(points), classify(err))
	}
	return nil
}

// FindNearest runs an approximate k-NN search restricted to tickets created
// within scope. Stored vectors are returned with each hit.
func (q *QdrantIndex) FindNearest(ctx context.Context, vec domain.Vector, k int, scope Scope) ([]Candidate, error) {
	if err := CheckDims(vec, q.dims); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	ef := q.numCandidates
	if ef < uint64(k) {
		ef = uint64(k)
	}
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		Params:         &pb.SearchParams{HnswEf: &ef},
	}
	if !scope.Since.IsZero() {
		req.Filter = &pb.Filter{Must: []*pb.Condition{createdSince(scope.Since)}}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", classify(err))
	}

	out := make([]Candidate, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		c := Candidate{
			TicketID: r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Vector:   domain.Vector(r.GetVectors().GetVector().GetDenseVector().GetData()),
		}
		payload := r.GetPayload()
		if id := payload[payloadTicketID].GetStringValue(); id != "" {
			c.TicketID = id
		}
		if ms := payload[payloadCreatedAt].GetIntegerValue(); ms != 0 {
			c.CreatedAt = time.UnixMilli(ms).UTC()
		}
		// The filter already enforces the window; this guards against
		// points written without a created_at payload.
		if !scope.Since.IsZero() && c.CreatedAt.Before(scope.Since) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func createdSince(t time.Time) *pb.Condition {
	gte := float64(t.UnixMilli())
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   payloadCreatedAt,
				Range: &pb.Range{Gte: &gte},
			},
		},
	}
}

// classify marks gRPC failures that may succeed on retry as transient.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return &domain.TransientProviderError{Provider: "qdrant", Op: "rpc", Err: err}
	}
	return err
}
