package semantic

import (
	"context"
	"errors"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	indexReq   *pb.CreateFieldIndexCollection
	indexErr   error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}
func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.indexReq = in
	return &pb.PointsOperationResponse{}, m.indexErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	createReq *pb.CreateCollection
	createErr error
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.createReq = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

func hit(id string, score float32, created time.Time) *pb.ScoredPoint {
	return &pb.ScoredPoint{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
		Score: score,
		Payload: map[string]*pb.Value{
			payloadTicketID:  {Kind: &pb.Value_StringValue{StringValue: id}},
			payloadCreatedAt: {Kind: &pb.Value_IntegerValue{IntegerValue: created.UnixMilli()}},
		},
	}
}

func withVector(p *pb.ScoredPoint, out *pb.VectorOutput) *pb.ScoredPoint {
	p.Vectors = &pb.VectorsOutput{VectorsOptions: &pb.VectorsOutput_Vector{Vector: out}}
	return p
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	q := NewWithClients(&mockPoints{}, &mockCollections{}, "tickets", 4, WithNumCandidates(64))
	if q.numCandidates != 64 {
		t.Fatalf("expected ef 64, got %d", q.numCandidates)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "tickets"}},
		},
	}
	pts := &mockPoints{}
	q := NewWithClients(pts, cols, "tickets", 4)
	if err := q.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.createReq != nil || pts.indexReq != nil {
		t.Fatal("existing collection must not be recreated")
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "other"}},
		},
	}
	pts := &mockPoints{}
	q := NewWithClients(pts, cols, "tickets", 384)
	if err := q.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := cols.createReq.GetVectorsConfig().GetParams()
	if params.GetSize() != 384 || params.GetDistance() != pb.Distance_Cosine {
		t.Fatalf("unexpected vector params %v", params)
	}
	if pts.indexReq.GetFieldName() != payloadCreatedAt {
		t.Fatalf("expected created_at payload index, got %q", pts.indexReq.GetFieldName())
	}
}

func TestEnsureCollection_Errors(t *testing.T) {
	q := NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("rpc fail")}, "tickets", 4)
	if err := q.EnsureCollection(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
	q = NewWithClients(&mockPoints{}, &mockCollections{
		listResp:  &pb.ListCollectionsResponse{},
		createErr: errors.New("create fail"),
	}, "tickets", 4)
	if err := q.EnsureCollection(context.Background()); err == nil {
		t.Fatal("expected create error")
	}
	q = NewWithClients(&mockPoints{indexErr: errors.New("index fail")}, &mockCollections{
		listResp: &pb.ListCollectionsResponse{},
	}, "tickets", 4)
	if err := q.EnsureCollection(context.Background()); err == nil {
		t.Fatal("expected field index error")
	}
}

func TestDeleteCollection(t *testing.T) {
	q := NewWithClients(&mockPoints{}, &mockCollections{}, "tickets", 4)
	if err := q.DeleteCollection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q = NewWithClients(&mockPoints{}, &mockCollections{deleteErr: errors.New("fail")}, "tickets", 4)
	if err := q.DeleteCollection(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestIndex_WritesPayloadAndWaits(t *testing.T) {
	pts := &mockPoints{}
	q := NewWithClients(pts, &mockCollections{}, "tickets", 2)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tk := domain.Ticket{ID: "4b1e0d5c-0000-4000-8000-000000000001", Team: domain.TeamBilling, Vector: domain.Vector{1, 0}, CreatedAt: created}

	if err := q.Index(context.Background(), tk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pts.upsertReq.GetWait() {
		t.Fatal("upsert must wait for the write to be searchable")
	}
	p := pts.upsertReq.GetPoints()[0]
	if p.GetId().GetUuid() != tk.ID {
		t.Fatalf("point id %q != ticket id", p.GetId().GetUuid())
	}
	if got := p.GetPayload()[payloadCreatedAt].GetIntegerValue(); got != created.UnixMilli() {
		t.Fatalf("created_at payload = %d", got)
	}
	if got := p.GetPayload()[payloadTeam].GetStringValue(); got != "Billing" {
		t.Fatalf("team payload = %q", got)
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	q := NewWithClients(&mockPoints{}, &mockCollections{}, "tickets", 3)
	err := q.Index(context.Background(), domain.Ticket{ID: "x", Vector: domain.Vector{1, 0}})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestIndex_TransientError(t *testing.T) {
	pts := &mockPoints{upsertErr: status.Error(codes.Unavailable, "qdrant restarting")}
	q := NewWithClients(pts, &mockCollections{}, "tickets", 2)
	err := q.Index(context.Background(), domain.Ticket{ID: "x", Vector: domain.Vector{1, 0}})
	if !domain.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestIndexBatch_Empty(t *testing.T) {
	pts := &mockPoints{}
	q := NewWithClients(pts, &mockCollections{}, "tickets", 2)
	if err := q.IndexBatch(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.upsertReq != nil {
		t.Fatal("empty batch must not call Qdrant")
	}
}

func TestFindNearest_ScopesAndParams(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		withVector(hit("t1", 0.97, now.Add(-time.Hour)),
			&pb.VectorOutput{Vector: &pb.VectorOutput_Dense{Dense: &pb.DenseVector{Data: []float32{0.9, 0.4359}}}}),
		withVector(hit("t2", 0.91, now.Add(-2*time.Hour)),
			&pb.VectorOutput{Data: []float32{0.8, 0.6}}),
	}}}
	q := NewWithClients(pts, &mockCollections{}, "tickets", 2, WithNumCandidates(50))

	got, err := q.FindNearest(context.Background(), domain.Vector{1, 0}, 5, Within(now, 24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].TicketID != "t1" || got[0].Score != 0.97 {
		t.Fatalf("unexpected candidates %+v", got)
	}
	if !got[0].CreatedAt.Equal(now.Add(-time.Hour)) {
		t.Fatalf("created_at not decoded: %v", got[0].CreatedAt)
	}
	if len(got[0].Vector) != 2 || got[0].Vector[0] != 0.9 {
		t.Fatalf("dense vector not decoded: %v", got[0].Vector)
	}
	if len(got[1].Vector) != 2 || got[1].Vector[1] != 0.6 {
		t.Fatalf("legacy vector data not decoded: %v", got[1].Vector)
	}

	req := pts.searchReq
	if req.GetLimit() != 5 || req.GetParams().GetHnswEf() != 50 {
		t.Fatalf("limit=%d ef=%d", req.GetLimit(), req.GetParams().GetHnswEf())
	}
	if !req.GetWithVectors().GetEnable() {
		t.Fatal("search must return stored vectors for re-scoring")
	}
	rng := req.GetFilter().GetMust()[0].GetField().GetRange()
	if rng.GetGte() != float64(now.Add(-24*time.Hour).UnixMilli()) {
		t.Fatalf("unexpected range filter %v", rng)
	}
}

func TestFindNearest_DropsOutOfWindowHits(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		hit("old", 0.99, now.Add(-48*time.Hour)),
	}}}
	q := NewWithClients(pts, &mockCollections{}, "tickets", 2)
	got, err := q.FindNearest(context.Background(), domain.Vector{1, 0}, 5, Within(now, 24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("48h-old ticket returned: %+v", got)
	}
}

func TestFindNearest_EfAtLeastK(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	q := NewWithClients(pts, &mockCollections{}, "tickets", 2, WithNumCandidates(3))
	if _, err := q.FindNearest(context.Background(), domain.Vector{1, 0}, 10, Scope{}); err != nil {
		t.Fatal(err)
	}
	if pts.searchReq.GetParams().GetHnswEf() != 10 {
		t.Fatalf("ef should be raised to k, got %d", pts.searchReq.GetParams().GetHnswEf())
	}
	if pts.searchReq.GetFilter() != nil {
		t.Fatal("zero scope must not filter")
	}
}

func TestFindNearest_Errors(t *testing.T) {
	q := NewWithClients(&mockPoints{searchErr: errors.New("fail")}, &mockCollections{}, "tickets", 2)
	if _, err := q.FindNearest(context.Background(), domain.Vector{1, 0}, 5, Scope{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := q.FindNearest(context.Background(), domain.Vector{1}, 5, Scope{}); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	got, err := q.FindNearest(context.Background(), domain.Vector{1, 0}, 0, Scope{})
	if err != nil || got != nil {
		t.Fatalf("k=0 should return nothing, got %v %v", got, err)
	}
}
