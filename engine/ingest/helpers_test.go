package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/helpdeskai/helpdesk/engine/dedup"
	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/engine/embed"
	"github.com/helpdeskai/helpdesk/engine/semantic"
	"github.com/helpdeskai/helpdesk/engine/tickets"
	"github.com/helpdeskai/helpdesk/pkg/clock"
	"github.com/helpdeskai/helpdesk/pkg/events"
	"github.com/helpdeskai/helpdesk/pkg/fn"
	"github.com/helpdeskai/helpdesk/pkg/metrics"
)

const dims = 2

// Unit vectors named by their cosine similarity to v100.
var (
	v100 = []float32{1, 0}
	v096 = []float32{0.96, 0.28}
	v094 = []float32{0.94, 0.3412}
	v000 = []float32{0, 1}
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeClassifier answers per body; unknown bodies get a fixed Billing
// classification.
type fakeClassifier struct {
	mu     sync.Mutex
	calls  map[string]int
	errs   map[string][]error
	always map[string]error
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{calls: map[string]int{}, errs: map[string][]error{}, always: map[string]error{}}
}

// failAlways makes every call for body fail with err.
func (f *fakeClassifier) failAlways(body string, err error) {
	f.mu.Lock()
	f.always[body] = err
	f.mu.Unlock()
}

// failWith queues errors returned for body before it succeeds.
func (f *fakeClassifier) failWith(body string, errs ...error) {
	f.mu.Lock()
	f.errs[body] = append(f.errs[body], errs...)
	f.mu.Unlock()
}

func (f *fakeClassifier) Classify(ctx context.Context, body string) (domain.Classification, error) {
	f.mu.Lock()
	f.calls[body]++
	err := f.always[body]
	if q := f.errs[body]; err == nil && len(q) > 0 {
		err = q[0]
		f.errs[body] = q[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return domain.Classification{}, err
	}
	if ctx.Err() != nil {
		return domain.Classification{}, &domain.ClassificationError{Err: &domain.TransientProviderError{Provider: "fake", Op: "classify", Err: ctx.Err()}}
	}
	return domain.Classification{
		Team:     domain.TeamBilling,
		Priority: 2,
		Subject:  "Charge issue",
		Summary:  "Customer reports a billing problem.",
	}, nil
}

func (f *fakeClassifier) callCount(body string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[body]
}

// fakeProvider maps each text to a fixed raw vector.
type fakeProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
}

func (p *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := p.vectors[t]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", t)
		}
		out[i] = append([]float32(nil), v...)
	}
	return out, nil
}

// flakyIndex fails Index calls while failing is set.
type flakyIndex struct {
	*semantic.MemoryIndex
	failing bool
}

func (f *flakyIndex) Index(ctx context.Context, t domain.Ticket) error {
	if f.failing {
		return errors.New("index unavailable")
	}
	return f.MemoryIndex.Index(ctx, t)
}

// failingStore rejects every insert.
type failingStore struct{ tickets.Store }

func (failingStore) Insert(context.Context, domain.Ticket) error {
	return &domain.PersistenceError{Op: "insert", Err: errors.New("disk full")}
}

// recorder captures published events.
type recorder struct {
	mu       sync.Mutex
	outcomes []events.Outcome
	dead     []events.DeadLetter
}

func (r *recorder) Outcome(_ context.Context, o events.Outcome) error {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	return nil
}

func (r *recorder) DeadLetter(_ context.Context, d events.DeadLetter) error {
	r.mu.Lock()
	r.dead = append(r.dead, d)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) deadLetters() []events.DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.DeadLetter(nil), r.dead...)
}

func (r *recorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.outcomes))
	for i, o := range r.outcomes {
		out[i] = o.State
	}
	return out
}

type harness struct {
	clk      *clock.Manual
	cls      *fakeClassifier
	emb      *fakeProvider
	store    *tickets.Memory
	index    *flakyIndex
	events   *recorder
	reg      *metrics.Registry
	pipeline *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:    clock.NewManual(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
		cls:    newFakeClassifier(),
		emb:    &fakeProvider{vectors: map[string][]float32{}},
		store:  tickets.NewMemory(),
		index:  &flakyIndex{MemoryIndex: semantic.NewMemoryIndex(dims)},
		events: &recorder{},
		reg:    metrics.New(),
	}
	h.build(h.store)
	return h
}

func (h *harness) build(store tickets.Store) {
	h.pipeline = NewPipeline(Deps{
		Classifier:  h.cls,
		Embedder:    embed.New("fake", h.emb, dims),
		Dedup:       dedup.NewChecker(h.index, dedup.DefaultConfig(), h.clk),
		Store:       store,
		Index:       h.index,
		Events:      h.events,
		Metrics:     NewMetrics(h.reg),
		Clock:       h.clk,
		Logger:      quiet,
		Retry:       fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond},
		CallTimeout: time.Second,
	})
}

// message registers body's vector and returns an inbound message for it.
func (h *harness) message(id, body string, vec []float32) domain.InboundMessage {
	h.emb.mu.Lock()
	h.emb.vectors[body] = vec
	h.emb.mu.Unlock()
	return domain.InboundMessage{ID: id, Sender: id + "@example.com", Body: body, ReceivedAt: h.clk.Now()}
}

func transient(op string) error {
	return &domain.TransientProviderError{Provider: "fake", Op: op, Err: errors.New("503")}
}
