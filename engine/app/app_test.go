package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/engine/mail"
	"github.com/helpdeskai/helpdesk/engine/semantic"
	"github.com/helpdeskai/helpdesk/engine/tickets"
	"github.com/helpdeskai/helpdesk/pkg/clock"
	"github.com/helpdeskai/helpdesk/pkg/config"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, string) (domain.Classification, error) {
	return domain.Classification{Team: domain.TeamIT, Priority: 3, Subject: "Access", Summary: "User cannot log in."}, nil
}

// stubProvider embeds texts mentioning "vpn" on one axis and everything
// else on the other.
type stubProvider struct{}

func (stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), "vpn") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Store.Backend = "memory"
	cfg.Index.Backend = "memory"
	cfg.Events.Backend = "none"
	cfg.Mail.Provider = "memory"
	cfg.Embedding.Dims = 2
	cfg.Ingest.RetryBackoff = time.Millisecond
	return cfg
}

func TestNew_SeedsMemoryIndexWithinWindow(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	store := tickets.NewMemory()
	c := domain.Classification{Team: domain.TeamIT, Priority: 3, Subject: "VPN", Summary: "VPN down."}
	recent := domain.NewTicket(domain.InboundMessage{ID: "r", Sender: "a@example.com", Body: "vpn down"}, c, domain.Vector{1, 0}, clk.Now().Add(-time.Hour))
	stale := domain.NewTicket(domain.InboundMessage{ID: "s", Sender: "a@example.com", Body: "vpn down"}, c, domain.Vector{1, 0}, clk.Now().Add(-48*time.Hour))
	manual := domain.NewTicket(domain.InboundMessage{ID: "m", Sender: "a@example.com", Body: "typed in"}, c, nil, clk.Now())
	for _, tk := range []domain.Ticket{recent, stale, manual} {
		if err := store.Insert(context.Background(), tk); err != nil {
			t.Fatal(err)
		}
	}

	a, err := New(context.Background(), memoryConfig(), quiet, Overrides{Store: store, Provider: stubProvider{}, Clock: clk})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	idx, ok := a.Index.(*semantic.MemoryIndex)
	if !ok {
		t.Fatalf("expected memory index, got %T", a.Index)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected only the recent ticket seeded, got %d", idx.Len())
	}
}

func TestNew_UnknownEmbeddingProvider(t *testing.T) {
	cfg := memoryConfig()
	cfg.Embedding.Provider = "word2vec"
	if _, err := New(context.Background(), cfg, quiet, Overrides{}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestWithIngest_RunsCycleInMemory(t *testing.T) {
	ctx := context.Background()
	box := mail.NewMemory()
	ov := Overrides{
		Mailbox:    box,
		Classifier: stubClassifier{},
		Provider:   stubProvider{},
		Clock:      clock.NewManual(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)),
	}
	a, err := New(ctx, memoryConfig(), quiet, ov)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if err := a.WithIngest(ctx, ov); err != nil {
		t.Fatalf("WithIngest: %v", err)
	}

	box.DeliverText("a@example.com", "help", "The VPN is down again")
	box.DeliverText("b@example.com", "help", "VPN down for me too")
	box.DeliverText("c@example.com", "help", "Please reset my password")

	report, err := a.Runner.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Fetched != 3 || report.Persisted != 2 || report.Duplicates != 1 {
		t.Fatalf("unexpected report %s", report)
	}
	if got, ok := a.Runner.LastReport(); !ok || got.Fetched != 3 {
		t.Fatal("last report not recorded")
	}
	if !strings.Contains(a.Metrics.Render(), "helpdesk_ingest_cycles_total 1") {
		t.Fatal("cycle metric missing")
	}
}

func TestWithIngest_UnknownEventsBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Events.Backend = "carrier-pigeon"
	ov := Overrides{Mailbox: mail.NewMemory(), Classifier: stubClassifier{}, Provider: stubProvider{}}
	a, err := New(context.Background(), cfg, quiet, ov)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.WithIngest(context.Background(), ov); err == nil {
		t.Fatal("expected error")
	}
}

func TestClose_RunsInReverse(t *testing.T) {
	a := &App{}
	var order []int
	a.onClose(func() error { order = append(order, 1); return nil })
	a.onClose(func() error { order = append(order, 2); return io.EOF })
	if err := a.Close(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected joined EOF, got %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("order %v", order)
	}
}
