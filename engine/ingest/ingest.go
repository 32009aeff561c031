// Package ingest turns inbound support messages into tickets. Each message
// is classified and embedded concurrently, checked against recently created
// tickets for a near-duplicate, and persisted only when none is found.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helpdeskai/helpdesk/engine/classify"
	"github.com/helpdeskai/helpdesk/engine/dedup"
	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/engine/embed"
	"github.com/helpdeskai/helpdesk/engine/semantic"
	"github.com/helpdeskai/helpdesk/engine/tickets"
	"github.com/helpdeskai/helpdesk/pkg/clock"
	"github.com/helpdeskai/helpdesk/pkg/events"
	"github.com/helpdeskai/helpdesk/pkg/fn"
)

// DefaultCallTimeout bounds each external call made while processing one
// message.
const DefaultCallTimeout = 20 * time.Second

// Deps holds the pipeline's collaborators.
type Deps struct {
	Classifier classify.Classifier
	Embedder   embed.Embedder
	Dedup      *dedup.Checker
	Store      tickets.Store
	Index      semantic.Indexer
	Events     events.Publisher
	Metrics    *Metrics
	Clock      clock.Clock
	Logger     *slog.Logger
	// Retry applies to classification, embedding and the duplicate search.
	// Only transient provider errors are retried.
	Retry       fn.RetryOpts
	CallTimeout time.Duration
}

// Pipeline processes one message at a time per caller. Every entry point in
// the process (polling cycle, HTTP, bus consumer) must share one Pipeline so
// the duplicate check and the insert stay atomic with respect to each other.
type Pipeline struct {
	deps    Deps
	log     *slog.Logger
	clock   clock.Clock
	metrics *Metrics

	classify fn.Stage[string, domain.Classification]
	embed    fn.Stage[string, domain.Vector]
	search   fn.Stage[domain.Vector, dedup.Decision]

	// mu serializes dedup-check-then-persist.
	mu sync.Mutex
}

// NewPipeline wires the stages. Classifier, Embedder, Dedup, Store and Index
// are required.
func NewPipeline(deps Deps) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = DefaultCallTimeout
	}
	if deps.Retry.MaxAttempts <= 0 {
		deps.Retry = fn.DefaultRetry
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "ingest")

	retry := deps.Retry
	retry.ShouldRetry = domain.IsRetryable
	retry.OnRetry = func(attempt int, err error) {
		log.Warn("retrying after transient failure", "attempt", attempt, "reason", domain.Reason(err), "error", err)
	}

	p := &Pipeline{deps: deps, log: log, clock: deps.Clock, metrics: deps.Metrics}

	var classifyCall fn.Stage[string, domain.Classification] = func(ctx context.Context, body string) fn.Result[domain.Classification] {
		ctx, cancel := context.WithTimeout(ctx, deps.CallTimeout)
		defer cancel()
		return fn.FromPair(deps.Classifier.Classify(ctx, body))
	}
	var embedCall fn.Stage[string, domain.Vector] = func(ctx context.Context, body string) fn.Result[domain.Vector] {
		ctx, cancel := context.WithTimeout(ctx, deps.CallTimeout)
		defer cancel()
		return fn.FromPair(deps.Embedder.Embed(ctx, body))
	}
	var searchCall fn.Stage[domain.Vector, dedup.Decision] = func(ctx context.Context, vec domain.Vector) fn.Result[dedup.Decision] {
		ctx, cancel := context.WithTimeout(ctx, deps.CallTimeout)
		defer cancel()
		return fn.FromPair(deps.Dedup.Check(ctx, vec))
	}

	p.classify = timed(p, "classify", fn.TracedStage("ingest.classify", fn.RetryStage(retry, classifyCall)))
	p.embed = timed(p, "embed", fn.TracedStage("ingest.embed", fn.RetryStage(retry, embedCall)))
	p.search = timed(p, "dedup", fn.TracedStage("ingest.dedup", fn.RetryStage(retry, searchCall)))
	return p
}

// timed records a stage's wall time.
func timed[In, Out any](p *Pipeline, name string, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		start := time.Now()
		defer func() { p.metrics.stage(name, time.Since(start)) }()
		return stage(ctx, in)
	}
}

// Process runs msg to a terminal state. Failures are reported in the
// Outcome, never returned. The outcome is logged, counted and published.
func (p *Pipeline) Process(ctx context.Context, msg domain.InboundMessage) Outcome {
	start := time.Now()
	o := p.process(ctx, msg)
	o.Duration = time.Since(start)
	p.finish(ctx, o)
	return o
}

func (p *Pipeline) process(ctx context.Context, msg domain.InboundMessage) Outcome {
	o := Outcome{MessageID: msg.ID, Sender: msg.Sender, Stage: StateFetched}
	if err := domain.ValidateMessage(msg); err != nil {
		return o.fail(err)
	}

	o.Stage = StateClassifying
	c, vec, err := p.analyze(ctx, msg.Body)
	if err != nil {
		var ee *domain.EmbeddingError
		if errors.As(err, &ee) {
			o.Stage = StateEmbedding
		}
		return o.fail(err)
	}

	o.Stage = StateDedupChecking
	return p.commit(ctx, msg, c, vec, o)
}

// analyze classifies and embeds body concurrently. The first failure
// cancels the other call.
func (p *Pipeline) analyze(ctx context.Context, body string) (domain.Classification, domain.Vector, error) {
	var (
		c   domain.Classification
		vec domain.Vector
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		c, err = p.classify(gctx, body).Unwrap()
		return asClassificationError(err)
	})
	g.Go(func() error {
		var err error
		vec, err = p.embed(gctx, body).Unwrap()
		return asEmbeddingError(err)
	})
	if err := g.Wait(); err != nil {
		return domain.Classification{}, nil, err
	}
	return c, vec, nil
}

// commit is the critical section: no other message can be checked or
// persisted between this message's duplicate search and its insert.
func (p *Pipeline) commit(ctx context.Context, msg domain.InboundMessage, c domain.Classification, vec domain.Vector, o Outcome) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	dec, err := p.search(ctx, vec).Unwrap()
	if err != nil {
		return o.fail(err)
	}
	o.Score = dec.Score
	if dec.Duplicate {
		o.State = StateSkippedDuplicate
		o.DuplicateOf = dec.DuplicateOf
		return o
	}

	t := domain.NewTicket(msg, c, vec, p.clock.Now())
	if err := p.insert(ctx, t); err != nil {
		return o.fail(err)
	}
	o.State = StatePersisted
	o.Ticket = &t

	// The ticket is durable even if it never becomes searchable; the
	// reindex command repairs the index from stored vectors.
	if err := p.index(ctx, t); err != nil {
		o.Err = &domain.PersistenceError{Op: "index " + t.ID, Err: err}
		p.metrics.indexFailure()
	}
	return o
}

func (p *Pipeline) insert(ctx context.Context, t domain.Ticket) error {
	ctx, cancel := context.WithTimeout(ctx, p.deps.CallTimeout)
	defer cancel()
	start := time.Now()
	defer func() { p.metrics.stage("persist", time.Since(start)) }()
	err := p.deps.Store.Insert(ctx, t)
	if err == nil {
		return nil
	}
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.PersistenceError{Op: "insert " + t.ID, Err: err}
}

func (p *Pipeline) index(ctx context.Context, t domain.Ticket) error {
	ctx, cancel := context.WithTimeout(ctx, p.deps.CallTimeout)
	defer cancel()
	return p.deps.Index.Index(ctx, t)
}

func (p *Pipeline) finish(ctx context.Context, o Outcome) {
	p.logOutcome(ctx, o)
	p.metrics.outcome(o)

	ctx, cancel := p.detached(ctx)
	defer cancel()
	if err := p.deps.Events.Outcome(ctx, o.event(p.clock.Now())); err != nil {
		p.log.Warn("publish outcome failed", "message_id", o.MessageID, "error", err)
	}
}

func (p *Pipeline) logOutcome(ctx context.Context, o Outcome) {
	attrs := []any{
		"message_id", o.MessageID,
		"sender", o.Sender,
		"state", o.State,
		"duration", o.Duration,
	}
	if o.Ticket != nil {
		attrs = append(attrs, "ticket_id", o.Ticket.ID, "team", o.Ticket.Team, "priority", o.Ticket.Priority)
	}
	if o.DuplicateOf != "" {
		attrs = append(attrs, "duplicate_of", o.DuplicateOf)
	}
	if o.Score != 0 {
		attrs = append(attrs, "score", o.Score)
	}

	level := slog.LevelInfo
	if o.Err != nil {
		attrs = append(attrs, "stage", o.Stage, "reason", o.Reason(), "error", o.Err)
		level = slog.LevelWarn
		if o.State == StateFailed && !o.Retryable() {
			level = slog.LevelError
		}
	}
	p.log.Log(ctx, level, "message processed", attrs...)
}

// deadLetter hands a failed message to the DLQ with its body so it can be
// replayed.
func (p *Pipeline) deadLetter(ctx context.Context, msg domain.InboundMessage, o Outcome, retries int) {
	ctx, cancel := p.detached(ctx)
	defer cancel()
	d := events.DeadLetter{Outcome: o.event(p.clock.Now()), Body: msg.Body, Retries: retries}
	if err := p.deps.Events.DeadLetter(ctx, d); err != nil {
		p.log.Error("dead letter publish failed", "message_id", msg.ID, "error", err)
		return
	}
	p.metrics.deadLetter()
}

// detached outlives a cancelled cycle so the outcome of a message that did
// finish is still reported.
func (p *Pipeline) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.deps.CallTimeout)
}

func (o Outcome) fail(err error) Outcome {
	o.State = StateFailed
	o.Err = err
	return o
}

func asClassificationError(err error) error {
	var ce *domain.ClassificationError
	if err == nil || errors.As(err, &ce) {
		return err
	}
	return &domain.ClassificationError{Err: &domain.TransientProviderError{Provider: "classifier", Op: "classify", Err: err}}
}

func asEmbeddingError(err error) error {
	var ee *domain.EmbeddingError
	if err == nil || errors.As(err, &ee) {
		return err
	}
	return &domain.EmbeddingError{Err: &domain.TransientProviderError{Provider: "embedder", Op: "embed", Err: err}}
}
