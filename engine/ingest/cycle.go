package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/engine/mail"
	"github.com/helpdeskai/helpdesk/pkg/fn"
	"github.com/helpdeskai/helpdesk/pkg/schedule"
)

// DefaultWorkers is the per-cycle worker pool size.
const DefaultWorkers = 4

// Fetcher supplies a cycle's messages and acknowledges them.
type Fetcher interface {
	FetchUnread(ctx context.Context) ([]domain.InboundMessage, error)
	Ack(ctx context.Context, id string) error
	Policy() mail.Policy
}

// Runner executes polling cycles against a Fetcher.
type Runner struct {
	src      Fetcher
	pipeline *Pipeline
	workers  int
	log      *slog.Logger
	last     atomic.Pointer[Report]
}

// NewRunner creates a Runner. workers <= 0 uses DefaultWorkers.
func NewRunner(src Fetcher, p *Pipeline, workers int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{src: src, pipeline: p, workers: workers, log: p.log}
}

// Job adapts RunCycle for a schedule.Scheduler.
func (r *Runner) Job() schedule.Job {
	return func(ctx context.Context) error {
		_, err := r.RunCycle(ctx)
		return err
	}
}

// RunCycle fetches one batch and drives every message to a terminal state.
// Per-message failures are in the Report; the returned error is non-nil
// only when the fetch failed or the cycle was aborted by a fatal failure,
// in which case the messages not yet started are reported as aborted.
func (r *Runner) RunCycle(ctx context.Context) (Report, error) {
	start := time.Now()
	msgs, err := r.src.FetchUnread(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("ingest: fetch: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		once  sync.Once
		fatal error
	)
	outcomes := fn.ParMap(msgs, r.workers, func(m domain.InboundMessage) Outcome {
		if ctx.Err() != nil {
			return r.abort(ctx, m)
		}
		o := r.pipeline.Process(ctx, m)
		if o.Fatal() {
			once.Do(func() {
				fatal = o.Err
				cancel(o.Err)
			})
		}
		r.settle(ctx, m, o)
		return o
	})

	report := newReport(outcomes, time.Since(start))
	r.last.Store(&report)
	r.pipeline.metrics.cycle(report, r.pipeline.clock.Now())
	if fatal != nil {
		r.log.Error("cycle aborted", "report", report.String(), "reason", domain.Reason(fatal), "error", fatal)
		return report, fmt.Errorf("ingest: cycle aborted: %w", fatal)
	}
	r.log.Info("cycle complete", "report", report.String(), "duration", report.Duration)
	return report, nil
}

// LastReport returns the most recent completed cycle's report.
func (r *Runner) LastReport() (Report, bool) {
	p := r.last.Load()
	if p == nil {
		return Report{}, false
	}
	return *p, true
}

// abort reports a message the cycle gave up on before starting it.
func (r *Runner) abort(ctx context.Context, m domain.InboundMessage) Outcome {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	o := Outcome{
		MessageID: m.ID,
		Sender:    m.Sender,
		State:     StateFailed,
		Stage:     StateFetched,
		Err:       fmt.Errorf("%w: %w", ErrAborted, cause),
	}
	r.pipeline.finish(ctx, o)
	r.settle(ctx, m, o)
	return o
}

// settle acknowledges the message per the consumption policy and sends
// failures that will not come back to the dead letter queue.
func (r *Runner) settle(ctx context.Context, m domain.InboundMessage, o Outcome) {
	if r.src.Policy() == mail.PolicyAfterProcess {
		if o.Retryable() {
			return
		}
		actx, cancel := r.pipeline.detached(ctx)
		defer cancel()
		if err := r.src.Ack(actx, m.ID); err != nil {
			r.log.Warn("ack failed", "message_id", m.ID, "error", err)
		}
	}
	if o.State == StateFailed {
		r.pipeline.deadLetter(ctx, m, o, 0)
	}
}
