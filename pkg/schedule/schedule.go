// Package schedule runs a job on a fixed interval with a single-flight
// guard: a tick that fires while the previous run is still in progress is
// dropped rather than queued or run concurrently.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helpdeskai/helpdesk/pkg/clock"
)

var (
	ErrAlreadyStarted = errors.New("schedule: already started")
	ErrBusy           = errors.New("schedule: run already in progress")
)

// Job is one unit of scheduled work. It must honour ctx cancellation.
type Job func(ctx context.Context) error

// Options configures a Scheduler.
type Options struct {
	// Interval between ticks.
	Interval time.Duration
	// MaxRun bounds a single run; the job's context is cancelled after it.
	MaxRun time.Duration
	// RunOnStart triggers one run immediately on Start.
	RunOnStart bool
	Clock      clock.Clock
	Logger     *slog.Logger
	// OnSkip is called when a tick is dropped because a run is in flight.
	OnSkip func()
	// OnRun is called after each run with its duration and result.
	OnRun func(d time.Duration, err error)
}

// DefaultOptions is a one-minute poll with a 50s cap per run.
var DefaultOptions = Options{
	Interval:   time.Minute,
	MaxRun:     50 * time.Second,
	RunOnStart: true,
}

// Scheduler owns the lifecycle of a periodic job.
type Scheduler struct {
	name    string
	job     Job
	opts    Options
	log     *slog.Logger
	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	loopEnd chan struct{}
	runs    sync.WaitGroup
}

// New creates a Scheduler. Zero option fields fall back to DefaultOptions.
func New(name string, job Job, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions.Interval
	}
	if opts.MaxRun <= 0 {
		opts.MaxRun = DefaultOptions.MaxRun
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{name: name, job: job, opts: opts, log: log.With("job", name)}
}

// Start begins ticking in a background goroutine until ctx is done or Stop
// is called. A stopped Scheduler cannot be restarted.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopEnd = make(chan struct{})

	ticker := s.opts.Clock.NewTicker(s.opts.Interval)
	go func() {
		defer close(s.loopEnd)
		defer ticker.Stop()
		if s.opts.RunOnStart {
			s.trigger(loopCtx)
		}
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C():
				s.trigger(loopCtx)
			}
		}
	}()
	s.log.Info("scheduler started", "interval", s.opts.Interval, "max_run", s.opts.MaxRun)
	return nil
}

// Stop cancels the loop and any in-flight run, then waits for both to end.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, loopEnd := s.cancel, s.loopEnd
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-loopEnd
	s.runs.Wait()
	s.log.Info("scheduler stopped")
}

// Running reports whether a run is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// RunNow runs the job synchronously, sharing the single-flight guard with
// the ticker. It returns ErrBusy if a run is already in progress.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)
	return s.execute(ctx)
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous run still in progress, skipping tick")
		if s.opts.OnSkip != nil {
			s.opts.OnSkip()
		}
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.running.Store(false)
		_ = s.execute(ctx)
	}()
}

func (s *Scheduler) execute(ctx context.Context) (err error) {
	runCtx, cancel := context.WithTimeout(ctx, s.opts.MaxRun)
	defer cancel()

	start := s.opts.Clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: %s panicked: %v", s.name, r)
		}
		d := s.opts.Clock.Now().Sub(start)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				s.log.Error("run abandoned after max duration", "max_run", s.opts.MaxRun, "error", err)
			} else {
				s.log.Error("run failed", "error", err, "duration", d)
			}
		} else {
			s.log.Debug("run complete", "duration", d)
		}
		if s.opts.OnRun != nil {
			s.opts.OnRun(d, err)
		}
	}()
	return s.job(runCtx)
}
