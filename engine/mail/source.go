package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// Policy decides when a fetched message is marked read.
type Policy string

const (
	// PolicyOnFetch marks each message read as soon as it is fetched. A
	// crash before the ticket is persisted loses the message.
	PolicyOnFetch Policy = "on_fetch"
	// PolicyAfterProcess marks a message read only once processing reached
	// a terminal outcome. A crash before that re-delivers it.
	PolicyAfterProcess Policy = "after_process"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool { return p == PolicyOnFetch || p == PolicyAfterProcess }

// Options configures a Source.
type Options struct {
	Query       string
	BatchSize   int
	Policy      Policy
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Source fetches and normalizes unread messages from a Mailbox.
type Source struct {
	box  Mailbox
	opts Options
	log  *slog.Logger
}

// NewSource creates a Source. BatchSize is clamped to [1, MaxBatch].
func NewSource(box Mailbox, opts Options) *Source {
	if opts.Query == "" {
		opts.Query = DefaultQuery
	}
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatch {
		opts.BatchSize = MaxBatch
	}
	if !opts.Policy.Valid() {
		opts.Policy = PolicyOnFetch
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Source{box: box, opts: opts, log: log.With("component", "mail")}
}

// Policy returns the consumption policy in effect.
func (s *Source) Policy() Policy { return s.opts.Policy }

// FetchUnread returns the current batch of unread messages. Under
// PolicyOnFetch every returned message has already been marked read.
//
// An AuthError from the provider aborts the whole fetch. A message that
// cannot be retrieved or parsed is skipped; an unparseable one is marked
// read under either policy so it does not come back every cycle.
func (s *Source) FetchUnread(ctx context.Context) ([]domain.InboundMessage, error) {
	ids, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.InboundMessage, 0, len(ids))
	for _, id := range ids {
		raw, err := s.getRaw(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrAuth) {
				return nil, err
			}
			s.log.Warn("skipping message: fetch failed", "message_id", id, "error", err)
			continue
		}
		msg, err := ParseRaw(id, raw)
		if err != nil {
			s.log.Warn("skipping message: parse failed", "message_id", id, "error", err)
			s.markRead(ctx, id)
			continue
		}
		out = append(out, msg)
	}

	if s.opts.Policy == PolicyOnFetch {
		for _, m := range out {
			s.markRead(ctx, m.ID)
		}
	}
	s.log.Debug("fetched unread", "listed", len(ids), "returned", len(out))
	return out, nil
}

// Ack marks id read once processing finished. It is a no-op under
// PolicyOnFetch.
func (s *Source) Ack(ctx context.Context, id string) error {
	if s.opts.Policy != PolicyAfterProcess {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	if err := s.box.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("mail: ack %s: %w", id, err)
	}
	return nil
}

func (s *Source) list(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	ids, err := s.box.ListUnread(ctx, s.opts.Query, s.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("mail: list unread: %w", err)
	}
	if len(ids) > s.opts.BatchSize {
		ids = ids[:s.opts.BatchSize]
	}
	return ids, nil
}

func (s *Source) getRaw(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return s.box.GetRaw(ctx, id)
}

// markRead failures are logged, not returned: the message may be fetched
// again next cycle, where deduplication absorbs it.
func (s *Source) markRead(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	if err := s.box.MarkRead(ctx, id); err != nil {
		s.log.Warn("mark read failed", "message_id", id, "error", err)
	}
}
