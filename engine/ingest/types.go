package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/pkg/events"
)

// State is a step in a message's life through the pipeline.
type State string

const (
	StateFetched          State = "fetched"
	StateClassifying      State = "classifying"
	StateEmbedding        State = "embedding"
	StateDedupChecking    State = "dedup_checking"
	StatePersisted        State = "persisted"
	StateSkippedDuplicate State = "skipped_duplicate"
	StateFailed           State = "failed"
)

// Terminal reports whether s ends processing.
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateSkippedDuplicate || s == StateFailed
}

// ErrAborted marks messages left unprocessed because the cycle was aborted
// by a fatal error on another message.
var ErrAborted = errors.New("ingest: cycle aborted")

// Outcome is the terminal result of one message.
type Outcome struct {
	MessageID string
	Sender    string
	State     State
	// Stage is the last state entered before a failure.
	Stage       State
	Ticket      *domain.Ticket
	DuplicateOf string
	Score       float64
	Err         error
	Duration    time.Duration
}

// Reason is a short label for Err, empty on success.
func (o Outcome) Reason() string {
	if errors.Is(o.Err, ErrAborted) {
		return "aborted"
	}
	return domain.Reason(o.Err)
}

// Fatal reports whether the failure invalidates every other message in the
// cycle: bad credentials or a misconfigured embedding dimension.
func (o Outcome) Fatal() bool { return Fatal(o.Err) }

// Fatal reports whether err should abort a whole cycle.
func Fatal(err error) bool {
	return errors.Is(err, domain.ErrAuth) || errors.Is(err, domain.ErrDimensionMismatch)
}

// Retryable reports whether the message should be offered again later
// rather than dead-lettered. Fatal failures count: the message itself was
// fine, the configuration was not.
func (o Outcome) Retryable() bool {
	if o.State != StateFailed {
		return false
	}
	return domain.IsRetryable(o.Err) || errors.Is(o.Err, ErrAborted) || Fatal(o.Err)
}

func (o Outcome) event(at time.Time) events.Outcome {
	ev := events.Outcome{
		MessageID:   o.MessageID,
		Sender:      o.Sender,
		State:       string(o.State),
		DuplicateOf: o.DuplicateOf,
		Score:       o.Score,
		Reason:      o.Reason(),
		At:          at,
	}
	if o.Ticket != nil {
		ev.TicketID = o.Ticket.ID
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	return ev
}

// Report summarizes one polling cycle.
type Report struct {
	Fetched    int
	Persisted  int
	Duplicates int
	Failed     int
	Outcomes   []Outcome
	Duration   time.Duration
}

func newReport(outcomes []Outcome, d time.Duration) Report {
	r := Report{Fetched: len(outcomes), Outcomes: outcomes, Duration: d}
	for _, o := range outcomes {
		switch o.State {
		case StatePersisted:
			r.Persisted++
		case StateSkippedDuplicate:
			r.Duplicates++
		case StateFailed:
			r.Failed++
		}
	}
	return r
}

func (r Report) String() string {
	return fmt.Sprintf("fetched=%d persisted=%d duplicates=%d failed=%d", r.Fetched, r.Persisted, r.Duplicates, r.Failed)
}
