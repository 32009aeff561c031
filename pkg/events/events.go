// Package events publishes ingestion outcomes to a message bus.
package events

import (
	"context"
	"time"
)

const (
	// SubjectPrefix prefixes outcome subjects: helpdesk.ingest.<state>.
	SubjectPrefix = "helpdesk.ingest"
	// DLQSubject receives messages that failed terminally, with their body,
	// so an operator can replay them.
	DLQSubject = "helpdesk.ingest.dlq"
	// InboundSubject carries InboundMessages pushed by external relays.
	InboundSubject = "helpdesk.inbound"
)

// Outcome is published once per processed message.
type Outcome struct {
	MessageID   string    `json:"message_id"`
	Sender      string    `json:"sender"`
	State       string    `json:"state"`
	TicketID    string    `json:"ticket_id,omitempty"`
	DuplicateOf string    `json:"duplicate_of,omitempty"`
	Score       float64   `json:"score,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// DeadLetter is a failed message with enough context to replay it.
type DeadLetter struct {
	Outcome
	Body    string `json:"body"`
	Retries int    `json:"retries"`
}

// Publisher sends outcomes and dead letters.
type Publisher interface {
	Outcome(ctx context.Context, o Outcome) error
	DeadLetter(ctx context.Context, d DeadLetter) error
	Close() error
}

// Subject returns the outcome subject for state.
func Subject(state string) string { return SubjectPrefix + "." + state }

// Nop discards everything.
type Nop struct{}

func (Nop) Outcome(context.Context, Outcome) error       { return nil }
func (Nop) DeadLetter(context.Context, DeadLetter) error { return nil }
func (Nop) Close() error                                 { return nil }
