package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidateClassification enforces the classifier's output schema. It never
// coerces an invalid value to a default.
func ValidateClassification(c Classification) error {
	if !ValidTeams[c.Team] {
		return NewSchemaError("team", string(c.Team), ErrUnknownTeam)
	}
	if c.Priority < MinPriority || c.Priority > MaxPriority {
		return NewSchemaError("priority", strconv.Itoa(c.Priority), ErrPriorityRange)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return NewSchemaError("subject", c.Subject, ErrMissingField)
	}
	if strings.TrimSpace(c.Summary) == "" {
		return NewSchemaError("summary", c.Summary, ErrMissingField)
	}
	return nil
}

// ValidateMessage checks an inbound message before it enters the pipeline.
func ValidateMessage(m InboundMessage) error {
	if strings.TrimSpace(m.Sender) == "" {
		return NewSchemaError("sender", m.Sender, ErrMissingField)
	}
	if strings.TrimSpace(m.Body) == "" {
		return NewSchemaError("body", "", ErrEmptyMessageBody)
	}
	return nil
}

// ValidateTicket checks a ticket submitted directly through the API.
func ValidateTicket(t Ticket) error {
	if strings.TrimSpace(t.Sender) == "" {
		return NewSchemaError("sender", t.Sender, ErrMissingField)
	}
	if strings.TrimSpace(t.Body) == "" {
		return NewSchemaError("body", "", ErrMissingField)
	}
	if err := ValidateClassification(Classification{
		Team: t.Team, Priority: t.Priority, Subject: t.Subject, Summary: t.Summary,
	}); err != nil {
		return err
	}
	if t.Status != "" && !ValidStatuses[t.Status] {
		return NewSchemaError("status", string(t.Status), ErrUnknownStatus)
	}
	return nil
}

// NewTicket builds an open ticket from a classified message.
func NewTicket(msg InboundMessage, c Classification, vec Vector, now time.Time) Ticket {
	return Ticket{
		ID:        uuid.NewString(),
		Sender:    msg.Sender,
		Team:      c.Team,
		Priority:  c.Priority,
		Subject:   c.Subject,
		Summary:   c.Summary,
		Body:      msg.Body,
		Status:    StatusOpen,
		Vector:    vec,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves t to status to. Only open→closed and open→spam are legal.
func (t *Ticket) Transition(to Status, now time.Time) error {
	if to != StatusClosed && to != StatusSpam {
		return fmt.Errorf("%w: %s→%s", ErrInvalidTransition, t.Status, to)
	}
	if t.Status != StatusOpen {
		return fmt.Errorf("%w: %s→%s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// SetReply records an agent reply.
func (t *Ticket) SetReply(text string, now time.Time) {
	t.Reply = text
	t.UpdatedAt = now
}
