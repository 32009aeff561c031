package domain

import (
	"errors"
	"testing"
	"time"
)

func validClassification() Classification {
	return Classification{
		Team:     TeamBilling,
		Priority: 2,
		Subject:  "Duplicate charge",
		Summary:  "Customer was charged twice on the April invoice.",
	}
}

func TestValidateClassification_Valid(t *testing.T) {
	for _, team := range Teams {
		for p := MinPriority; p <= MaxPriority; p++ {
			c := validClassification()
			c.Team = team
			c.Priority = p
			if err := ValidateClassification(c); err != nil {
				t.Errorf("team=%q priority=%d: unexpected error %v", team, p, err)
			}
		}
	}
}

func TestValidateClassification_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Classification)
		want   error
	}{
		{"unknown team", func(c *Classification) { c.Team = "Legal" }, ErrUnknownTeam},
		{"lowercase team", func(c *Classification) { c.Team = "billing" }, ErrUnknownTeam},
		{"empty team", func(c *Classification) { c.Team = "" }, ErrUnknownTeam},
		{"priority zero", func(c *Classification) { c.Priority = 0 }, ErrPriorityRange},
		{"priority six", func(c *Classification) { c.Priority = 6 }, ErrPriorityRange},
		{"negative priority", func(c *Classification) { c.Priority = -1 }, ErrPriorityRange},
		{"blank subject", func(c *Classification) { c.Subject = "  " }, ErrMissingField},
		{"blank summary", func(c *Classification) { c.Summary = "" }, ErrMissingField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validClassification()
			tc.mutate(&c)
			err := ValidateClassification(c)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("expected schema error, got %v", err)
			}
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SchemaError, got %T", err)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage(InboundMessage{Sender: "a@b.c", Body: "help"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateMessage(InboundMessage{Sender: "", Body: "help"}); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if err := ValidateMessage(InboundMessage{Sender: "a@b.c", Body: "\n\t"}); !errors.Is(err, ErrEmptyMessageBody) {
		t.Fatalf("expected ErrEmptyMessageBody, got %v", err)
	}
}

func TestValidateTicket(t *testing.T) {
	tk := Ticket{
		Sender: "a@b.c", Body: "body", Team: TeamIT, Priority: 3,
		Subject: "VPN", Summary: "VPN is down.",
	}
	if err := ValidateTicket(tk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tk.Status = "pending"
	if err := ValidateTicket(tk); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestNewTicket(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	msg := InboundMessage{ID: "m1", Sender: "john@example.com", Body: "Charged twice"}
	tk := NewTicket(msg, validClassification(), Vector{1, 0}, now)
	if tk.ID == "" {
		t.Fatal("expected generated id")
	}
	if tk.Status != StatusOpen {
		t.Fatalf("expected open, got %s", tk.Status)
	}
	if !tk.CreatedAt.Equal(now) || !tk.UpdatedAt.Equal(now) {
		t.Fatal("timestamps not set to now")
	}
	if !tk.HasVector() {
		t.Fatal("expected vector")
	}
	other := NewTicket(msg, validClassification(), nil, now)
	if other.ID == tk.ID {
		t.Fatal("ids must be unique")
	}
}

func TestTransition(t *testing.T) {
	now := time.Now()
	for _, to := range []Status{StatusClosed, StatusSpam} {
		tk := Ticket{Status: StatusOpen}
		if err := tk.Transition(to, now); err != nil {
			t.Fatalf("open→%s: %v", to, err)
		}
		if tk.Status != to || !tk.UpdatedAt.Equal(now) {
			t.Fatalf("transition not applied: %+v", tk)
		}
	}

	illegal := []struct{ from, to Status }{
		{StatusClosed, StatusOpen},
		{StatusSpam, StatusOpen},
		{StatusClosed, StatusSpam},
		{StatusSpam, StatusClosed},
		{StatusClosed, StatusClosed},
		{StatusOpen, StatusOpen},
	}
	for _, tc := range illegal {
		tk := Ticket{Status: tc.from}
		if err := tk.Transition(tc.to, now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s→%s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
		}
		if tk.Status != tc.from {
			t.Errorf("%s→%s: status mutated", tc.from, tc.to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusOpen.Terminal() || !StatusClosed.Terminal() || !StatusSpam.Terminal() {
		t.Fatal("terminal states wrong")
	}
}
