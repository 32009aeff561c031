// Package domain defines the helpdesk's core types, constants, and
// validation. It acts as the validation gate between external providers
// (mail, LLM, embedding model) and the ticket store.
package domain

import "time"

// Team is the support team a ticket is routed to.
type Team string

const (
	TeamBilling     Team = "Billing"
	TeamTechSupport Team = "Tech Support"
	TeamSales       Team = "Sales"
	TeamHR          Team = "HR"
	TeamIT          Team = "IT"
)

// Teams lists every routable team in prompt order.
var Teams = []Team{TeamBilling, TeamTechSupport, TeamSales, TeamHR, TeamIT}

// ValidTeams is the set of recognised teams.
var ValidTeams = map[Team]bool{
	TeamBilling: true, TeamTechSupport: true, TeamSales: true,
	TeamHR: true, TeamIT: true,
}

// AdminTeam is the pseudo-team that sees tickets of every team.
const AdminTeam = "Admin"

// Priority bounds. 1 is the most urgent.
const (
	MinPriority = 1
	MaxPriority = 5
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
	StatusSpam   Status = "spam"
)

// ValidStatuses is the set of recognised ticket statuses.
var ValidStatuses = map[Status]bool{
	StatusOpen: true, StatusClosed: true, StatusSpam: true,
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool { return s == StatusClosed || s == StatusSpam }

// InboundMessage is a normalized support email. It is produced by the mail
// adapter and consumed once by the ingestion pipeline.
type InboundMessage struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Classification is the structured output of the classifier.
type Classification struct {
	Team     Team   `json:"team"`
	Priority int    `json:"priority"`
	Subject  string `json:"subject"`
	Summary  string `json:"summary"`
}

// Vector is an L2-normalized embedding.
type Vector []float32

// Ticket is the durable helpdesk entity.
type Ticket struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Team      Team      `json:"team"`
	Priority  int       `json:"priority"`
	Subject   string    `json:"subject"`
	Summary   string    `json:"summary"`
	Body      string    `json:"body"`
	Status    Status    `json:"status"`
	Reply     string    `json:"reply,omitempty"`
	Vector    Vector    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasVector reports whether the ticket takes part in deduplication.
func (t Ticket) HasVector() bool { return len(t.Vector) > 0 }
