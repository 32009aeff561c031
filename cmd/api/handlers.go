package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/engine/ingest"
	"github.com/helpdeskai/helpdesk/engine/tickets"
	"github.com/helpdeskai/helpdesk/pkg/clock"
	"github.com/helpdeskai/helpdesk/pkg/metrics"
	"github.com/helpdeskai/helpdesk/pkg/mid"
	"github.com/helpdeskai/helpdesk/pkg/schedule"
)

// processor runs one message through the ingestion pipeline.
type processor interface {
	Process(ctx context.Context, msg domain.InboundMessage) ingest.Outcome
}

// cycleRunner triggers a mail cycle outside the poll schedule.
type cycleRunner interface {
	RunNow(ctx context.Context) error
}

type reporter interface {
	LastReport() (ingest.Report, bool)
}

type server struct {
	store    tickets.Store
	pipeline processor
	cycles   cycleRunner
	reports  reporter
	clock    clock.Clock
	log      *slog.Logger
}

func (s *server) routes(reg *metrics.Registry, corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tickets", s.handleList)
	mux.HandleFunc("POST /api/tickets", s.handleCreate)
	mux.HandleFunc("POST /api/tickets/from-email", s.handleFromEmail)
	mux.HandleFunc("GET /api/tickets/history", s.handleHistory)
	mux.HandleFunc("GET /api/tickets/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /api/tickets/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/tickets/{id}/close", s.handleTransition(domain.StatusClosed))
	mux.HandleFunc("PUT /api/tickets/{id}/spam", s.handleTransition(domain.StatusSpam))
	mux.HandleFunc("PUT /api/tickets/{id}/reply", s.handleReply)
	mux.HandleFunc("POST /api/ingest/run", s.handleRunCycle)
	mux.Handle("GET /metrics", reg.Handler())

	return mid.Chain(mux,
		mid.Recover(s.log),
		mid.RequestID(),
		mid.Logger(s.log),
		mid.Metrics(reg),
		mid.CORS(corsOrigin),
		mid.OTel("helpdesk-api"),
	)
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps store failures onto HTTP status codes.
func (s *server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "ticket not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("store request failed", "path", r.URL.Path, "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// cycleSummary is the JSON view of an ingest.Report.
type cycleSummary struct {
	Fetched    int     `json:"fetched"`
	Persisted  int     `json:"persisted"`
	Duplicates int     `json:"duplicates"`
	Failed     int     `json:"failed"`
	Seconds    float64 `json:"durationSeconds"`
}

func summarize(r ingest.Report) cycleSummary {
	return cycleSummary{
		Fetched:    r.Fetched,
		Persisted:  r.Persisted,
		Duplicates: r.Duplicates,
		Failed:     r.Failed,
		Seconds:    r.Duration.Seconds(),
	}
}

// --- Handlers ---

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.reports != nil {
		if r, ok := s.reports.LastReport(); ok {
			resp["lastCycle"] = summarize(r)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseTeam reads the team query parameter. The Admin pseudo-team sees
// every team.
func parseTeam(r *http.Request) (domain.Team, bool) {
	team := domain.Team(r.URL.Query().Get("team"))
	if team == tickets.AllTeams || domain.ValidTeams[team] {
		return team, true
	}
	return "", false
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	team, ok := parseTeam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "team must be one of the helpdesk teams or Admin")
		return
	}
	status := domain.StatusOpen
	if v := r.URL.Query().Get("status"); v != "" {
		status = domain.Status(v)
		if !domain.ValidStatuses[status] {
			writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
	}
	ts, err := s.store.List(r.Context(), tickets.Query{
		Team:     team,
		Statuses: []domain.Status{status},
		Order:    tickets.OrderQueue,
	})
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	team, ok := parseTeam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "team must be one of the helpdesk teams or Admin")
		return
	}
	ts, err := s.store.List(r.Context(), tickets.Query{
		Team:     team,
		Statuses: []domain.Status{domain.StatusClosed, domain.StatusSpam},
		Order:    tickets.OrderHistory,
	})
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CreateRequest is the JSON body for POST /api/tickets.
type CreateRequest struct {
	Sender   string      `json:"sender"`
	Body     string      `json:"body"`
	Team     domain.Team `json:"team"`
	Priority int         `json:"priority"`
	Subject  string      `json:"subject"`
	Summary  string      `json:"summary"`
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t := domain.NewTicket(
		domain.InboundMessage{Sender: req.Sender, Body: req.Body},
		domain.Classification{Team: req.Team, Priority: req.Priority, Subject: req.Subject, Summary: req.Summary},
		nil, s.clock.Now(),
	)
	if err := domain.ValidateTicket(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Insert(r.Context(), t); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// FromEmailRequest is the JSON body for POST /api/tickets/from-email.
type FromEmailRequest struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// DuplicateResponse is returned when a submitted email matches a recent
// ticket.
type DuplicateResponse struct {
	Duplicate   bool    `json:"duplicate"`
	DuplicateOf string  `json:"duplicateOf"`
	Score       float64 `json:"score"`
}

func (s *server) handleFromEmail(w http.ResponseWriter, r *http.Request) {
	var req FromEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Sender) == "" || strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "sender and body are required")
		return
	}

	o := s.pipeline.Process(r.Context(), domain.InboundMessage{
		ID:         "api-" + uuid.NewString(),
		Sender:     req.Sender,
		Body:       req.Body,
		ReceivedAt: s.clock.Now(),
	})
	switch o.State {
	case ingest.StatePersisted:
		writeJSON(w, http.StatusCreated, o.Ticket)
		return
	case ingest.StateSkippedDuplicate:
		writeJSON(w, http.StatusOK, DuplicateResponse{Duplicate: true, DuplicateOf: o.DuplicateOf, Score: o.Score})
		return
	}

	switch {
	case o.Stage == ingest.StateFetched:
		writeError(w, http.StatusBadRequest, o.Err.Error())
	case errors.Is(o.Err, domain.ErrSchema):
		writeError(w, http.StatusUnprocessableEntity, "classifier returned an invalid classification")
	case errors.Is(o.Err, domain.ErrTransient), errors.Is(o.Err, domain.ErrAuth):
		writeError(w, http.StatusBadGateway, "upstream provider unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "failed to create ticket")
	}
}

func (s *server) handleTransition(to domain.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.store.Transition(r.Context(), r.PathValue("id"), to, s.clock.Now())
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

// ReplyRequest is the JSON body for PUT /api/tickets/{id}/reply.
type ReplyRequest struct {
	Reply string `json:"reply"`
}

func (s *server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Reply) == "" {
		writeError(w, http.StatusBadRequest, "reply is required")
		return
	}
	t, err := s.store.SetReply(r.Context(), r.PathValue("id"), req.Reply, s.clock.Now())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleRunCycle runs one mail cycle now. A cycle already in flight, from
// the ticker or another request, yields 409.
func (s *server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if s.cycles == nil {
		writeError(w, http.StatusServiceUnavailable, "mail ingestion is not configured")
		return
	}
	// The cycle outlives a client that hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Minute)
	defer cancel()

	err := s.cycles.RunNow(ctx)
	if errors.Is(err, schedule.ErrBusy) {
		writeError(w, http.StatusConflict, "a cycle is already running")
		return
	}
	resp := map[string]any{}
	if rep, ok := s.reports.LastReport(); ok {
		resp["cycle"] = summarize(rep)
	}
	if err != nil {
		s.log.Warn("manual cycle failed", "err", err)
		resp["error"] = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
