package ingest

import (
	"time"

	"github.com/helpdeskai/helpdesk/pkg/metrics"
)

// Metrics are the pipeline's instruments. A nil *Metrics records nothing.
type Metrics struct {
	reg        *metrics.Registry
	cycles     *metrics.Counter
	cycleDur   *metrics.Histogram
	lastCycle  *metrics.Gauge
	lastFetch  *metrics.Gauge
	dedupHits  *metrics.Counter
	indexFails *metrics.Counter
	dlq        *metrics.Counter
}

// NewMetrics registers the pipeline instruments on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		reg:        reg,
		cycles:     reg.Counter("helpdesk_ingest_cycles_total", "Completed polling cycles"),
		cycleDur:   reg.Histogram("helpdesk_ingest_cycle_duration_seconds", "Polling cycle duration", nil),
		lastCycle:  reg.Gauge("helpdesk_ingest_last_cycle_timestamp", "Unix time of the last completed cycle"),
		lastFetch:  reg.Gauge("helpdesk_ingest_last_cycle_fetched", "Messages fetched in the last cycle"),
		dedupHits:  reg.Counter("helpdesk_ingest_dedup_hits_total", "Messages skipped as near-duplicates"),
		indexFails: reg.Counter("helpdesk_ingest_index_failures_total", "Persisted tickets whose index write failed"),
		dlq:        reg.Counter("helpdesk_ingest_dlq_total", "Messages sent to the dead letter queue"),
	}
}

func (m *Metrics) outcome(o Outcome) {
	if m == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("helpdesk_ingest_messages_total", "state", string(o.State)), "Messages by terminal state").Inc()
	if o.State == StateFailed {
		m.reg.Counter(metrics.WithLabels("helpdesk_ingest_errors_total", "reason", o.Reason(), "stage", string(o.Stage)), "Failed messages by reason").Inc()
	}
	if o.State == StateSkippedDuplicate {
		m.dedupHits.Inc()
	}
	m.reg.Histogram("helpdesk_ingest_message_duration_seconds", "Per-message processing time", nil).Observe(o.Duration.Seconds())
}

func (m *Metrics) stage(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.reg.Histogram(metrics.WithLabels("helpdesk_ingest_stage_duration_seconds", "stage", name), "Per-stage duration", nil).Observe(d.Seconds())
}

func (m *Metrics) indexFailure() {
	if m != nil {
		m.indexFails.Inc()
	}
}

func (m *Metrics) deadLetter() {
	if m != nil {
		m.dlq.Inc()
	}
}

func (m *Metrics) cycle(r Report, at time.Time) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDur.Observe(r.Duration.Seconds())
	m.lastCycle.Set(at.Unix())
	m.lastFetch.Set(int64(r.Fetched))
}
