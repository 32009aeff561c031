package ingest

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/pkg/events"
)

const (
	// MaxRetries is how many deliveries a bus message gets before it is
	// dead-lettered.
	MaxRetries = 3
	// RetryHeader carries the delivery count of a re-published message.
	RetryHeader = "X-Retry-Count"
)

// StartConsumer runs InboundMessages published on events.InboundSubject
// through the pipeline. Retryable failures are re-published with an
// incremented RetryHeader until MaxRetries, then dead-lettered along with
// terminal failures.
func (p *Pipeline) StartConsumer(nc *nats.Conn) (*nats.Subscription, error) {
	return events.Subscribe(nc, events.InboundSubject, func(ctx context.Context, msg domain.InboundMessage, raw *nats.Msg) {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = p.clock.Now()
		}

		o := p.Process(ctx, msg)
		if o.State == StateFailed {
			retries := retryCount(raw) + 1
			if o.Retryable() && retries < MaxRetries {
				p.redeliver(ctx, nc, msg, retries)
			} else {
				p.deadLetter(ctx, msg, o, retries)
			}
		}

		if raw.Reply != "" {
			_ = raw.Ack()
		}
	})
}

func (p *Pipeline) redeliver(ctx context.Context, nc *nats.Conn, msg domain.InboundMessage, retries int) {
	m, err := events.NewMsg(ctx, events.InboundSubject, msg)
	if err != nil {
		p.log.Error("redeliver encode failed", "message_id", msg.ID, "error", err)
		return
	}
	if m.Header == nil {
		m.Header = nats.Header{}
	}
	m.Header.Set(RetryHeader, strconv.Itoa(retries))
	if err := nc.PublishMsg(m); err != nil {
		p.log.Error("redeliver publish failed", "message_id", msg.ID, "error", err)
	}
}

func retryCount(m *nats.Msg) int {
	if m.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(m.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
