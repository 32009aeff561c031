package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// msgPublisher is the part of *nats.Conn used for publishing.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NewMsg encodes v as JSON on subject and injects the trace context from ctx
// into the message headers.
func NewMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it to subject.
func Publish[T any](ctx context.Context, nc msgPublisher, subject string, v T) error {
	msg, err := NewMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Decode unmarshals a JSON message and extracts its trace context.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, err
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	return ctx, v, nil
}

// Subscribe registers a handler that receives the decoded message and the
// raw *nats.Msg. Malformed messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, v, err := Decode[T](msg)
		if err != nil {
			return
		}
		handler(ctx, v, msg)
	})
}

// NATS publishes outcomes on helpdesk.ingest.<state> and dead letters on
// DLQSubject.
type NATS struct {
	nc    msgPublisher
	close func()
}

// NewNATS wraps an open connection. Close drains it.
func NewNATS(nc *nats.Conn) *NATS {
	return &NATS{nc: nc, close: func() { nc.Drain() }}
}

func (p *NATS) Outcome(ctx context.Context, o Outcome) error {
	return Publish(ctx, p.nc, Subject(o.State), o)
}

func (p *NATS) DeadLetter(ctx context.Context, d DeadLetter) error {
	return Publish(ctx, p.nc, DLQSubject, d)
}

func (p *NATS) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
