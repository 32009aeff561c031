package mail

import (
	"bytes"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// UnknownSender is used when a message has no parseable From address.
const UnknownSender = "unknown"

// ParseRaw decodes an RFC 5322 message into an InboundMessage. The body is
// the trimmed plain-text part; HTML-only messages are down-converted.
func ParseRaw(id string, raw []byte) (domain.InboundMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return domain.InboundMessage{}, fmt.Errorf("mail: parse %s: %w", id, err)
	}

	msg := domain.InboundMessage{
		ID:     id,
		Sender: UnknownSender,
		Body:   strings.TrimSpace(env.Text),
	}
	if addrs, err := env.AddressList("From"); err == nil && len(addrs) > 0 && addrs[0].Address != "" {
		msg.Sender = addrs[0].Address
	}
	if d, err := netmail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.ReceivedAt = d.UTC()
	}
	return msg, nil
}
