package mail

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Mailbox for local runs and tests.
type Memory struct {
	mu     sync.Mutex
	order  []string
	raw    map[string][]byte
	unread map[string]bool
}

// NewMemory returns an empty mailbox.
func NewMemory() *Memory {
	return &Memory{raw: make(map[string][]byte), unread: make(map[string]bool)}
}

// Deliver stores a raw message as unread and returns its ID.
func (m *Memory) Deliver(raw []byte) string {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, id)
	m.raw[id] = raw
	m.unread[id] = true
	return id
}

// DeliverText composes a minimal plain-text message and delivers it.
func (m *Memory) DeliverText(from, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: support@example.com\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return m.Deliver([]byte(b.String()))
}

// Unread reports whether id is still unread.
func (m *Memory) Unread(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[id]
}

// ListUnread implements Mailbox. The query is ignored.
func (m *Memory) ListUnread(_ context.Context, _ string, max int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, id := range m.order {
		if len(ids) >= max {
			break
		}
		if m.unread[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetRaw implements Mailbox.
func (m *Memory) GetRaw(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.raw[id]
	if !ok {
		return nil, fmt.Errorf("mail: message %s not found", id)
	}
	return raw, nil
}

// MarkRead implements Mailbox.
func (m *Memory) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.raw[id]; !ok {
		return fmt.Errorf("mail: message %s not found", id)
	}
	m.unread[id] = false
	return nil
}
