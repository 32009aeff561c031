// Package mail pulls unread support emails from a mailbox provider and
// normalizes them into InboundMessages.
package mail

import "context"

// DefaultQuery selects unread primary-inbox messages.
const DefaultQuery = "in:inbox is:unread category:primary"

// MaxBatch is the largest batch a single fetch returns.
const MaxBatch = 10

// Mailbox is the narrow provider surface the adapter needs. Errors that
// mean the credentials are unusable must be *domain.AuthError.
type Mailbox interface {
	ListUnread(ctx context.Context, query string, max int) ([]string, error)
	GetRaw(ctx context.Context, id string) ([]byte, error)
	MarkRead(ctx context.Context, id string) error
}
