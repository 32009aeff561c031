package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// GmailConfig locates the OAuth material for a Gmail mailbox.
type GmailConfig struct {
	// CredentialsFile is the OAuth client JSON downloaded from Google Cloud.
	CredentialsFile string
	// TokenFile holds a saved token: either an "authorized_user" JSON with a
	// refresh token, or a serialized oauth2.Token.
	TokenFile string
	// User is the mailbox owner; "me" when empty.
	User string
}

// Gmail reads a mailbox through the Gmail v1 API.
type Gmail struct {
	svc  *gmail.Service
	user string
}

// NewGmail authenticates with the saved token and returns a mailbox.
func NewGmail(ctx context.Context, cfg GmailConfig) (*Gmail, error) {
	ts, err := tokenSource(ctx, cfg)
	if err != nil {
		return nil, &domain.AuthError{Provider: "gmail", Err: err}
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("gmail: new service: %w", err)
	}
	return NewGmailWithService(svc, cfg.User), nil
}

// NewGmailWithService wraps an existing service, e.g. one pointed at a test
// server with option.WithEndpoint.
func NewGmailWithService(svc *gmail.Service, user string) *Gmail {
	if user == "" {
		user = "me"
	}
	return &Gmail{svc: svc, user: user}
}

func tokenSource(ctx context.Context, cfg GmailConfig) (oauth2.TokenSource, error) {
	tokenJSON, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(tokenJSON, &probe); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if probe.Type == "authorized_user" {
		creds, err := google.CredentialsFromJSON(ctx, tokenJSON, gmail.GmailModifyScope)
		if err != nil {
			return nil, fmt.Errorf("load authorized user: %w", err)
		}
		return creds.TokenSource, nil
	}

	clientJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(clientJSON, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return conf.TokenSource(ctx, &tok), nil
}

// ListUnread returns the IDs of at most max messages matching query.
func (g *Gmail) ListUnread(ctx context.Context, query string, max int) ([]string, error) {
	resp, err := g.svc.Users.Messages.List(g.user).Q(query).MaxResults(int64(max)).Context(ctx).Do()
	if err != nil {
		return nil, gmailError("list", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// GetRaw fetches and decodes the full RFC 5322 message.
func (g *Gmail) GetRaw(ctx context.Context, id string) ([]byte, error) {
	msg, err := g.svc.Users.Messages.Get(g.user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, gmailError("get", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(msg.Raw, "="))
	if err != nil {
		return nil, fmt.Errorf("gmail: decode %s: %w", id, err)
	}
	return raw, nil
}

// MarkRead removes the UNREAD label.
func (g *Gmail) MarkRead(ctx context.Context, id string) error {
	_, err := g.svc.Users.Messages.Modify(g.user, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return gmailError("modify", err)
	}
	return nil
}

var rateReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

func gmailError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			if rateReasons[item.Reason] {
				return &domain.TransientProviderError{Provider: "gmail", Op: op, Err: err}
			}
		}
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return &domain.AuthError{Provider: "gmail", Err: err}
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return &domain.TransientProviderError{Provider: "gmail", Op: op, Err: err}
		}
		return fmt.Errorf("gmail: %s: %w", op, err)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return &domain.AuthError{Provider: "gmail", Err: err}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientProviderError{Provider: "gmail", Op: op, Err: err}
	}
	return fmt.Errorf("gmail: %s: %w", op, err)
}
