package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

type fakeGmail struct {
	mu       sync.Mutex
	raw      map[string]string
	modified []string
	status   int
	query    string
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"code": f.status, "message": "denied", "errors": []map[string]string{{"reason": "authError"}},
		}})
		return
	}
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/users/me/messages"):
		f.query = r.URL.Query().Get("q")
		var list []map[string]string
		for id := range f.raw {
			list = append(list, map[string]string{"id": id})
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": list})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/modify"):
		parts := strings.Split(r.URL.Path, "/")
		f.modified = append(f.modified, parts[len(parts)-2])
		json.NewEncoder(w).Encode(map[string]any{"id": parts[len(parts)-2]})
	case r.Method == http.MethodGet:
		parts := strings.Split(r.URL.Path, "/")
		id := parts[len(parts)-1]
		if r.URL.Query().Get("format") != "raw" {
			http.Error(w, "want raw", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": id, "raw": f.raw[id]})
	default:
		http.NotFound(w, r)
	}
}

func newTestGmail(t *testing.T, f *fakeGmail) *Gmail {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("gmail.NewService: %v", err)
	}
	return NewGmailWithService(svc, "")
}

func TestGmail_FetchAndMark(t *testing.T) {
	raw := "From: John <john@example.com>\r\nSubject: x\r\n\r\nMy invoice is wrong.\r\n"
	f := &fakeGmail{raw: map[string]string{"abc": base64.URLEncoding.EncodeToString([]byte(raw))}}
	src := NewSource(newTestGmail(t, f), Options{})

	msgs, err := src.FetchUnread(context.Background())
	if err != nil {
		t.Fatalf("FetchUnread: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender != "john@example.com" || msgs[0].Body != "My invoice is wrong." {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if f.query != DefaultQuery {
		t.Fatalf("unexpected query %q", f.query)
	}
	if len(f.modified) != 1 || f.modified[0] != "abc" {
		t.Fatalf("expected abc marked read, got %v", f.modified)
	}
}

func TestGmail_AuthFailure(t *testing.T) {
	f := &fakeGmail{status: http.StatusUnauthorized}
	_, err := newTestGmail(t, f).ListUnread(context.Background(), DefaultQuery, 10)
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestGmail_ServerErrorIsTransient(t *testing.T) {
	f := &fakeGmail{status: http.StatusServiceUnavailable}
	_, err := newTestGmail(t, f).ListUnread(context.Background(), DefaultQuery, 10)
	if !domain.IsRetryable(err) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestNewGmail_MissingToken(t *testing.T) {
	_, err := NewGmail(context.Background(), GmailConfig{TokenFile: t.TempDir() + "/missing.json"})
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
