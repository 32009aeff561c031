// Package embed produces normalized, fixed-dimension vectors for message
// bodies on top of a raw embedding provider.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/engine/semantic"
)

// Embedder turns text into a unit-length vector of a fixed dimension.
// Every error it returns is a *domain.EmbeddingError.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.Vector, error)
	Dims() int
}

// Provider is a raw batch embedding backend. Vectors are returned in
// input order and are not assumed to be normalized.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client adapts a Provider to Embedder.
type Client struct {
	name     string
	provider Provider
	dims     int
}

// New wraps provider. dims is the dimension every vector must have; a
// provider returning anything else is misconfigured.
func New(name string, provider Provider, dims int) *Client {
	return &Client{name: name, provider: provider, dims: dims}
}

// Dims returns the expected vector dimension.
func (c *Client) Dims() int { return c.dims }

// Embed implements Embedder.
func (c *Client) Embed(ctx context.Context, text string) (domain.Vector, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one provider call. Either every vector is
// returned or none is.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	raw, err := c.provider.Embed(ctx, texts)
	if err != nil {
		return nil, &domain.EmbeddingError{Err: c.classify(err)}
	}
	if len(raw) != len(texts) {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("%s: got %d vectors for %d inputs", c.name, len(raw), len(texts))}
	}
	out := make([]domain.Vector, len(raw))
	for i, r := range raw {
		v, err := semantic.Normalize(r)
		if err != nil {
			return nil, &domain.EmbeddingError{Err: err}
		}
		if err := semantic.CheckDims(v, c.dims); err != nil {
			return nil, &domain.EmbeddingError{Err: err}
		}
		out[i] = v
	}
	return out, nil
}

type temporary interface{ Temporary() bool }

type unauthorized interface{ Unauthorized() bool }

func (c *Client) classify(err error) error {
	var u unauthorized
	if errors.As(err, &u) && u.Unauthorized() {
		return &domain.AuthError{Provider: c.name, Err: err}
	}
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return &domain.TransientProviderError{Provider: c.name, Op: "embed", Err: err}
	}
	var ue *url.Error
	var ne net.Error
	if errors.As(err, &ue) || errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientProviderError{Provider: c.name, Op: "embed", Err: err}
	}
	return err
}
