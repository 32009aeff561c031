package classify

import (
	"context"
	"errors"

	"github.com/helpdeskai/helpdesk/engine/domain"
	"github.com/helpdeskai/helpdesk/pkg/resilience"
)

// Guarded paces calls to a Classifier and stops calling it while the
// provider is failing.
type Guarded struct {
	next    Classifier
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

// NewGuarded wraps next. Either limiter or breaker may be nil.
func NewGuarded(next Classifier, limiter *resilience.Limiter, breaker *resilience.Breaker) *Guarded {
	return &Guarded{next: next, limiter: limiter, breaker: breaker}
}

// BreakerOpts returns breaker options that count only transient provider
// failures. A reply that failed validation says nothing about provider
// health.
func BreakerOpts() resilience.BreakerOpts {
	opts := resilience.DefaultBreakerOpts
	opts.IsFailure = domain.IsRetryable
	return opts
}

// Classify implements Classifier.
func (g *Guarded) Classify(ctx context.Context, body string) (domain.Classification, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return domain.Classification{}, &domain.ClassificationError{
				Err: &domain.TransientProviderError{Provider: "classifier", Op: "rate-limit", Err: err},
			}
		}
	}
	if g.breaker == nil {
		return g.next.Classify(ctx, body)
	}

	var out domain.Classification
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Classify(ctx, body)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return domain.Classification{}, &domain.ClassificationError{
			Err: &domain.TransientProviderError{Provider: "classifier", Op: "breaker", Err: err},
		}
	}
	return out, err
}
