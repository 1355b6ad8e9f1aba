package marketplace

import (
	"context"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

// Waiter blocks until a call to platform may proceed.
type Waiter interface {
	Wait(ctx context.Context, platform insights.Platform) error
}

// Throttle wraps a so every call first waits on w.
func Throttle(a Adapter, w Waiter) Adapter {
	if w == nil {
		return a
	}
	return &throttledAdapter{next: a, waiter: w}
}

// NewThrottledRegistry registers every adapter behind w.
func NewThrottledRegistry(w Waiter, adapters ...Adapter) *Registry {
	wrapped := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		wrapped = append(wrapped, Throttle(a, w))
	}
	return NewRegistry(wrapped...)
}

type throttledAdapter struct {
	next   Adapter
	waiter Waiter
}

func (t *throttledAdapter) Platform() insights.Platform { return t.next.Platform() }

func (t *throttledAdapter) SearchProducts(
	ctx context.Context,
	sessionID, query string,
	limit int,
) ([]insights.Product, error) {
	if err := t.waiter.Wait(ctx, t.next.Platform()); err != nil {
		return nil, err
	}
	return t.next.SearchProducts(ctx, sessionID, query, limit)
}

func (t *throttledAdapter) FetchReviews(
	ctx context.Context,
	product insights.Product,
	limit int,
) ([]insights.Review, error) {
	if err := t.waiter.Wait(ctx, t.next.Platform()); err != nil {
		return nil, err
	}
	return t.next.FetchReviews(ctx, product, limit)
}
