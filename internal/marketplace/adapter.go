// Package marketplace defines platform adapters that produce product listings
// and customer reviews for a search query.
package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

// ErrUnsupportedPlatform is returned when no adapter is registered for a platform.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Adapter searches one marketplace.
type Adapter interface {
	Platform() insights.Platform
	SearchProducts(ctx context.Context, sessionID, query string, limit int) ([]insights.Product, error)
	FetchReviews(ctx context.Context, product insights.Product, limit int) ([]insights.Review, error)
}

// Registry resolves adapters by platform.
type Registry struct {
	adapters map[insights.Platform]Adapter
}

// NewRegistry indexes adapters by the platform they serve. Later adapters win.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[insights.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Adapter returns the adapter registered for platform.
func (r *Registry) Adapter(platform insights.Platform) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	return a, nil
}

// NewMockRegistry registers an offline mock adapter for every supported platform.
func NewMockRegistry(opts MockOptions) *Registry {
	adapters := make([]Adapter, 0, len(insights.Platforms))
	for _, p := range insights.Platforms {
		adapters = append(adapters, NewMockAdapter(p, opts))
	}
	return NewRegistry(adapters...)
}
