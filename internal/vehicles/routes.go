package vehicles

import (
	"context"
	"time"

	"github.com/bluele/gcache"

	"github.com/jusunglee/busboard/internal/models"
)

// RouteSource fetches patterns and shapes
type RouteSource interface {
	GetPattern(ctx context.Context, id string) (models.Pattern, error)
	GetShape(ctx context.Context, id string) (models.Shape, error)
}

// RouteCache keeps patterns and shapes, each in its own LRU.
// Route geometry changes with timetable releases, not minute to minute.
type RouteCache struct {
	source   RouteSource
	patterns gcache.Cache
	shapes   gcache.Cache
}

// NewRouteCache creates a cache holding up to size entries of each kind for ttl
func NewRouteCache(source RouteSource, size int, ttl time.Duration) *RouteCache {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RouteCache{
		source:   source,
		patterns: gcache.New(size).LRU().Expiration(ttl).Build(),
		shapes:   gcache.New(size).LRU().Expiration(ttl).Build(),
	}
}

// GetPattern returns the cached pattern or fetches it
func (r *RouteCache) GetPattern(ctx context.Context, id string) (models.Pattern, error) {
	if cached, err := r.patterns.Get(id); err == nil {
		return cached.(models.Pattern), nil
	}

	pattern, err := r.source.GetPattern(ctx, id)
	if err != nil {
		return models.Pattern{}, err
	}
	_ = r.patterns.Set(id, pattern)
	return pattern, nil
}

// GetShape returns the cached shape or fetches it
func (r *RouteCache) GetShape(ctx context.Context, id string) (models.Shape, error) {
	if cached, err := r.shapes.Get(id); err == nil {
		return cached.(models.Shape), nil
	}

	shape, err := r.source.GetShape(ctx, id)
	if err != nil {
		return models.Shape{}, err
	}
	_ = r.shapes.Set(id, shape)
	return shape, nil
}
