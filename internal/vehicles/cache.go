// Package vehicles caches live vehicle positions and the route data drawn
// around them in the live-position view
package vehicles

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jusunglee/busboard/internal/logging"
	"github.com/jusunglee/busboard/internal/models"
)

// DefaultTTL is how long a fetched collection is served without a new request
const DefaultTTL = 15 * time.Second

// ErrSignalLost means no live vehicle matches the requested id
var ErrSignalLost = errors.New("vehicle signal lost")

// Source returns the full set of live vehicles
type Source interface {
	GetVehicles(ctx context.Context) ([]models.VehiclePosition, error)
}

// Recorder receives one observation per upstream fetch: "ok", "stale" or "empty"
type Recorder interface {
	VehicleFetchObserve(result string)
}

// Cache is a process-wide, time-bounded copy of the vehicle collection.
// Each refresh replaces the whole collection.
type Cache struct {
	source   Source
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder
	group    singleflight.Group

	mu        sync.RWMutex
	vehicles  []models.VehiclePosition
	fetchedAt time.Time
	hasData   bool
}

// NewCache creates a cache over source. A non-positive ttl uses DefaultTTL.
func NewCache(source Source, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "vehicle_cache")),
	}
}

// SetClock replaces the time source
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// SetRecorder attaches a fetch recorder
func (c *Cache) SetRecorder(r Recorder) {
	c.recorder = r
}

// GetVehicles returns the cached collection while it is younger than the
// TTL and refreshes it otherwise. A failed refresh falls back to the stale
// collection, or to an empty one. It never fails.
func (c *Cache) GetVehicles(ctx context.Context) []models.VehiclePosition {
	if vehicles, ok := c.fresh(); ok {
		return vehicles
	}

	v, _, _ := c.group.Do("vehicles", func() (interface{}, error) {
		// another caller may have refreshed while we waited for the lock
		if vehicles, ok := c.fresh(); ok {
			return vehicles, nil
		}
		// shared by every waiter, so one caller going away must not fail it
		return c.refresh(context.WithoutCancel(ctx)), nil
	})
	return clone(v.([]models.VehiclePosition))
}

// Find returns the live vehicle matching id, or ErrSignalLost
func (c *Cache) Find(ctx context.Context, id string) (models.VehiclePosition, error) {
	vehicle, ok := MatchVehicle(c.GetVehicles(ctx), id)
	if !ok {
		return models.VehiclePosition{}, ErrSignalLost
	}
	return vehicle, nil
}

// FetchedAt is the time of the last successful refresh
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

func (c *Cache) fresh() ([]models.VehiclePosition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.hasData && c.now().Sub(c.fetchedAt) < c.ttl {
		return clone(c.vehicles), true
	}
	return nil, false
}

func (c *Cache) refresh(ctx context.Context) []models.VehiclePosition {
	vehicles, err := c.source.GetVehicles(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.hasData {
			logging.LogError(c.logger, "vehicle refresh failed, serving stale positions", err,
				slog.Int("vehicles", len(c.vehicles)))
			c.observe("stale")
			return clone(c.vehicles)
		}
		logging.LogError(c.logger, "vehicle refresh failed", err)
		c.observe("empty")
		return []models.VehiclePosition{}
	}

	if vehicles == nil {
		vehicles = []models.VehiclePosition{}
	}
	c.vehicles = vehicles
	c.fetchedAt = c.now()
	c.hasData = true
	c.observe("ok")
	return clone(vehicles)
}

func (c *Cache) observe(result string) {
	if c.recorder != nil {
		c.recorder.VehicleFetchObserve(result)
	}
}

func clone(v []models.VehiclePosition) []models.VehiclePosition {
	out := make([]models.VehiclePosition, len(v))
	copy(out, v)
	return out
}
