package busboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jusunglee/busboard/internal/arrivals"
	"github.com/jusunglee/busboard/internal/directory"
	"github.com/jusunglee/busboard/internal/feed"
	"github.com/jusunglee/busboard/internal/filter"
	"github.com/jusunglee/busboard/internal/logging"
	"github.com/jusunglee/busboard/internal/metrics"
	"github.com/jusunglee/busboard/internal/models"
	"github.com/jusunglee/busboard/internal/stopgroup"
	"github.com/jusunglee/busboard/internal/store"
	"github.com/jusunglee/busboard/internal/upstream"
	"github.com/jusunglee/busboard/internal/vehicles"
)

// Option configures a LocalClient
type Option func(*options)

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Collector
	renderers []feed.Renderer
}

// WithLogger sets the logger shared by every component
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records cycles and vehicle fetches in c
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithRenderer adds a surface notified after every cycle
func WithRenderer(r feed.Renderer) Option {
	return func(o *options) { o.renderers = append(o.renderers, r) }
}

// LocalClient implements the Client interface for local usage
// Owns the application state and the background refresh loop
type LocalClient struct {
	store       *store.Store
	filter      *filter.State
	feedManager *feed.Manager
	directory   *directory.Directory
	resolver    *stopgroup.Resolver
	vehicles    *vehicles.Cache
	routes      *vehicles.RouteCache
	logger      *slog.Logger
}

// NewLocal creates a new local client and runs the first cycle for the
// default stop. A failed first cycle is logged; the loop keeps retrying.
func NewLocal(ctx context.Context, config Config, opts ...Option) (*LocalClient, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	resolver, err := stopgroup.Load(config.StopGroupsFile)
	if err != nil {
		return nil, err
	}

	dir, err := directory.Load(config.StopsFile, config.LegacyStopsFile)
	if err != nil {
		return nil, fmt.Errorf("loading stop directory: %w", err)
	}

	api := upstream.NewClient(config.BaseURL,
		upstream.WithAPIKey(config.APIKey),
		upstream.WithRateLimit(config.RateLimit, config.RateBurst),
		upstream.WithLogger(logger))

	var source vehicles.Source = api
	if config.VehiclePositionsURL != "" {
		source = upstream.NewGTFSRTSource(config.VehiclePositionsURL, config.APIKey, logger)
	}
	vehicleCache := vehicles.NewCache(source, config.VehicleTTL, logger)
	routes := vehicles.NewRouteCache(api, config.RouteCacheSize, config.RouteCacheTTL)

	s := store.NewStore()
	lines := filter.NewState()

	feedOpts := []feed.Option{
		feed.WithResolver(resolver),
		feed.WithDirectory(dir),
		feed.WithVehicles(vehicleCache, routes),
		feed.WithLogger(logger),
	}
	for _, r := range o.renderers {
		feedOpts = append(feedOpts, feed.WithRenderer(r))
	}
	if o.metrics != nil {
		feedOpts = append(feedOpts, feed.WithRecorder(o.metrics))
		vehicleCache.SetRecorder(o.metrics)
	}

	fm := feed.NewManager(feed.Config{
		DefaultStop:  config.DefaultStop,
		Interval:     config.Interval,
		LiveInterval: config.LiveInterval,
		Rollover:     config.rollover(),
	}, api, s, lines, feedOpts...)

	logger.Info("stop data loaded",
		slog.Int("stops", dir.Len()),
		slog.Int("groups", len(resolver.Groups())))

	if config.DefaultStop != "" {
		if err := fm.Start(ctx); err != nil {
			logging.LogError(logger, "initial cycle failed", err, slog.String("stop_id", config.DefaultStop))
		}
	}

	return &LocalClient{
		store:       s,
		filter:      lines,
		feedManager: fm,
		directory:   dir,
		resolver:    resolver,
		vehicles:    vehicleCache,
		routes:      routes,
		logger:      logger,
	}, nil
}

// Close gracefully shuts down the local client
// Must be called to stop the refresh timer
func (c *LocalClient) Close() {
	c.feedManager.Stop()
}

// Board builds the view from a single store snapshot so the arrivals and
// the active lines always belong to the same stop
func (c *LocalClient) Board() Board {
	snap := c.store.Snapshot()
	active := make(map[string]bool, len(snap.ActiveLines))
	for _, line := range snap.ActiveLines {
		active[line] = true
	}
	shown, allFilteredOut := arrivals.Filter(snap.Arrivals, active)

	var available []string
	if snap.Header != nil {
		available = c.filter.Available()
	}

	return Board{
		Generation:     snap.Generation,
		Status:         snap.Status,
		Error:          snap.Error,
		Stop:           snap.Header,
		Arrivals:       shown,
		Total:          len(snap.Arrivals),
		AllFilteredOut: allFilteredOut,
		ActiveLines:    snap.ActiveLines,
		AvailableLines: available,
		LiveVehicleID:  snap.LiveVehicleID,
		LastUpdate:     snap.LastUpdate,
	}
}

func (c *LocalClient) SelectStop(ctx context.Context, stopID string) error {
	return c.feedManager.SelectStop(ctx, stopID)
}

func (c *LocalClient) ToggleLine(lineID string) {
	c.feedManager.ToggleLine(lineID)
}

func (c *LocalClient) ResetLines() {
	c.feedManager.ResetLines()
}

func (c *LocalClient) OpenLiveView(vehicleID, tripID string) {
	c.feedManager.OpenLiveView(vehicleID, tripID)
}

func (c *LocalClient) CloseLiveView() {
	c.feedManager.CloseLiveView()
}

func (c *LocalClient) LiveVehicle(ctx context.Context) (models.LiveVehicle, error) {
	return c.feedManager.LiveVehicle(ctx)
}

// SetMapObserver registers fn to receive the live vehicle after each cycle
func (c *LocalClient) SetMapObserver(fn feed.MapObserver) {
	c.feedManager.SetMapObserver(fn)
}

// ClearMapObserver removes the map observer
func (c *LocalClient) ClearMapObserver() {
	c.feedManager.ClearMapObserver()
}

func (c *LocalClient) Vehicles(ctx context.Context) []models.VehiclePosition {
	return c.vehicles.GetVehicles(ctx)
}

func (c *LocalClient) Pattern(ctx context.Context, id string) (models.Pattern, error) {
	return c.routes.GetPattern(ctx, id)
}

func (c *LocalClient) Shape(ctx context.Context, id string) (models.Shape, error) {
	return c.routes.GetShape(ctx, id)
}

func (c *LocalClient) NearbyStops(lat, lon float64, limit int) []models.Stop {
	return c.directory.Nearby(lat, lon, limit)
}

func (c *LocalClient) Stops() []models.Stop {
	return c.directory.All()
}

func (c *LocalClient) Groups() []stopgroup.Group {
	return c.resolver.Groups()
}

func (c *LocalClient) GetLastUpdate() time.Time {
	return c.store.GetLastUpdate()
}
