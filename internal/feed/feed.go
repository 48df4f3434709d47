// Package feed runs the arrivals refresh loop for the selected stop
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jusunglee/busboard/internal/arrivals"
	"github.com/jusunglee/busboard/internal/logging"
	"github.com/jusunglee/busboard/internal/models"
	"github.com/jusunglee/busboard/internal/store"
	"github.com/jusunglee/busboard/internal/upstream"
	"github.com/jusunglee/busboard/internal/vehicles"
)

const (
	// DefaultInterval between cycles while no live view is open
	DefaultInterval = 15 * time.Second
	// DefaultLiveInterval between cycles while a live view is open
	DefaultLiveInterval = 5 * time.Second
)

var (
	// ErrNoStop is returned when a cycle runs before any stop was selected
	ErrNoStop = errors.New("no stop selected")
	// ErrNoLiveView is returned by LiveVehicle when no live view is open
	ErrNoLiveView = errors.New("no live view open")
)

// Upstream fetches stop metadata and realtime arrivals
type Upstream interface {
	GetStop(ctx context.Context, stopID string) (models.StopInfo, error)
	GetRealtime(ctx context.Context, stopID string) ([]models.ArrivalRecord, error)
}

// Resolver maps a stop to the upstream stops queried together
type Resolver interface {
	Resolve(stopID string) []string
}

// LineDirectory knows the lines serving each stop
type LineDirectory interface {
	Lines(ids ...string) []string
}

// VehicleFinder looks up a live vehicle
type VehicleFinder interface {
	Find(ctx context.Context, id string) (models.VehiclePosition, error)
}

// PatternSource returns route patterns
type PatternSource interface {
	GetPattern(ctx context.Context, id string) (models.Pattern, error)
}

// Renderer is a surface that shows cycle results
type Renderer interface {
	OnLoadingStart()
	OnCycleComplete(arrivals []models.DisplayArrival, activeLines []string, header models.StopHeader)
	OnCycleError(stopID, message string)
}

// LineFilter is the filter state reconciled after each cycle
type LineFilter interface {
	Reconcile(stopID string, known, observed []string) bool
	Toggle(lineID string)
	ResetAll()
	Active() []string
}

// Recorder receives cycle measurements
type Recorder interface {
	CycleObserve(result string, d time.Duration)
	StaleCycleDiscarded()
	ArrivalsDisplayed(n int)
	IntervalSet(d time.Duration)
}

// MapObserver is called with the live vehicle after each cycle while a live
// view is open
type MapObserver func(models.LiveVehicle)

type nopRecorder struct{}

func (nopRecorder) CycleObserve(string, time.Duration) {}
func (nopRecorder) StaleCycleDiscarded()               {}
func (nopRecorder) ArrivalsDisplayed(int)              {}
func (nopRecorder) IntervalSet(time.Duration)          {}

type identityResolver struct{}

func (identityResolver) Resolve(stopID string) []string { return []string{stopID} }

// Config controls the refresh loop
type Config struct {
	DefaultStop  string
	Interval     time.Duration
	LiveInterval time.Duration
	Rollover     arrivals.RolloverPolicy
}

// DefaultConfig returns the 15s/5s cadence with the default rollover policy
func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		LiveInterval: DefaultLiveInterval,
		Rollover:     arrivals.DefaultRollover(),
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithResolver sets the stop group resolver
func WithResolver(r Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithDirectory sets where statically known lines come from
func WithDirectory(d LineDirectory) Option {
	return func(m *Manager) { m.directory = d }
}

// WithFilter replaces the line filter state
func WithFilter(f LineFilter) Option {
	return func(m *Manager) { m.filter = f }
}

// WithVehicles enables the live view lookups
func WithVehicles(finder VehicleFinder, patterns PatternSource) Option {
	return func(m *Manager) {
		m.vehicles = finder
		m.patterns = patterns
	}
}

// WithRenderer adds a rendering surface
func WithRenderer(r Renderer) Option {
	return func(m *Manager) { m.renderers = append(m.renderers, r) }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces the time source used for normalization
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the refresh cycle: the selected stop, the single pending
// timer and the live view flag
type Manager struct {
	upstream     Upstream
	store        *store.Store
	resolver     Resolver
	directory    LineDirectory
	filter       LineFilter
	normalizer   *arrivals.Normalizer
	vehicles     VehicleFinder
	patterns     PatternSource
	renderers    []Renderer
	recorder     Recorder
	logger       *slog.Logger
	now          func() time.Time
	interval     time.Duration
	liveInterval time.Duration

	generation atomic.Uint64

	mu          sync.Mutex
	baseCtx     context.Context
	currentStop string
	timer       *time.Timer
	stopped     bool
	liveOpen    bool
	liveVehicle string
	liveTrip    string
	mapObserver MapObserver
	wg          sync.WaitGroup
}

// NewManager creates a refresh manager writing into s
func NewManager(cfg Config, up Upstream, s *store.Store, filterState LineFilter, opts ...Option) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LiveInterval <= 0 {
		cfg.LiveInterval = DefaultLiveInterval
	}

	m := &Manager{
		upstream:     up,
		store:        s,
		filter:       filterState,
		resolver:     identityResolver{},
		normalizer:   arrivals.NewNormalizer(cfg.Rollover),
		recorder:     nopRecorder{},
		logger:       slog.Default(),
		now:          time.Now,
		interval:     cfg.Interval,
		liveInterval: cfg.LiveInterval,
		baseCtx:      context.Background(),
		currentStop:  cfg.DefaultStop,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "refresh"))
	return m
}

// Start runs the first cycle for the default stop and arms the timer.
// Timer-driven cycles use ctx.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.stopped = false
	m.mu.Unlock()

	return m.RunCycle(ctx, true)
}

// Stop cancels the pending timer and waits for timer-driven cycles to return
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.cancelTimerLocked()
	m.mu.Unlock()

	m.wg.Wait()
}

// CurrentStop is the stop being refreshed
func (m *Manager) CurrentStop() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentStop
}

// Generation is the id of the most recently issued cycle
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// SelectStop switches to stopID and runs a cycle showing the loading state.
// An open live view is closed when the stop changes.
func (m *Manager) SelectStop(ctx context.Context, stopID string) error {
	if stopID == "" {
		return ErrNoStop
	}

	m.mu.Lock()
	if stopID != m.currentStop && m.liveOpen {
		m.closeLiveLocked()
	}
	m.currentStop = stopID
	m.mu.Unlock()

	return m.RunCycle(ctx, true)
}

// RunCycle performs one fetch-normalize-merge cycle for the current stop.
// Results of a cycle superseded by a newer one are discarded. The next cycle
// is always armed, whatever the outcome.
func (m *Manager) RunCycle(ctx context.Context, forceLoading bool) error {
	m.mu.Lock()
	m.cancelTimerLocked()
	stopID := m.currentStop
	m.mu.Unlock()

	if stopID == "" {
		return ErrNoStop
	}

	gen := m.generation.Add(1)
	start := time.Now()
	logger := m.logger.With(slog.String("stop_id", stopID), slog.Uint64("generation", gen))

	if forceLoading {
		m.store.SetLoading()
		for _, r := range m.renderers {
			r.OnLoadingStart()
		}
	}

	// fetches run to completion even if the caller goes away
	header, merged, err := m.fetch(context.WithoutCancel(ctx), stopID)

	if err != nil {
		return m.fail(gen, stopID, err, time.Since(start), logger)
	}

	m.mu.Lock()
	if gen != m.generation.Load() {
		m.mu.Unlock()
		m.recorder.StaleCycleDiscarded()
		logger.Debug("discarding superseded cycle", slog.Uint64("latest", m.generation.Load()))
		return nil
	}

	var known []string
	if m.directory != nil {
		known = m.directory.Lines(header.Members...)
	}
	if m.filter.Reconcile(stopID, known, arrivals.LinesOf(merged)) {
		logger.Debug("line filter recomputed")
	}
	active := m.filter.Active()
	m.store.ApplyCycle(gen, header, merged, active)
	liveOpen, liveID, observer := m.liveOpen, m.liveVehicle, m.mapObserver
	m.mu.Unlock()

	for _, r := range m.renderers {
		r.OnCycleComplete(merged, active, header)
	}

	elapsed := time.Since(start)
	m.recorder.CycleObserve("ok", elapsed)
	m.recorder.ArrivalsDisplayed(len(merged))
	logging.LogOperation(logger, "cycle complete",
		slog.Int("arrivals", len(merged)),
		slog.Int("members", len(header.Members)),
		slog.Duration("duration", elapsed))

	if liveOpen && observer != nil {
		m.notifyMap(ctx, liveID, stopID, observer)
	}

	m.arm()
	return nil
}

func (m *Manager) fetch(ctx context.Context, stopID string) (models.StopHeader, []models.DisplayArrival, error) {
	members := m.resolver.Resolve(stopID)

	info, err := m.upstream.GetStop(ctx, members[0])
	if err != nil {
		return models.StopHeader{}, nil, fmt.Errorf("stop %s: %w", members[0], err)
	}

	batches := make([][]models.ArrivalRecord, len(members))
	var g errgroup.Group
	for i, id := range members {
		g.Go(func() error {
			records, err := m.upstream.GetRealtime(ctx, id)
			if err != nil {
				return fmt.Errorf("member %s: %w", id, err)
			}
			batches[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.StopHeader{}, nil, err
	}

	header := models.StopHeader{
		ID:       stopID,
		Name:     info.Name,
		Locality: info.DisplayLocality(),
		Members:  members,
	}
	return header, m.normalizer.Merge(batches, m.now()), nil
}

func (m *Manager) fail(gen uint64, stopID string, err error, elapsed time.Duration, logger *slog.Logger) error {
	m.recorder.CycleObserve("error", elapsed)
	logging.LogError(logger, "cycle failed", err)

	m.mu.Lock()
	if gen != m.generation.Load() {
		m.mu.Unlock()
		m.recorder.StaleCycleDiscarded()
		return err
	}
	// a blip never replaces arrivals that are already showing
	showError := !m.store.HasData()
	msg := errorMessage(err)
	if showError {
		m.store.SetError(msg)
	}
	m.mu.Unlock()

	if showError {
		for _, r := range m.renderers {
			r.OnCycleError(stopID, msg)
		}
	}

	m.arm()
	return err
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, upstream.ErrStopNotFound):
		return "stop not found"
	case errors.Is(err, upstream.ErrFetchFailed):
		return "could not load arrivals"
	default:
		return "arrivals unavailable"
	}
}

// arm replaces the pending timer. The interval is read now, so opening or
// closing the live view affects the next cycle only.
func (m *Manager) arm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.cancelTimerLocked()

	interval := m.interval
	if m.liveOpen {
		interval = m.liveInterval
	}
	m.timer = time.AfterFunc(interval, m.onTimer)
	m.recorder.IntervalSet(interval)
}

func (m *Manager) onTimer() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	ctx := m.baseCtx
	m.mu.Unlock()
	defer m.wg.Done()

	// failures are logged and re-armed inside RunCycle
	_ = m.RunCycle(ctx, false)
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Pending reports whether a timer is armed
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// ToggleLine applies a filter click and re-renders the cached arrivals
func (m *Manager) ToggleLine(lineID string) {
	m.filter.Toggle(lineID)
	m.rerender()
}

// ResetLines shows every available line again
func (m *Manager) ResetLines() {
	m.filter.ResetAll()
	m.rerender()
}

func (m *Manager) rerender() {
	active := m.filter.Active()
	m.store.SetActiveLines(active)

	snap := m.store.Snapshot()
	// loading and error views have no list to re-filter
	if snap.Status != models.StatusOK || snap.Header == nil {
		return
	}
	for _, r := range m.renderers {
		r.OnCycleComplete(snap.Arrivals, active, *snap.Header)
	}
}

// OpenLiveView starts following vehicleID. The faster cadence starts with
// the next armed timer.
func (m *Manager) OpenLiveView(vehicleID, tripID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.liveOpen = true
	m.liveVehicle = vehicleID
	m.liveTrip = tripID
	m.store.SetLiveVehicle(vehicleID)
}

// CloseLiveView stops following the vehicle
func (m *Manager) CloseLiveView() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLiveLocked()
}

func (m *Manager) closeLiveLocked() {
	m.liveOpen = false
	m.liveVehicle = ""
	m.liveTrip = ""
	m.store.SetLiveVehicle("")
}

// LiveViewOpen reports the followed vehicle and trip
func (m *Manager) LiveViewOpen() (vehicleID, tripID string, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveVehicle, m.liveTrip, m.liveOpen
}

// SetMapObserver registers fn to receive the live vehicle after each cycle
func (m *Manager) SetMapObserver(fn MapObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapObserver = fn
}

// ClearMapObserver removes the registered observer
func (m *Manager) ClearMapObserver() {
	m.SetMapObserver(nil)
}

// LiveVehicle returns the followed vehicle with its distance in stops to
// the current stop. vehicles.ErrSignalLost means it is not in the feed.
func (m *Manager) LiveVehicle(ctx context.Context) (models.LiveVehicle, error) {
	m.mu.Lock()
	open, id, stopID := m.liveOpen, m.liveVehicle, m.currentStop
	m.mu.Unlock()

	if !open {
		return models.LiveVehicle{}, ErrNoLiveView
	}
	return m.lookupLive(ctx, id, stopID)
}

func (m *Manager) lookupLive(ctx context.Context, vehicleID, stopID string) (models.LiveVehicle, error) {
	if m.vehicles == nil {
		return models.LiveVehicle{}, vehicles.ErrSignalLost
	}

	v, err := m.vehicles.Find(ctx, vehicleID)
	if err != nil {
		return models.LiveVehicle{}, err
	}

	live := models.LiveVehicle{Vehicle: v}
	if v.PatternID == nil || m.patterns == nil {
		return live, nil
	}

	pattern, err := m.patterns.GetPattern(ctx, *v.PatternID)
	if err != nil {
		logging.LogError(m.logger, "pattern lookup failed", err, slog.String("pattern_id", *v.PatternID))
		return live, nil
	}

	live.PatternID = *v.PatternID
	if pattern.ShapeID != nil {
		live.ShapeID = *pattern.ShapeID
	}
	if v.CurrentStopSequence != nil {
		if n, ok := vehicles.StopsAway(pattern, m.resolver.Resolve(stopID), *v.CurrentStopSequence); ok {
			live.StopsAway = &n
		}
	}
	return live, nil
}

func (m *Manager) notifyMap(ctx context.Context, vehicleID, stopID string, observer MapObserver) {
	live, err := m.lookupLive(ctx, vehicleID, stopID)
	if err != nil {
		m.logger.Debug("live vehicle not found", slog.String("vehicle_id", vehicleID), slog.String("error", err.Error()))
		return
	}
	observer(live)
}
