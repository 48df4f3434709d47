package busboard

import (
	"context"
	"time"

	"github.com/jusunglee/busboard/internal/arrivals"
	"github.com/jusunglee/busboard/internal/models"
	"github.com/jusunglee/busboard/internal/stopgroup"
)

// Client defines the interface for reading and steering the arrivals board
// Abstracts the refresh loop and its caches behind one surface
type Client interface {
	Board() Board
	SelectStop(ctx context.Context, stopID string) error
	ToggleLine(lineID string)
	ResetLines()

	OpenLiveView(vehicleID, tripID string)
	CloseLiveView()
	LiveVehicle(ctx context.Context) (models.LiveVehicle, error)

	Vehicles(ctx context.Context) []models.VehiclePosition
	Pattern(ctx context.Context, id string) (models.Pattern, error)
	Shape(ctx context.Context, id string) (models.Shape, error)

	NearbyStops(lat, lon float64, limit int) []models.Stop
	Stops() []models.Stop
	Groups() []stopgroup.Group

	GetLastUpdate() time.Time
}

// Board is the arrivals view: the cached arrivals with the line filter applied
type Board struct {
	Generation     uint64                  `json:"generation"`
	Status         models.Status           `json:"status"`
	Error          string                  `json:"error,omitempty"`
	Stop           *models.StopHeader      `json:"stop,omitempty"`
	Arrivals       []models.DisplayArrival `json:"arrivals"`
	Total          int                     `json:"total"`
	AllFilteredOut bool                    `json:"allFilteredOut"`
	ActiveLines    []string                `json:"activeLines"`
	AvailableLines []string                `json:"availableLines"`
	LiveVehicleID  string                  `json:"liveVehicleId,omitempty"`
	LastUpdate     time.Time               `json:"lastUpdate"`
}

// Config holds configuration for the local client
// BaseURL is the root of the transit REST API
type Config struct {
	BaseURL             string
	APIKey              string
	RateLimit           float64
	RateBurst           int
	VehiclePositionsURL string
	DefaultStop         string
	Interval            time.Duration
	LiveInterval        time.Duration
	VehicleTTL          time.Duration
	RouteCacheSize      int
	RouteCacheTTL       time.Duration
	StopGroupsFile      string
	StopsFile           string
	LegacyStopsFile     string
	RolloverLateHour    int
	RolloverEarlyHour   int
}

// rollover is the configured policy, taken as is; {0, 0} never rolls over
func (c Config) rollover() arrivals.RolloverPolicy {
	return arrivals.RolloverPolicy{LateHour: c.RolloverLateHour, EarlyHour: c.RolloverEarlyHour}
}

// DefaultConfig returns default configuration
// 15s/5s refresh with a 15s vehicle window matches the upstream update rate
func DefaultConfig() Config {
	return Config{
		RateLimit:         5,
		RateBurst:         10,
		Interval:          15 * time.Second,
		LiveInterval:      5 * time.Second,
		VehicleTTL:        15 * time.Second,
		RouteCacheSize:    512,
		RouteCacheTTL:     6 * time.Hour,
		StopGroupsFile:    "data/stop_groups.yml",
		StopsFile:         "data/stops_lite.json",
		LegacyStopsFile:   "data/stops.json",
		RolloverLateHour:  20,
		RolloverEarlyHour: 4,
	}
}
