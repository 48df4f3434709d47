package models

import (
	"time"
)

// Location represents a geographic coordinate
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ArrivalRecord is one raw arrival as returned by the realtime endpoint.
// Time fields are "HH:MM:SS" strings; nil when the upstream omitted them.
type ArrivalRecord struct {
	LineID           string  `json:"line_id"`
	Headsign         string  `json:"headsign"`
	ScheduledArrival *string `json:"scheduled_arrival,omitempty"`
	EstimatedArrival *string `json:"estimated_arrival,omitempty"`
	VehicleID        *string `json:"vehicle_id,omitempty"`
	TripID           *string `json:"trip_id,omitempty"`
}

// DisplayArrival is a normalized arrival ready for a rendering surface
type DisplayArrival struct {
	LineID      string `json:"line_id"`
	Destination string `json:"destination"`
	Minutes     int    `json:"minutes"`
	Clock       string `json:"clock"`
	Live        bool   `json:"live"`
	Color       string `json:"color"`
	VehicleID   string `json:"vehicle_id,omitempty"`
	TripID      string `json:"trip_id,omitempty"`
}

// StopInfo is the upstream stop metadata
type StopInfo struct {
	Name             string `json:"name"`
	Locality         string `json:"locality,omitempty"`
	MunicipalityName string `json:"municipality_name,omitempty"`
}

// DisplayLocality prefers locality and falls back to the municipality name
func (s StopInfo) DisplayLocality() string {
	if s.Locality != "" {
		return s.Locality
	}
	return s.MunicipalityName
}

// StopHeader describes the stop currently shown
type StopHeader struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Locality string   `json:"locality,omitempty"`
	Members  []string `json:"members"`
}

// Stop is an entry of the static stop directory
type Stop struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location Location `json:"location"`
	Locality string   `json:"locality,omitempty"`
	Lines    []string `json:"lines,omitempty"`
	Active   bool     `json:"active"`
}

// VehiclePosition is one live vehicle from the vehicles endpoint
type VehiclePosition struct {
	ID                  string  `json:"id"`
	Lat                 float64 `json:"lat"`
	Lon                 float64 `json:"lon"`
	Bearing             float64 `json:"bearing,omitempty"`
	PatternID           *string `json:"pattern_id,omitempty"`
	CurrentStopSequence *int    `json:"current_stop_sequence,omitempty"`
}

// PatternStop is one stop on a route pattern
type PatternStop struct {
	StopID       string `json:"stop_id"`
	StopSequence int    `json:"stop_sequence"`
}

// Pattern is a route variant with its ordered stop path
type Pattern struct {
	ID      string        `json:"id"`
	ShapeID *string       `json:"shape_id,omitempty"`
	Path    []PatternStop `json:"path"`
}

// Shape is the geometry drawn for a pattern
type Shape struct {
	ID     string     `json:"id"`
	Points []Location `json:"points"`
}

// LiveVehicle is what the live-position view renders for one bus
type LiveVehicle struct {
	Vehicle   VehiclePosition `json:"vehicle"`
	StopsAway *int            `json:"stops_away,omitempty"`
	PatternID string          `json:"pattern_id,omitempty"`
	ShapeID   string          `json:"shape_id,omitempty"`
}

// Status of the data currently displayed
type Status string

const (
	StatusLoading Status = "loading"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// Snapshot is a read-only copy of the application state
type Snapshot struct {
	Generation    uint64           `json:"generation"`
	Status        Status           `json:"status"`
	Error         string           `json:"error,omitempty"`
	Header        *StopHeader      `json:"header,omitempty"`
	Arrivals      []DisplayArrival `json:"arrivals"`
	ActiveLines   []string         `json:"active_lines"`
	LiveVehicleID string           `json:"live_vehicle_id,omitempty"`
	LastUpdate    time.Time        `json:"last_update"`
}
