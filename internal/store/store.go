package store

import (
	"sync"
	"time"

	"github.com/jusunglee/busboard/internal/models"
)

// Store holds the arrivals view shared between the refresh loop and readers
type Store struct {
	mu            sync.RWMutex
	generation    uint64
	status        models.Status
	errMessage    string
	header        *models.StopHeader
	arrivals      []models.DisplayArrival
	activeLines   []string
	liveVehicleID string
	hasData       bool
	lastUpdate    time.Time
}

// NewStore creates a new store instance
func NewStore() *Store {
	return &Store{
		status:   models.StatusLoading,
		arrivals: []models.DisplayArrival{},
	}
}

// ApplyCycle replaces the cached arrivals and header with a cycle's result
func (s *Store) ApplyCycle(generation uint64, header models.StopHeader, arrivals []models.DisplayArrival, activeLines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := header
	s.generation = generation
	s.header = &h
	s.arrivals = arrivals
	s.activeLines = activeLines
	s.status = models.StatusOK
	s.errMessage = ""
	s.hasData = true
	s.lastUpdate = time.Now()
}

// SetActiveLines updates the filter shown with the cached arrivals
func (s *Store) SetActiveLines(activeLines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeLines = activeLines
}

// SetLoading marks the view as loading; the displayed data is no longer current
func (s *Store) SetLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.StatusLoading
	s.errMessage = ""
	s.hasData = false
}

// SetError shows message instead of the arrivals list. The previous header
// and arrivals are dropped so the error never sits on another stop's data.
func (s *Store) SetError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.StatusError
	s.errMessage = message
	s.header = nil
	s.arrivals = []models.DisplayArrival{}
	s.activeLines = nil
	s.hasData = false
}

// SetLiveVehicle records the vehicle whose live view is open ("" for none)
func (s *Store) SetLiveVehicle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveVehicleID = id
}

// HasData reports whether the view currently shows real data
func (s *Store) HasData() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasData
}

// Arrivals returns a copy of the cached arrivals
func (s *Store) Arrivals() []models.DisplayArrival {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.DisplayArrival, len(s.arrivals))
	copy(result, s.arrivals)
	return result
}

// Snapshot returns a copy of the whole view
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := models.Snapshot{
		Generation:    s.generation,
		Status:        s.status,
		Error:         s.errMessage,
		Arrivals:      make([]models.DisplayArrival, len(s.arrivals)),
		ActiveLines:   make([]string, len(s.activeLines)),
		LiveVehicleID: s.liveVehicleID,
		LastUpdate:    s.lastUpdate,
	}
	copy(snap.Arrivals, s.arrivals)
	copy(snap.ActiveLines, s.activeLines)
	if s.header != nil {
		h := *s.header
		h.Members = append([]string(nil), s.header.Members...)
		snap.Header = &h
	}
	return snap
}

// GetLastUpdate returns the last update time
func (s *Store) GetLastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}
