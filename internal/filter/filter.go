// Package filter holds the line filter shown above the arrivals list
package filter

import (
	"sort"
	"sync"
)

// State tracks the available and active lines for the reference stop
type State struct {
	mu        sync.RWMutex
	stopID    string
	available map[string]bool
	active    map[string]bool
}

// NewState returns an empty filter with no reference stop
func NewState() *State {
	return &State{
		available: make(map[string]bool),
		active:    make(map[string]bool),
	}
}

// Reconcile recomputes the filter from scratch when stopID differs from the
// stop the filter was last computed for. Every available line becomes active.
// For the same stop, lines not seen before are merged in instead (see Observe).
// Returns true when a recomputation happened.
func (s *State) Reconcile(stopID string, known, observed []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopID == stopID && s.stopID != "" {
		s.observeLocked(observed)
		return false
	}

	s.stopID = stopID
	s.available = make(map[string]bool, len(known)+len(observed))
	s.active = make(map[string]bool, len(known)+len(observed))
	for _, list := range [][]string{known, observed} {
		for _, line := range list {
			if line == "" {
				continue
			}
			s.available[line] = true
			s.active[line] = true
		}
	}
	return true
}

// Observe adds lines that showed up in a later fetch for the same stop.
// They are shown when the user had not narrowed the filter.
func (s *State) Observe(lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(lines)
}

func (s *State) observeLocked(lines []string) {
	all := s.allActiveLocked()
	for _, line := range lines {
		if line == "" || s.available[line] {
			continue
		}
		s.available[line] = true
		if all {
			s.active[line] = true
		}
	}
}

// Toggle flips lineID. When every line is active the click focuses on
// lineID alone; otherwise membership is toggled.
func (s *State) Toggle(lineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allActiveLocked() {
		s.active = map[string]bool{lineID: true}
		return
	}
	if s.active[lineID] {
		delete(s.active, lineID)
	} else {
		s.active[lineID] = true
	}
}

// ResetAll activates every available line
func (s *State) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = make(map[string]bool, len(s.available))
	for line := range s.available {
		s.active[line] = true
	}
}

// StopID is the stop the filter was computed for
func (s *State) StopID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopID
}

// Available returns the sorted available lines
func (s *State) Available() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.available)
}

// Active returns the sorted active lines
func (s *State) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.active)
}

// ActiveSet returns a copy of the active lines as a set
func (s *State) ActiveSet() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.active))
	for line := range s.active {
		out[line] = true
	}
	return out
}

// IsActive reports whether lineID is shown
func (s *State) IsActive(lineID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[lineID]
}

// AllActive reports whether every available line is shown
func (s *State) AllActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allActiveLocked()
}

func (s *State) allActiveLocked() bool {
	if len(s.available) == 0 {
		return false
	}
	for line := range s.available {
		if !s.active[line] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
