package vehicles

import (
	"strings"

	"github.com/jusunglee/busboard/internal/models"
)

// Matcher decides whether a cached vehicle id refers to the queried id.
// The arrivals and vehicles endpoints prefix vehicle ids differently, so a
// lookup tries progressively looser matchers.
type Matcher func(cachedID, queriedID string) bool

// ExactMatch compares ids verbatim
func ExactMatch(cachedID, queriedID string) bool {
	return cachedID == queriedID
}

// CachedSuffixMatch accepts "3102" for a query of "VIT_3102"
func CachedSuffixMatch(cachedID, queriedID string) bool {
	return strings.HasSuffix(queriedID, cachedID)
}

// QueriedSuffixMatch accepts "VIT_3102" for a query of "3102"
func QueriedSuffixMatch(cachedID, queriedID string) bool {
	return strings.HasSuffix(cachedID, queriedID)
}

// DefaultMatchers is the lookup order used by MatchVehicle
var DefaultMatchers = []Matcher{ExactMatch, CachedSuffixMatch, QueriedSuffixMatch}

// MatchVehicle finds id in vehicles with DefaultMatchers
func MatchVehicle(vehicles []models.VehiclePosition, id string) (models.VehiclePosition, bool) {
	return MatchWith(vehicles, id, DefaultMatchers...)
}

// MatchWith tries each matcher over the whole collection before falling to the next
func MatchWith(vehicles []models.VehiclePosition, id string, matchers ...Matcher) (models.VehiclePosition, bool) {
	if id == "" {
		return models.VehiclePosition{}, false
	}
	for _, match := range matchers {
		for _, v := range vehicles {
			if v.ID == "" {
				continue
			}
			if match(v.ID, id) {
				return v, true
			}
		}
	}
	return models.VehiclePosition{}, false
}

// StopsAway counts the stops on pattern the vehicle still has to reach up to
// the first of stopIDs, given the vehicle's current stop sequence.
// ok is false when no such stop lies ahead of the vehicle.
func StopsAway(pattern models.Pattern, stopIDs []string, currentSeq int) (int, bool) {
	targets := make(map[string]bool, len(stopIDs))
	for _, id := range stopIDs {
		targets[id] = true
	}

	count := 0
	for _, ps := range pattern.Path {
		if ps.StopSequence < currentSeq {
			continue
		}
		if targets[ps.StopID] {
			return count, true
		}
		count++
	}
	return 0, false
}
