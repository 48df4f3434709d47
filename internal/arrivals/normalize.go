// Package arrivals turns raw realtime records into display arrivals
package arrivals

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jusunglee/busboard/internal/models"
)

// MinMinutes is the earliest countdown kept; anything older is dropped
const MinMinutes = -1

// RolloverPolicy decides when a time-of-day belongs to the next calendar day.
// An arrival is tomorrow when the current hour is after LateHour and the
// arrival hour is before EarlyHour. This is a heuristic for services that
// cross midnight and can misplace early runs fetched late in the evening.
type RolloverPolicy struct {
	LateHour  int
	EarlyHour int
}

// DefaultRollover treats 00:00-03:59 as tomorrow once it is 21:00 or later
func DefaultRollover() RolloverPolicy {
	return RolloverPolicy{LateHour: 20, EarlyHour: 4}
}

func (p RolloverPolicy) nextDay(nowHour, arrivalHour int) bool {
	return nowHour > p.LateHour && arrivalHour < p.EarlyHour
}

// Normalizer converts raw records using a rollover policy
type Normalizer struct {
	Rollover RolloverPolicy
}

// NewNormalizer returns a Normalizer with the given policy
func NewNormalizer(policy RolloverPolicy) *Normalizer {
	return &Normalizer{Rollover: policy}
}

// Normalize produces zero or one display arrival for rec as seen at now.
// Records without any usable time, or more than a minute in the past, are dropped.
func (n *Normalizer) Normalize(rec models.ArrivalRecord, now time.Time) (models.DisplayArrival, bool) {
	raw, live := pickTime(rec)
	if raw == "" {
		return models.DisplayArrival{}, false
	}

	h, m, s, err := parseClock(raw)
	if err != nil {
		return models.DisplayArrival{}, false
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), h, m, s, 0, now.Location())
	if n.Rollover.nextDay(now.Hour(), h) {
		at = at.AddDate(0, 0, 1)
	}

	minutes := int(math.Floor(at.Sub(now).Minutes()))
	if minutes < MinMinutes {
		return models.DisplayArrival{}, false
	}

	arrival := models.DisplayArrival{
		LineID:      rec.LineID,
		Destination: rec.Headsign,
		Minutes:     minutes,
		Clock:       at.Format("15:04"),
		Live:        live,
		Color:       Color(rec.LineID),
	}
	if rec.VehicleID != nil {
		arrival.VehicleID = *rec.VehicleID
	}
	if rec.TripID != nil {
		arrival.TripID = *rec.TripID
	}
	return arrival, true
}

// Merge flattens the batches in fetch order, normalizes every record and
// sorts the result by countdown. Ties keep their fetch order.
func (n *Normalizer) Merge(batches [][]models.ArrivalRecord, now time.Time) []models.DisplayArrival {
	result := make([]models.DisplayArrival, 0)
	for _, batch := range batches {
		for _, rec := range batch {
			if arrival, ok := n.Normalize(rec, now); ok {
				result = append(result, arrival)
			}
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Minutes < result[j].Minutes
	})
	return result
}

// Filter keeps arrivals whose line is active. allFilteredOut reports the
// case where there were arrivals but none survived the filter.
func Filter(list []models.DisplayArrival, active map[string]bool) (shown []models.DisplayArrival, allFilteredOut bool) {
	shown = make([]models.DisplayArrival, 0, len(list))
	for _, a := range list {
		if active[a.LineID] {
			shown = append(shown, a)
		}
	}
	return shown, len(shown) == 0 && len(list) > 0
}

// LinesOf returns the distinct lines present in list, in first-seen order
func LinesOf(list []models.DisplayArrival) []string {
	seen := make(map[string]bool)
	var lines []string
	for _, a := range list {
		if !seen[a.LineID] {
			seen[a.LineID] = true
			lines = append(lines, a.LineID)
		}
	}
	return lines
}

func pickTime(rec models.ArrivalRecord) (string, bool) {
	if rec.EstimatedArrival != nil && *rec.EstimatedArrival != "" {
		return *rec.EstimatedArrival, true
	}
	if rec.ScheduledArrival != nil && *rec.ScheduledArrival != "" {
		return *rec.ScheduledArrival, false
	}
	return "", false
}

// parseClock reads "HH:MM:SS" or "HH:MM". Hours past 23 are allowed and
// roll into the next day through time.Date.
func parseClock(s string) (h, m, sec int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid time of day %q", s)
	}

	values := make([]int, 3)
	for i, p := range parts {
		v, convErr := strconv.Atoi(p)
		if convErr != nil || v < 0 {
			return 0, 0, 0, fmt.Errorf("invalid time of day %q", s)
		}
		values[i] = v
	}
	if values[1] > 59 || values[2] > 59 {
		return 0, 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	return values[0], values[1], values[2], nil
}
