// Package directory holds the static stop directory loaded at startup
package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/jusunglee/busboard/internal/models"
)

// compactStop is the size-optimised on-disk form
type compactStop struct {
	ID       string   `json:"i"`
	Name     string   `json:"n"`
	Lat      float64  `json:"l"`
	Lon      float64  `json:"o"`
	Locality string   `json:"c"`
	Lines    []string `json:"r,omitempty"`
	Inactive bool     `json:"x,omitempty"`
}

// legacyStop is the verbose form the compact file is generated from
type legacyStop struct {
	StopID   string   `json:"stop_id"`
	Name     string   `json:"name"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Locality string   `json:"locality"`
	Lines    []string `json:"lines,omitempty"`
	Active   *bool    `json:"active,omitempty"`
}

// Directory indexes stops by id
type Directory struct {
	stops map[string]models.Stop
	order []string
}

// New builds a directory from stops; later duplicates replace earlier ones
func New(stops []models.Stop) *Directory {
	d := &Directory{stops: make(map[string]models.Stop, len(stops))}
	for _, s := range stops {
		if _, dup := d.stops[s.ID]; !dup {
			d.order = append(d.order, s.ID)
		}
		d.stops[s.ID] = s
	}
	return d
}

// Load reads the compact file, falling back to the legacy file when the
// compact one is missing or unreadable
func Load(compactPath, legacyPath string) (*Directory, error) {
	var compactErr error
	if compactPath != "" {
		stops, err := readFile(compactPath, ParseCompact)
		if err == nil {
			return New(stops), nil
		}
		compactErr = err
	}

	if legacyPath == "" {
		if compactErr != nil {
			return nil, compactErr
		}
		return New(nil), nil
	}

	stops, err := readFile(legacyPath, ParseLegacy)
	if err != nil {
		return nil, errors.Join(compactErr, err)
	}
	return New(stops), nil
}

func readFile(path string, parse func(io.Reader) ([]models.Stop, error)) ([]models.Stop, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stops, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return stops, nil
}

// ParseCompact decodes the compact form
func ParseCompact(r io.Reader) ([]models.Stop, error) {
	var raw []compactStop
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding compact stops: %w", err)
	}

	stops := make([]models.Stop, 0, len(raw))
	for _, c := range raw {
		if c.ID == "" {
			continue
		}
		stops = append(stops, models.Stop{
			ID:       c.ID,
			Name:     c.Name,
			Location: models.Location{Lat: c.Lat, Lon: c.Lon},
			Locality: c.Locality,
			Lines:    c.Lines,
			Active:   !c.Inactive,
		})
	}
	return stops, nil
}

// ParseLegacy decodes the verbose form
func ParseLegacy(r io.Reader) ([]models.Stop, error) {
	var raw []legacyStop
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding legacy stops: %w", err)
	}

	stops := make([]models.Stop, 0, len(raw))
	for _, l := range raw {
		if l.StopID == "" {
			continue
		}
		active := true
		if l.Active != nil {
			active = *l.Active
		}
		stops = append(stops, models.Stop{
			ID:       l.StopID,
			Name:     l.Name,
			Location: models.Location{Lat: l.Lat, Lon: l.Lon},
			Locality: l.Locality,
			Lines:    l.Lines,
			Active:   active,
		})
	}
	return stops, nil
}

// WriteCompact encodes stops in the compact form
func WriteCompact(w io.Writer, stops []models.Stop) error {
	out := make([]compactStop, 0, len(stops))
	for _, s := range stops {
		out = append(out, compactStop{
			ID:       s.ID,
			Name:     s.Name,
			Lat:      s.Location.Lat,
			Lon:      s.Location.Lon,
			Locality: s.Locality,
			Lines:    s.Lines,
			Inactive: !s.Active,
		})
	}
	return json.NewEncoder(w).Encode(out)
}

// Lookup returns the stop with id
func (d *Directory) Lookup(id string) (models.Stop, bool) {
	s, ok := d.stops[id]
	return s, ok
}

// Lines returns the statically known lines serving the given stops, deduplicated
func (d *Directory) Lines(ids ...string) []string {
	seen := make(map[string]bool)
	var lines []string
	for _, id := range ids {
		for _, line := range d.stops[id].Lines {
			if !seen[line] {
				seen[line] = true
				lines = append(lines, line)
			}
		}
	}
	return lines
}

// All returns every stop in load order
func (d *Directory) All() []models.Stop {
	result := make([]models.Stop, 0, len(d.order))
	for _, id := range d.order {
		result = append(result, d.stops[id])
	}
	return result
}

// Len is the number of stops
func (d *Directory) Len() int {
	return len(d.order)
}

// Nearby returns up to limit active stops closest to lat/lon
func (d *Directory) Nearby(lat, lon float64, limit int) []models.Stop {
	type stopDist struct {
		stop     models.Stop
		distance float64
	}

	if limit <= 0 {
		return []models.Stop{}
	}

	var candidates []stopDist
	for _, id := range d.order {
		s := d.stops[id]
		if !s.Active {
			continue
		}
		candidates = append(candidates, stopDist{s, distance(lat, lon, s.Location.Lat, s.Location.Lon)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	result := make([]models.Stop, 0, limit)
	for i := 0; i < limit && i < len(candidates); i++ {
		result = append(result, candidates[i].stop)
	}
	return result
}

// distance calculates the distance between two points using the Haversine formula
func distance(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371 // Earth's radius in kilometers

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}
