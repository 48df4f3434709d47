// Package stopgroup maps a user-facing stop to the platforms queried with it
package stopgroup

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Group is one configured stop group
type Group struct {
	Key     string   `yaml:"key" json:"key" validate:"required"`
	Members []string `yaml:"members" json:"members" validate:"required,min=1,dive,required"`
}

// File is the YAML document holding every group
type File struct {
	Groups []Group `yaml:"groups" validate:"dive"`
}

// Resolver is a static lookup from group key to member stops
type Resolver struct {
	groups map[string][]string
}

// New builds a resolver. Each member list starts with its key and holds no duplicates.
func New(groups []Group) *Resolver {
	r := &Resolver{groups: make(map[string][]string, len(groups))}
	for _, g := range groups {
		members := []string{g.Key}
		seen := map[string]bool{g.Key: true}
		for _, m := range g.Members {
			if !seen[m] {
				seen[m] = true
				members = append(members, m)
			}
		}
		r.groups[g.Key] = members
	}
	return r
}

// Load reads and validates a groups file. An empty path yields an empty resolver.
func Load(path string) (*Resolver, error) {
	if path == "" {
		return New(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stop groups: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing stop groups: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validating stop groups: %w", err)
	}
	return New(f.Groups), nil
}

// Resolve returns the stops to query for stopID, primary first
func (r *Resolver) Resolve(stopID string) []string {
	if members, ok := r.groups[stopID]; ok {
		out := make([]string, len(members))
		copy(out, members)
		return out
	}
	return []string{stopID}
}

// IsGroup reports whether stopID is a configured group key
func (r *Resolver) IsGroup(stopID string) bool {
	_, ok := r.groups[stopID]
	return ok
}

// Groups returns every configured group sorted by key
func (r *Resolver) Groups() []Group {
	result := make([]Group, 0, len(r.groups))
	for key, members := range r.groups {
		m := make([]string, len(members))
		copy(m, members)
		result = append(result, Group{Key: key, Members: m})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}
