// Package breeds provides the read-only breed metadata dictionary joined with
// classification results.
package breeds

import (
	"errors"
	"sort"
)

// ErrUnknownBreed is returned when a breed label has no dictionary entry.
var ErrUnknownBreed = errors.New("unknown breed")

// Metadata describes a breed. It is reference data and is never mutated.
type Metadata struct {
	Name            string `json:"name" yaml:"name"`
	MilkProduction  string `json:"milk_production" yaml:"milk_production"`
	Origin          string `json:"origin" yaml:"origin"`
	HornType        string `json:"horn_type" yaml:"horn_type"`
	BodyFeatures    string `json:"body_features" yaml:"body_features"`
	RecommendedFeed string `json:"best_food" yaml:"best_food"`
}

// Catalog is an immutable breed dictionary keyed by the label the
// classification service returns. A Catalog is safe for concurrent use.
type Catalog struct {
	entries map[string]Metadata
}

// NewCatalog copies entries into a new Catalog. Entries without a name take
// their key as name.
func NewCatalog(entries map[string]Metadata) *Catalog {
	copied := make(map[string]Metadata, len(entries))
	for key, meta := range entries {
		if meta.Name == "" {
			meta.Name = key
		}
		copied[key] = meta
	}
	return &Catalog{entries: copied}
}

// Lookup returns the metadata recorded for breed.
func (c *Catalog) Lookup(breed string) (Metadata, bool) {
	if c == nil {
		return Metadata{}, false
	}
	meta, ok := c.entries[breed]
	return meta, ok
}

// Get is Lookup with an error for callers that report misses.
func (c *Catalog) Get(breed string) (Metadata, error) {
	meta, ok := c.Lookup(breed)
	if !ok {
		return Metadata{}, ErrUnknownBreed
	}
	return meta, nil
}

// Labels returns the dictionary keys in sorted order.
func (c *Catalog) Labels() []string {
	if c == nil {
		return nil
	}
	labels := make([]string, 0, len(c.entries))
	for key := range c.entries {
		labels = append(labels, key)
	}
	sort.Strings(labels)
	return labels
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
