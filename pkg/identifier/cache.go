package identifier

import (
	"sort"

	"github.com/nicktill/impact/pkg/trial"
)

// Cache parses each distinct identifier string once. Plate layouts repeat the
// same identifier grid for every read, so extractors parse through a cache.
type Cache struct {
	grammar Grammar
	parsed  map[string]cached
}

type cached struct {
	id  trial.Identifier
	err error
}

// NewCache creates a cache for one grammar
func NewCache(g Grammar) *Cache {
	return &Cache{grammar: g, parsed: make(map[string]cached)}
}

// Parse returns a private copy of the parsed identifier
func (c *Cache) Parse(s string) (trial.Identifier, error) {
	entry, ok := c.parsed[s]
	if !ok {
		id, err := Parse(s, c.grammar)
		entry = cached{id: id, err: err}
		c.parsed[s] = entry
	}
	if entry.err != nil {
		return trial.Identifier{}, entry.err
	}
	return entry.id.Clone(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
