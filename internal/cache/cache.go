package cache

import (
	"sort"
	"sync"

	"github.com/rickgao/pricefeed/internal/model"
)

// Result reports the outcome of an Update.
type Result struct {
	Accepted  bool
	Direction model.Direction
}

// PriceCache maps symbols to their last accepted sample.
// Reads are safe from any goroutine; there is meant to be a single writer.
type PriceCache struct {
	mu      sync.RWMutex
	samples map[string]model.PriceSample

	// Stats
	accepted int64
	rejected int64
}

// New creates an empty PriceCache.
func New() *PriceCache {
	return &PriceCache{
		samples: make(map[string]model.PriceSample),
	}
}

// Update offers a sample to the cache.
// Samples with a timestamp at or before the cached one are rejected.
// Direction is computed against the previously cached price, whatever its source.
func (c *PriceCache) Update(sample model.PriceSample) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, exists := c.samples[sample.Symbol]
	if exists && sample.Timestamp <= prev.Timestamp {
		c.rejected++
		return Result{Accepted: false, Direction: model.DirectionNeutral}
	}

	dir := model.DirectionNeutral
	if exists {
		switch {
		case sample.Price > prev.Price:
			dir = model.DirectionUp
		case sample.Price < prev.Price:
			dir = model.DirectionDown
		}
	}

	c.samples[sample.Symbol] = sample
	c.accepted++

	return Result{Accepted: true, Direction: dir}
}

// Get returns the last accepted sample for a symbol.
func (c *PriceCache) Get(symbol string) (model.PriceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.samples[symbol]
	return s, ok
}

// Len returns the number of cached symbols.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}

// Symbols returns the cached symbols in sorted order.
func (c *PriceCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, 0, len(c.samples))
	for s := range c.samples {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}

// Stats returns current cache statistics.
func (c *PriceCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Symbols:  len(c.samples),
		Accepted: c.accepted,
		Rejected: c.rejected,
	}
}

// Stats contains cache statistics.
type Stats struct {
	Symbols  int   `json:"symbols"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}
