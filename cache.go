// cache.go
package main

import (
	"github.com/dgraph-io/ristretto"

	"proctrace/types"
)

// ProcessCache wraps Ristretto for process metadata kept between events.
// Fine-grained records carry only a pid on the wire; the consumption
// loop fills in comm and executable path from here.
type ProcessCache struct {
	cache   *ristretto.Cache
	maxSize int64
}

// NewProcessCache creates a new Ristretto-backed process cache.
func NewProcessCache(maxSize int64) (*ProcessCache, error) {
	cfg := &ristretto.Config{
		NumCounters: maxSize * 10,
		MaxCost:     maxSize,
		BufferItems: 64,
		Metrics:     true,
		Cost: func(value interface{}) int64 {
			if meta, ok := value.(*types.ProcessMeta); ok {
				return int64(16 + len(meta.Comm) + len(meta.ExePath))
			}
			return 1
		},
	}

	cache, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}

	return &ProcessCache{
		cache:   cache,
		maxSize: maxSize,
	}, nil
}

// Get retrieves process metadata from the cache.
func (pc *ProcessCache) Get(pid uint32) (*types.ProcessMeta, bool) {
	value, found := pc.cache.Get(pid)
	if !found {
		return nil, false
	}
	return value.(*types.ProcessMeta), true
}

// Set adds or updates process metadata.
func (pc *ProcessCache) Set(pid uint32, meta *types.ProcessMeta) bool {
	return pc.cache.Set(pid, meta, 1)
}

// Delete removes a process from the cache.
func (pc *ProcessCache) Delete(pid uint32) {
	pc.cache.Del(pid)
}

// MaxSize returns the configured maximum cache cost.
func (pc *ProcessCache) MaxSize() int64 {
	return pc.maxSize
}

// GetMetrics returns current cache metrics.
func (pc *ProcessCache) GetMetrics() *ristretto.Metrics {
	return pc.cache.Metrics
}

// Wait ensures all pending cache operations are complete.
func (pc *ProcessCache) Wait() {
	pc.cache.Wait()
}
