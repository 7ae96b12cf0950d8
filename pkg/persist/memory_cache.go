package persist

import (
	"context"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// MemoryCache keeps entries for the lifetime of the process only.
type MemoryCache struct {
	computeGroup
	entries cmap.ConcurrentMap[string, []byte]
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: cmap.New[[]byte]()}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	c.entries.Set(key, append([]byte(nil), value...))
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

func (c *MemoryCache) ComputeIfAbsentForever(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	return c.computeIfAbsent(ctx, c, key, compute)
}

// Len returns the number of entries.
func (c *MemoryCache) Len() int {
	return c.entries.Count()
}
