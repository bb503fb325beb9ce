package main

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// coordinateKeyPrecision is the number of decimals kept in a cache key,
// roughly 100m of latitude
const coordinateKeyPrecision = 3

// LocationCache maps a coordinate key to a place name
type LocationCache interface {
	Get(key string) (string, bool)
	Set(key, name string) error
}

// CoordinateKey rounds a coordinate to the cache precision
func CoordinateKey(lat, lon float64) (string, bool) {
	if !(Position{Lat: lat, Lon: lon}).finite() {
		return "", false
	}
	return fmt.Sprintf("%.*f,%.*f", coordinateKeyPrecision, lat, coordinateKeyPrecision, lon), true
}

// memoryTier is implemented by caches that can answer from memory alone.
// Lookups made while rendering use it so they never wait on storage.
type memoryTier interface {
	Peek(key string) (string, bool)
}

// MemoryCache is a session-scoped LocationCache
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryCache creates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

// Get implements LocationCache
func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.entries[key]
	return name, ok
}

// Set implements LocationCache
func (c *MemoryCache) Set(key, name string) error {
	c.mu.Lock()
	c.entries[key] = name
	c.mu.Unlock()
	return nil
}

// Peek implements memoryTier
func (c *MemoryCache) Peek(key string) (string, bool) {
	return c.Get(key)
}

// Len returns the number of cached entries
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TieredCache keeps every entry in memory and copies it to a persistent
// store on a best-effort basis. Store failures never reach the caller.
type TieredCache struct {
	mem   *MemoryCache
	store LocationCache
}

// NewTieredCache puts a memory cache in front of store (which may be nil)
func NewTieredCache(store LocationCache) *TieredCache {
	return &TieredCache{mem: NewMemoryCache(), store: store}
}

// Get implements LocationCache
func (c *TieredCache) Get(key string) (string, bool) {
	if name, ok := c.mem.Get(key); ok {
		return name, true
	}
	if c.store == nil {
		return "", false
	}
	name, ok := c.store.Get(key)
	if ok {
		c.mem.Set(key, name)
	}
	return name, ok
}

// Peek implements memoryTier. It never reads the store.
func (c *TieredCache) Peek(key string) (string, bool) {
	return c.mem.Get(key)
}

// Set implements LocationCache
func (c *TieredCache) Set(key, name string) error {
	c.mem.Set(key, name)
	if c.store == nil {
		return nil
	}
	if err := c.store.Set(key, name); err != nil {
		klog.V(1).Infof("[placecache] write %s failed: %v", key, err)
	}
	return nil
}
