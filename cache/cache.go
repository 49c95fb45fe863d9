/*
Package cache provides caching for decoded aggregator URLs.

A resolution is expensive (it may need a remote batchexecute round trip) and
the mapping from opaque identifier to publisher URL never changes, so every
successful decode is cached process-wide. The datastore holds the durable
copy; this layer keeps hot entries in memory.
*/
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wartamigas/news-monitor-backend/utils"
)

// CacheItem represents a cached value with expiration
type CacheItem struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired checks if the cache item has expired
func (c *CacheItem) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// Cache interface defines caching operations
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// InMemoryCache implements an in-memory cache with TTL support
type InMemoryCache struct {
	items map[string]*CacheItem
	mutex sync.RWMutex
	ttl   time.Duration
}

// NewInMemoryCache creates a new in-memory cache
func NewInMemoryCache(defaultTTL time.Duration) *InMemoryCache {
	cache := &InMemoryCache{
		items: make(map[string]*CacheItem),
		ttl:   defaultTTL,
	}

	// Start cleanup goroutine
	go cache.startCleanup()

	return cache
}

// Get retrieves a value from cache
func (c *InMemoryCache) Get(key string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.items[key]
	if !exists || item.IsExpired() {
		return "", false
	}

	return item.Value, true
}

// Set stores a value in cache
func (c *InMemoryCache) Set(key, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &CacheItem{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}

	return nil
}

// Delete removes an item from cache
func (c *InMemoryCache) Delete(key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
	return nil
}

// Clear removes all items from cache
func (c *InMemoryCache) Clear() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]*CacheItem)
	return nil
}

// startCleanup periodically removes expired items
func (c *InMemoryCache) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

// cleanup removes expired items
func (c *InMemoryCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, item := range c.items {
		if item.IsExpired() {
			delete(c.items, key)
		}
	}
}

// DecodedURLCache manages the in-memory layer of the decoded URL table
type DecodedURLCache struct {
	cache  Cache
	logger *logrus.Logger
	ttl    time.Duration
}

// NewDecodedURLCache creates a new decoded URL cache
func NewDecodedURLCache(cache Cache, logger *logrus.Logger, ttl time.Duration) *DecodedURLCache {
	return &DecodedURLCache{
		cache:  cache,
		logger: logger,
		ttl:    ttl,
	}
}

// Get retrieves a decoded URL by its opaque identifier
func (dc *DecodedURLCache) Get(id string) (string, bool) {
	decodedURL, found := dc.cache.Get(dc.key(id))

	if found {
		dc.logger.WithField("id", utils.Truncate(id, 32)).Debug("Cache hit for decoded URL")
	} else {
		dc.logger.WithField("id", utils.Truncate(id, 32)).Debug("Cache miss for decoded URL")
	}

	return decodedURL, found
}

// Set caches a resolved URL under its opaque identifier
func (dc *DecodedURLCache) Set(id, decodedURL string) error {
	err := dc.cache.Set(dc.key(id), decodedURL, dc.ttl)

	if err != nil {
		dc.logger.WithFields(logrus.Fields{
			"id":    utils.Truncate(id, 32),
			"error": err.Error(),
		}).Error("Failed to cache decoded URL")
		return err
	}

	return nil
}

// SetMany bulk-loads resolutions, used to warm the cache from the datastore
func (dc *DecodedURLCache) SetMany(resolutions map[string]string) {
	for id, decodedURL := range resolutions {
		if err := dc.cache.Set(dc.key(id), decodedURL, dc.ttl); err != nil {
			dc.logger.WithFields(logrus.Fields{
				"id":    utils.Truncate(id, 32),
				"error": err.Error(),
			}).Error("Failed to warm decoded URL cache")
		}
	}

	dc.logger.WithField("count", len(resolutions)).Debug("Warmed decoded URL cache")
}

// Invalidate removes a cached resolution
func (dc *DecodedURLCache) Invalidate(id string) error {
	return dc.cache.Delete(dc.key(id))
}

// ClearAll clears all cached data
func (dc *DecodedURLCache) ClearAll() error {
	err := dc.cache.Clear()

	if err != nil {
		dc.logger.WithError(err).Error("Failed to clear cache")
		return err
	}

	dc.logger.Info("Cache cleared successfully")
	return nil
}

func (dc *DecodedURLCache) key(id string) string {
	return fmt.Sprintf("decoded:%s", id)
}
