package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the L1 capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheMiss is returned when an item is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when cache data is corrupted
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrInvalidCacheName is returned for empty or unusable cache names
	ErrInvalidCacheName = errors.New("invalid cache name")

	// ErrUnknownBackend is returned when the configured backend does not exist
	ErrUnknownBackend = errors.New("unknown cache backend")

	// ErrClosed is returned when the storage has been closed
	ErrClosed = errors.New("cache storage closed")
)

// CacheLevel represents the cache tier
type CacheLevel int

const (
	// CacheLevelL1 represents the memory accelerator in front of a named cache
	CacheLevelL1 CacheLevel = iota

	// CacheLevelL2 represents the backend that owns the entries
	CacheLevelL2
)

// String returns the string representation of the cache level
func (l CacheLevel) String() string {
	switch l {
	case CacheLevelL1:
		return "L1-Memory"
	case CacheLevelL2:
		return "L2-Store"
	default:
		return "Unknown"
	}
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	// Configuration
	Capacity int64 // Maximum capacity in bytes, 0 for unbounded

	// Current state
	Size      int64 // Current size in bytes
	ItemCount int64 // Number of items in cache

	// Performance metrics
	Hits      int64   // Number of cache hits
	Misses    int64   // Number of cache misses
	Evictions int64   // Number of evictions
	HitRate   float64 // Calculated hit rate (hits / (hits + misses))

	// Timing
	LastAccess time.Time // Last access time
	LastEvict  time.Time // Last eviction time
}

// CacheConfig holds configuration for a Storage.
type CacheConfig struct {
	// Backend selects the L2 implementation: "disk", "sqlite" or "memory".
	Backend string

	// Dir holds the disk cache directories or the sqlite database.
	Dir string

	// Origin resolves relative keys such as "/index.html".
	Origin string

	// L1 accelerator per named cache, in bytes. Zero disables L1.
	MemoryCapacity int64

	// Zstd compression level for the disk backend (0 disables compression)
	CompressionLevel int

	// How often persistent indexes are flushed (0 disables the routine)
	FlushInterval time.Duration
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Backend:          BackendDisk,
		Origin:           DefaultOrigin,
		MemoryCapacity:   64 * 1024 * 1024, // 64MB
		CompressionLevel: 3,                // Balanced compression
		FlushInterval:    time.Minute,
	}
}

// Store persists the raw entries of one named cache.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) (bool, error)
	Keys() ([]string, error)
	Clear() error

	Size() int64
	Stats() CacheStats

	// Flush persists any buffered index state.
	Flush() error
	Close() error
}

// Backend owns the set of named caches and their creation order.
type Backend interface {
	// Names lists caches in creation order.
	Names() ([]string, error)
	// Open returns the store for name, creating it when missing.
	Open(name string) (Store, error)
	// Get returns the store for name only when it exists.
	Get(name string) (Store, bool, error)
	// Remove deletes the named cache and all of its entries.
	Remove(name string) (bool, error)
	Close() error
}
