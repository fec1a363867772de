package cache

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	gap "github.com/muesli/go-app-paths"
)

// Backend names accepted by CacheConfig.Backend.
const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Rejections applied by Cacheable, mirroring what a browser cache refuses to store.
var (
	ErrMethodNotCacheable = errors.New("only GET requests can be cached")
	ErrPartialResponse    = errors.New("partial responses cannot be cached")
	ErrVaryWildcard       = errors.New("responses with Vary: * cannot be cached")
)

// Cacheable reports why a response to a request with the given method may
// not be stored, or nil when it may.
func Cacheable(method string, resp *Response) error {
	if method != http.MethodGet {
		return ErrMethodNotCacheable
	}
	if resp.Status == http.StatusPartialContent {
		return ErrPartialResponse
	}
	for _, v := range resp.Header.Values("Vary") {
		for _, field := range strings.Split(v, ",") {
			if strings.TrimSpace(field) == "*" {
				return ErrVaryWildcard
			}
		}
	}
	return nil
}

// DefaultDir is the per-user cache directory used when no dir is configured.
func DefaultDir() (string, error) {
	return gap.NewScope(gap.User, "swcache").CacheDir()
}

// OpenBackend builds the backend selected by config.
func OpenBackend(config *CacheConfig) (Backend, error) {
	switch config.Backend {
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendSQLite, BackendDisk, "":
		dir := config.Dir
		if dir == "" {
			var err error
			if dir, err = DefaultDir(); err != nil {
				return nil, fmt.Errorf("failed to get cache directory: %w", err)
			}
		}
		if config.Backend == BackendSQLite {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create cache root: %w", err)
			}
			return NewSQLiteBackend(dir)
		}
		return NewDiskBackend(dir, config.CompressionLevel)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, config.Backend)
	}
}

// Storage coordinates the named caches of one backend.
type Storage struct {
	backend Backend
	config  *CacheConfig

	mu     sync.Mutex
	caches map[string]*NamedCache
	closed bool

	// Flush goroutine control
	flushStop   chan struct{}
	flushTicker *time.Ticker
	flushWg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// Stats aggregates lookups across all named caches.
type Stats struct {
	Hits       int64
	Misses     int64
	L1Hits     int64
	L2Hits     int64
	Promotions int64
	FlushRuns  int64
	LastFlush  time.Time
}

// NewStorage opens the backend described by config.
func NewStorage(config *CacheConfig) (*Storage, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	backend, err := OpenBackend(config)
	if err != nil {
		return nil, err
	}
	return NewStorageWithBackend(backend, config), nil
}

// NewStorageWithBackend wraps an already opened backend.
func NewStorageWithBackend(backend Backend, config *CacheConfig) *Storage {
	if config == nil {
		config = DefaultCacheConfig()
	}

	s := &Storage{
		backend:   backend,
		config:    config,
		caches:    make(map[string]*NamedCache),
		flushStop: make(chan struct{}),
	}

	if config.FlushInterval > 0 {
		s.startFlushRoutine()
	}
	return s
}

// Resolve returns the cache key for raw.
func (s *Storage) Resolve(raw string) string {
	return ResolveKey(s.config.Origin, raw)
}

// Origin is the base URL relative keys resolve against.
func (s *Storage) Origin() string {
	if s.config.Origin == "" {
		return DefaultOrigin
	}
	return s.config.Origin
}

// Open returns the named cache, creating it when it does not exist.
func (s *Storage) Open(name string) (*NamedCache, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidCacheName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if c, ok := s.caches[name]; ok {
		return c, nil
	}

	store, err := s.backend.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return s.track(name, store), nil
}

// track must be called with s.mu held.
func (s *Storage) track(name string, store Store) *NamedCache {
	c := &NamedCache{name: name, storage: s, l2: store}
	if s.config.MemoryCapacity > 0 {
		c.l1 = NewMemoryCache(s.config.MemoryCapacity)
	}
	s.caches[name] = c
	return c
}

// Has reports whether a cache with this name exists.
func (s *Storage) Has(name string) (bool, error) {
	names, err := s.Keys()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Lookup returns the named cache only when it already exists, or
// ErrCacheMiss. It never creates a cache, so a cache deleted concurrently
// stays deleted.
func (s *Storage) Lookup(name string) (*NamedCache, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidCacheName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if c, ok := s.caches[name]; ok {
		return c, nil
	}

	store, ok, err := s.backend.Get(name)
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	return s.track(name, store), nil
}

// Keys lists cache names in creation order.
func (s *Storage) Keys() ([]string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	return s.backend.Names()
}

// Delete removes the named cache and all of its entries.
func (s *Storage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	deleted, err := s.backend.Remove(name)
	if err != nil {
		return deleted, fmt.Errorf("delete cache %q: %w", name, err)
	}
	if c, ok := s.caches[name]; ok {
		if c.l1 != nil {
			_ = c.l1.Clear()
		}
		delete(s.caches, name)
	}
	return deleted, nil
}

// Match looks key up in every cache in creation order and returns the
// first hit along with the name of the cache that held it.
func (s *Storage) Match(raw string) (*Response, string, error) {
	names, err := s.Keys()
	if err != nil {
		return nil, "", err
	}

	for _, name := range names {
		c, err := s.Lookup(name)
		if errors.Is(err, ErrCacheMiss) {
			// deleted since listing
			continue
		}
		if err != nil {
			return nil, "", err
		}
		resp, err := c.Match(raw)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, name, err
		}
		return resp, name, nil
	}
	return nil, "", ErrCacheMiss
}

// Stats returns aggregated lookup statistics.
func (s *Storage) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	return s.stats
}

// Flush persists the indexes of every open cache.
func (s *Storage) Flush() error {
	s.mu.Lock()
	caches := make([]*NamedCache, 0, len(s.caches))
	for _, c := range s.caches {
		caches = append(caches, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range caches {
		if err := c.l2.Flush(); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, fmt.Errorf("flush %s: %w", c.name, err))
		}
	}

	s.statsMu.Lock()
	s.stats.FlushRuns++
	s.stats.LastFlush = time.Now()
	s.statsMu.Unlock()

	return errors.Join(errs...)
}

// Close stops the flush routine and closes the backend.
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.flushTicker != nil {
		close(s.flushStop)
		s.flushWg.Wait()
		s.flushTicker.Stop()
	}

	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("failed to close cache backend: %w", err)
	}
	return nil
}

func (s *Storage) startFlushRoutine() {
	s.flushTicker = time.NewTicker(s.config.FlushInterval)
	s.flushWg.Add(1)

	go func() {
		defer s.flushWg.Done()

		for {
			select {
			case <-s.flushTicker.C:
				_ = s.Flush()
			case <-s.flushStop:
				return
			}
		}
	}()
}

func (s *Storage) record(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

// NamedCache is one request→response cache inside a Storage.
type NamedCache struct {
	name    string
	storage *Storage
	l1      *MemoryCache
	l2      Store
}

// Name returns the cache name.
func (c *NamedCache) Name() string { return c.name }

// Put stores resp under the key raw resolves to.
func (c *NamedCache) Put(raw string, resp *Response) error {
	key := c.storage.Resolve(raw)

	snapshot := *resp
	snapshot.URL = key
	if snapshot.StoredAt.IsZero() {
		snapshot.StoredAt = time.Now()
	}

	data, err := encodeResponse(&snapshot)
	if err != nil {
		return err
	}
	if err := c.l2.Put(key, data); err != nil {
		return fmt.Errorf("put %s in %s: %w", key, c.name, err)
	}
	if c.l1 != nil {
		// Best effort: too-large items simply skip L1
		_ = c.l1.Put(key, data)
	}
	return nil
}

// Match returns the response stored under raw, or ErrCacheMiss.
func (c *NamedCache) Match(raw string) (*Response, error) {
	key := c.storage.Resolve(raw)

	if c.l1 != nil {
		if data, err := c.l1.Get(key); err == nil {
			c.storage.record(func(s *Stats) { s.Hits++; s.L1Hits++ })
			return decodeResponse(data)
		}
	}

	data, err := c.l2.Get(key)
	if errors.Is(err, ErrCacheMiss) {
		c.storage.record(func(s *Stats) { s.Misses++ })
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("match %s in %s: %w", key, c.name, err)
	}

	resp, err := decodeResponse(data)
	if err != nil {
		return nil, err
	}

	c.storage.record(func(s *Stats) { s.Hits++; s.L2Hits++ })
	c.promoteToL1(key, data)
	return resp, nil
}

// Delete removes the entry stored under raw.
func (c *NamedCache) Delete(raw string) (bool, error) {
	key := c.storage.Resolve(raw)
	if c.l1 != nil {
		_, _ = c.l1.Delete(key)
	}
	return c.l2.Delete(key)
}

// Keys lists the stored keys, oldest first.
func (c *NamedCache) Keys() ([]string, error) {
	return c.l2.Keys()
}

// Size is the stored size in bytes as reported by the backend.
func (c *NamedCache) Size() int64 {
	return c.l2.Size()
}

// Flush persists the index of this cache.
func (c *NamedCache) Flush() error {
	return c.l2.Flush()
}

// Stats returns the backend statistics of this cache.
func (c *NamedCache) Stats() CacheStats {
	return c.l2.Stats()
}

// promoteToL1 promotes an item to L1 cache for faster access.
func (c *NamedCache) promoteToL1(key string, data []byte) {
	if c.l1 == nil {
		return
	}
	if c.l1.Put(key, data) == nil {
		c.storage.record(func(s *Stats) { s.Promotions++ })
	}
}
