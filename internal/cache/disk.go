package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"
)

const (
	indexFileName    = "cache.index"
	registryFileName = "caches.index"

	// Bodies smaller than this are stored uncompressed.
	compressThreshold = 1024
)

// DiskCache stores the entries of one named cache as files in a directory,
// with optional zstd compression and a gob-encoded index.
// It never evicts: growth is bounded only by what callers delete.
type DiskCache struct {
	basePath string
	size     int64 // Current size on disk in bytes

	// Compression
	compressionLevel int
	encoder          *zstd.Encoder
	decoder          *zstd.Decoder

	// Index for fast lookups
	index   map[string]*diskCacheEntry
	dirty   bool
	removed bool

	mu sync.RWMutex

	stats CacheStats
}

// diskCacheEntry represents an entry in the disk cache index
type diskCacheEntry struct {
	Key          string
	FileName     string
	Size         int64 // Size on disk (compressed)
	OriginalSize int64 // Original size (uncompressed)
	Timestamp    time.Time
	LastAccess   time.Time
	Hits         int64
	Compressed   bool
}

// NewDiskCache opens (or creates) a disk cache rooted at basePath.
func NewDiskCache(basePath string, compressionLevel int) (*DiskCache, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dc := &DiskCache{
		basePath:         basePath,
		compressionLevel: compressionLevel,
		index:            make(map[string]*diskCacheEntry),
	}

	if compressionLevel > 0 {
		var err error
		dc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	// The decoder is always available so entries written with compression
	// stay readable after compression is turned off.
	var err error
	dc.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := dc.loadIndex(); err != nil {
		// Non-fatal: start with an empty index, stale files are overwritten
		dc.index = make(map[string]*diskCacheEntry)
	}

	dc.calculateSize()

	return dc, nil
}

// Get retrieves a value from the disk cache.
func (dc *DiskCache) Get(key string) ([]byte, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.removed {
		return nil, ErrClosed
	}

	entry, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, ErrCacheMiss
	}

	data, err := os.ReadFile(dc.entryPath(entry))
	if err != nil {
		// File removed behind our back, forget it
		dc.forget(key, entry)
		dc.stats.Misses++
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	if entry.Compressed {
		decompressed, err := dc.decoder.DecodeAll(data, nil)
		if err != nil {
			dc.forget(key, entry)
			_ = os.Remove(dc.entryPath(entry))
			dc.stats.Misses++
			return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
		}
		data = decompressed
	}

	entry.LastAccess = time.Now()
	entry.Hits++

	dc.stats.Hits++
	dc.stats.LastAccess = entry.LastAccess

	return data, nil
}

// Put stores a value in the disk cache.
func (dc *DiskCache) Put(key string, value []byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.removed {
		return ErrClosed
	}

	originalSize := int64(len(value))

	dataToWrite := value
	var compressed bool
	if dc.encoder != nil && originalSize > compressThreshold {
		compressedData := dc.encoder.EncodeAll(value, nil)
		// Only use compression if it actually reduces size
		if len(compressedData) < len(value) {
			dataToWrite = compressedData
			compressed = true
		}
	}

	diskSize := int64(len(dataToWrite))
	fileName := dc.fileName(key)

	if err := atomic.WriteFile(filepath.Join(dc.basePath, fileName), bytes.NewReader(dataToWrite)); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if existing, ok := dc.index[key]; ok {
		dc.size -= existing.Size
	}

	now := time.Now()
	dc.index[key] = &diskCacheEntry{
		Key:          key,
		FileName:     fileName,
		Size:         diskSize,
		OriginalSize: originalSize,
		Timestamp:    now,
		LastAccess:   now,
		Compressed:   compressed,
	}
	dc.size += diskSize
	dc.dirty = true

	dc.stats.Size = dc.size
	dc.stats.ItemCount = int64(len(dc.index))

	return nil
}

// Delete removes an entry from the disk cache.
func (dc *DiskCache) Delete(key string) (bool, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	if !ok {
		return false, nil
	}

	if err := os.Remove(dc.entryPath(entry)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("remove cache file: %w", err)
	}
	dc.forget(key, entry)

	return true, nil
}

// Clear removes all entries from the disk cache.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for _, entry := range dc.index {
		_ = os.Remove(dc.entryPath(entry))
	}

	dc.index = make(map[string]*diskCacheEntry)
	dc.size = 0

	dc.stats.Size = 0
	dc.stats.ItemCount = 0

	return dc.saveIndex()
}

// Keys returns all keys ordered by the time they were stored.
func (dc *DiskCache) Keys() ([]string, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	entries := make([]*diskCacheEntry, 0, len(dc.index))
	for _, entry := range dc.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key
	}
	return keys, nil
}

// Size returns the current cache size in bytes.
func (dc *DiskCache) Size() int64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	return dc.size
}

// Stats returns cache statistics.
func (dc *DiskCache) Stats() CacheStats {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	stats := dc.stats
	stats.Size = dc.size
	stats.ItemCount = int64(len(dc.index))

	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}

	return stats
}

// Flush writes the index if it changed since the last flush.
func (dc *DiskCache) Flush() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if !dc.dirty || dc.removed {
		return nil
	}
	return dc.saveIndex()
}

// Close saves the index and releases the codecs.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.removed {
		return nil
	}
	dc.removed = true

	err := dc.saveIndex()
	if dc.encoder != nil {
		_ = dc.encoder.Close()
	}
	dc.decoder.Close()
	return err
}

// Private helper methods

func (dc *DiskCache) fileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + ".cache"
}

func (dc *DiskCache) entryPath(entry *diskCacheEntry) string {
	return filepath.Join(dc.basePath, entry.FileName)
}

// forget drops an entry from the index (must be called with lock held).
func (dc *DiskCache) forget(key string, entry *diskCacheEntry) {
	delete(dc.index, key)
	dc.size -= entry.Size
	dc.dirty = true

	dc.stats.Size = dc.size
	dc.stats.ItemCount = int64(len(dc.index))
}

func (dc *DiskCache) loadIndex() error {
	file, err := os.Open(filepath.Join(dc.basePath, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&dc.index)
}

// saveIndex must be called with lock held.
func (dc *DiskCache) saveIndex() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(dc.index); err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(dc.basePath, indexFileName), &buf); err != nil {
		return fmt.Errorf("write cache index: %w", err)
	}
	dc.dirty = false
	return nil
}

func (dc *DiskCache) calculateSize() {
	dc.size = 0
	for _, entry := range dc.index {
		dc.size += entry.Size
	}
	dc.stats.Size = dc.size
	dc.stats.ItemCount = int64(len(dc.index))
}

// diskBackend lays out one DiskCache directory per named cache under root
// and records creation order in a registry file.
type diskBackend struct {
	root             string
	compressionLevel int

	mu       sync.Mutex
	registry []registryEntry
	open     map[string]*DiskCache
}

type registryEntry struct {
	Name    string
	Dir     string
	Created time.Time
}

// NewDiskBackend opens the disk backend rooted at root.
func NewDiskBackend(root string, compressionLevel int) (Backend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	b := &diskBackend{
		root:             root,
		compressionLevel: compressionLevel,
		open:             make(map[string]*DiskCache),
	}
	if err := b.loadRegistry(); err != nil {
		return nil, fmt.Errorf("%w: registry: %v", ErrCacheCorrupted, err)
	}
	return b, nil
}

func (b *diskBackend) Names() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, len(b.registry))
	for i, e := range b.registry {
		names[i] = e.Name
	}
	return names, nil
}

func (b *diskBackend) Open(name string) (Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dc, ok := b.open[name]; ok {
		return dc, nil
	}

	entry, found := b.lookup(name)
	if !found {
		entry = registryEntry{Name: name, Dir: dirName(name), Created: time.Now()}
	}

	dc, err := NewDiskCache(filepath.Join(b.root, entry.Dir), b.compressionLevel)
	if err != nil {
		return nil, err
	}

	if !found {
		b.registry = append(b.registry, entry)
		if err := b.saveRegistry(); err != nil {
			b.registry = b.registry[:len(b.registry)-1]
			_ = dc.Close()
			return nil, err
		}
	}

	b.open[name] = dc
	return dc, nil
}

func (b *diskBackend) Get(name string) (Store, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dc, ok := b.open[name]; ok {
		return dc, true, nil
	}
	entry, found := b.lookup(name)
	if !found {
		return nil, false, nil
	}

	dc, err := NewDiskCache(filepath.Join(b.root, entry.Dir), b.compressionLevel)
	if err != nil {
		return nil, false, err
	}
	b.open[name] = dc
	return dc, true, nil
}

func (b *diskBackend) Remove(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, found := b.lookup(name)
	if !found {
		return false, nil
	}

	if dc, ok := b.open[name]; ok {
		dc.discard()
		delete(b.open, name)
	}

	if err := os.RemoveAll(filepath.Join(b.root, entry.Dir)); err != nil {
		return false, fmt.Errorf("remove cache %q: %w", name, err)
	}

	for i, e := range b.registry {
		if e.Name == name {
			b.registry = append(b.registry[:i], b.registry[i+1:]...)
			break
		}
	}
	if err := b.saveRegistry(); err != nil {
		return true, err
	}
	return true, nil
}

func (b *diskBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, dc := range b.open {
		if err := dc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	b.open = make(map[string]*DiskCache)
	return errors.Join(errs...)
}

// lookup must be called with lock held.
func (b *diskBackend) lookup(name string) (registryEntry, bool) {
	for _, e := range b.registry {
		if e.Name == name {
			return e, true
		}
	}
	return registryEntry{}, false
}

func (b *diskBackend) loadRegistry() error {
	file, err := os.Open(filepath.Join(b.root, registryFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&b.registry)
}

// saveRegistry must be called with lock held.
func (b *diskBackend) saveRegistry() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b.registry); err != nil {
		return fmt.Errorf("encode cache registry: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(b.root, registryFileName), &buf); err != nil {
		return fmt.Errorf("write cache registry: %w", err)
	}
	return nil
}

// discard releases a cache whose directory is about to be removed; its index
// is not saved and later reads or writes fail with ErrClosed.
func (dc *DiskCache) discard() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.removed = true
	if dc.encoder != nil {
		_ = dc.encoder.Close()
	}
	dc.decoder.Close()
	dc.index = make(map[string]*diskCacheEntry)
	dc.size = 0
}

// dirName maps a cache name to a filesystem-safe directory name.
func dirName(name string) string {
	hash := sha256.Sum256([]byte(name))
	return hex.EncodeToString(hash[:8])
}
