package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryCache_BasicOperations(t *testing.T) {
	cache := NewMemoryCache(1024) // 1KB capacity

	key := "test-key"
	value := []byte("test-value")

	if err := cache.Put(key, value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	retrieved, err := cache.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(retrieved) != string(value) {
		t.Errorf("Retrieved value mismatch: got %s, want %s", retrieved, value)
	}

	if !cache.Contains(key) {
		t.Error("Contains returned false for existing key")
	}

	if got, want := cache.Size(), int64(len(value)); got != want {
		t.Errorf("Size mismatch: got %d, want %d", got, want)
	}

	deleted, err := cache.Delete(key)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !deleted {
		t.Error("Delete reported no entry for an existing key")
	}
	if cache.Contains(key) {
		t.Error("Key still exists after delete")
	}
	if cache.Size() != 0 {
		t.Errorf("Size not zero after delete: %d", cache.Size())
	}

	if _, err := cache.Get(key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get after delete: got %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	cache := NewMemoryCache(100)

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := cache.Put(key, make([]byte, 20)); err != nil {
			t.Fatalf("Put failed for key %s: %v", key, err)
		}
	}

	// Access key-0 and key-1 to make them recently used
	_, _ = cache.Get("key-0")
	_, _ = cache.Get("key-1")

	if err := cache.Put("key-new", make([]byte, 30)); err != nil {
		t.Fatalf("Put failed for new key: %v", err)
	}

	if cache.Contains("key-2") {
		t.Error("key-2 should have been evicted")
	}
	if !cache.Contains("key-0") || !cache.Contains("key-1") {
		t.Error("recently used keys should not have been evicted")
	}
	if got := cache.Stats().Evictions; got == 0 {
		t.Error("expected evictions to be counted")
	}
}

func TestMemoryCache_UnboundedNeverEvicts(t *testing.T) {
	cache := NewMemoryCache(0)

	for i := 0; i < 100; i++ {
		if err := cache.Put(fmt.Sprintf("key-%d", i), make([]byte, 1024)); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}

	stats := cache.Stats()
	if stats.ItemCount != 100 {
		t.Errorf("ItemCount = %d, want 100", stats.ItemCount)
	}
	if stats.Evictions != 0 {
		t.Errorf("Evictions = %d, want 0", stats.Evictions)
	}
	if stats.Capacity != 0 {
		t.Errorf("Capacity = %d, want 0 for unbounded", stats.Capacity)
	}
}

func TestMemoryCache_ItemTooLarge(t *testing.T) {
	cache := NewMemoryCache(100)

	err := cache.Put("large-key", make([]byte, 200))
	if !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Expected ErrItemTooLarge, got %v", err)
	}
}

func TestMemoryCache_UpdateExisting(t *testing.T) {
	cache := NewMemoryCache(1024)

	key := "update-key"
	if err := cache.Put(key, []byte("original")); err != nil {
		t.Fatalf("First Put failed: %v", err)
	}
	if err := cache.Put(key, []byte("updated-value")); err != nil {
		t.Fatalf("Update Put failed: %v", err)
	}

	retrieved, err := cache.Get(key)
	if err != nil {
		t.Fatalf("Key not found after update: %v", err)
	}
	if string(retrieved) != "updated-value" {
		t.Errorf("Value not updated: got %s", retrieved)
	}
	if cache.Size() != int64(len("updated-value")) {
		t.Errorf("Size not adjusted on update: %d", cache.Size())
	}
}

func TestMemoryCache_Keys(t *testing.T) {
	cache := NewMemoryCache(0)

	for _, k := range []string{"a", "b", "c"} {
		_ = cache.Put(k, []byte(k))
	}

	keys, err := cache.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	want := []string{"a", "b", "c"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("Keys = %v, want %v", keys, want)
	}
}

func TestMemoryCache_Clear(t *testing.T) {
	cache := NewMemoryCache(1024)

	for i := 0; i < 5; i++ {
		_ = cache.Put(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)))
	}

	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if cache.Size() != 0 {
		t.Errorf("Size not zero after clear: %d", cache.Size())
	}
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key-%d", i)
		if cache.Contains(key) {
			t.Errorf("Key %s still exists after clear", key)
		}
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := NewMemoryCache(1024)

	stats := cache.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Error("Initial stats should be zero")
	}

	_ = cache.Put("key1", []byte("value1"))
	_, _ = cache.Get("key1") // Hit
	_, _ = cache.Get("key2") // Miss

	stats = cache.Stats()
	if stats.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %f", stats.HitRate)
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := NewMemoryCache(10240)

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				key := fmt.Sprintf("writer-%d-key-%d", id, j)
				if err := cache.Put(key, []byte(key)); err != nil {
					errs <- fmt.Errorf("writer %d: %v", id, err)
				}
			}
		}(i)
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				// Some reads miss if the write hasn't happened yet
				_, _ = cache.Get(fmt.Sprintf("writer-%d-key-%d", id, j))
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case err := <-errs:
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out")
	}
}

func TestMemoryCache_Resize(t *testing.T) {
	cache := NewMemoryCache(100)

	for i := 0; i < 5; i++ {
		_ = cache.Put(fmt.Sprintf("key-%d", i), make([]byte, 20))
	}

	cache.Resize(50)
	if cache.Size() > 50 {
		t.Errorf("Size exceeds new capacity: %d > 50", cache.Size())
	}

	cache.Resize(200)
	if err := cache.Put("new-key", make([]byte, 100)); err != nil {
		t.Errorf("Failed to add item after resize: %v", err)
	}
}

func TestMemoryBackend_CreationOrder(t *testing.T) {
	b := NewMemoryBackend()

	for _, name := range []string{"static-v23", "dynamic-v3", "static-v22"} {
		if _, err := b.Open(name); err != nil {
			t.Fatalf("Open(%s): %v", name, err)
		}
	}
	// Reopening must not move a cache in the order
	if _, err := b.Open("static-v23"); err != nil {
		t.Fatal(err)
	}

	names, _ := b.Names()
	if fmt.Sprint(names) != "[static-v23 dynamic-v3 static-v22]" {
		t.Errorf("Names = %v", names)
	}

	removed, err := b.Remove("dynamic-v3")
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	names, _ = b.Names()
	if fmt.Sprint(names) != "[static-v23 static-v22]" {
		t.Errorf("Names after remove = %v", names)
	}

	removed, _ = b.Remove("missing")
	if removed {
		t.Error("Remove of a missing cache reported true")
	}
}

func BenchmarkMemoryCache_Put(b *testing.B) {
	cache := NewMemoryCache(1024 * 1024)
	value := make([]byte, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cache.Put(fmt.Sprintf("key-%d", i), value)
	}
}

func BenchmarkMemoryCache_Get(b *testing.B) {
	cache := NewMemoryCache(1024 * 1024)

	for i := 0; i < 1000; i++ {
		_ = cache.Put(fmt.Sprintf("key-%d", i), make([]byte, 100))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = cache.Get(fmt.Sprintf("key-%d", i%1000))
	}
}
