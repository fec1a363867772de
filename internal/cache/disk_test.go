package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDiskCache_PutGetDelete(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer dc.Close()

	if err := dc.Put("http://localhost/a", []byte("alpha")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := dc.Get("http://localhost/a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "alpha" {
		t.Errorf("Get = %q, want alpha", got)
	}

	deleted, err := dc.Delete("http://localhost/a")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	if _, err := dc.Get("http://localhost/a"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get after delete: got %v, want ErrCacheMiss", err)
	}
	if dc.Size() != 0 {
		t.Errorf("Size after delete = %d", dc.Size())
	}
}

func TestDiskCache_CompressesLargeBodies(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer dc.Close()

	value := bytes.Repeat([]byte("compressible "), 1000)
	if err := dc.Put("big", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if dc.Size() >= int64(len(value)) {
		t.Errorf("expected compressed size below %d, got %d", len(value), dc.Size())
	}

	got, err := dc.Get("big")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Error("decompressed value does not round-trip")
	}
}

func TestDiskCache_IndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	dc, err := NewDiskCache(dir, 3)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	_ = dc.Put("first", []byte("1"))
	_ = dc.Put("second", []byte("2"))
	if err := dc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewDiskCache(dir, 3)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	keys, _ := reopened.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys after reopen = %v", keys)
	}
	got, err := reopened.Get("second")
	if err != nil || string(got) != "2" {
		t.Errorf("Get(second) = %q, %v", got, err)
	}
}

func TestDiskCache_MissingFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	dc, err := NewDiskCache(dir, 0)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer dc.Close()

	_ = dc.Put("gone", []byte("x"))
	if err := os.Remove(filepath.Join(dir, dc.fileName("gone"))); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := dc.Get("gone"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get = %v, want ErrCacheMiss", err)
	}
	if keys, _ := dc.Keys(); len(keys) != 0 {
		t.Errorf("stale key kept in index: %v", keys)
	}
}

func TestDiskCache_CorruptEntry(t *testing.T) {
	dir := t.TempDir()
	dc, err := NewDiskCache(dir, 3)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer dc.Close()

	_ = dc.Put("bad", bytes.Repeat([]byte("z"), 4096))
	if err := os.WriteFile(filepath.Join(dir, dc.fileName("bad")), []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := dc.Get("bad"); !errors.Is(err, ErrCacheCorrupted) {
		t.Errorf("Get = %v, want ErrCacheCorrupted", err)
	}
}

func TestDiskBackend_RegistryOrderAndRemove(t *testing.T) {
	root := t.TempDir()

	b, err := NewDiskBackend(root, 3)
	if err != nil {
		t.Fatalf("NewDiskBackend: %v", err)
	}
	for _, name := range []string{"static-v22", "static-v23", "dynamic-v3"} {
		store, err := b.Open(name)
		if err != nil {
			t.Fatalf("Open(%s): %v", name, err)
		}
		_ = store.Put("k", []byte(name))
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err = NewDiskBackend(root, 3)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	names, _ := b.Names()
	want := []string{"static-v22", "static-v23", "dynamic-v3"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	existing, ok, err := b.Get("static-v23")
	if err != nil || !ok {
		t.Fatalf("Get(static-v23) = %v, %v", ok, err)
	}
	if v, err := existing.Get("k"); err != nil || string(v) != "static-v23" {
		t.Errorf("reopened entry = %q, %v", v, err)
	}
	if _, ok, _ := b.Get("dynamic-v9"); ok {
		t.Error("Get reported a cache that was never created")
	}

	store, _ := b.Open("static-v22")
	removed, err := b.Remove("static-v22")
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if _, err := os.Stat(filepath.Join(root, dirName("static-v22"))); !os.IsNotExist(err) {
		t.Errorf("cache directory not removed: %v", err)
	}
	if err := store.Put("k", []byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Put on removed cache = %v, want ErrClosed", err)
	}

	names, _ = b.Names()
	if len(names) != 2 {
		t.Errorf("Names after remove = %v", names)
	}
}
