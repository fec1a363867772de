package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dgnsrekt/swcache/internal/cache"
)

func TestInstall_PrecachesManifest(t *testing.T) {
	storage := newTestStorage(t)
	origin := newFakeOrigin()

	w, err := New(DefaultConfig(), storage, origin)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := w.Install(context.Background())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("Install failures: %+v", report.Failed)
	}
	if diff := cmp.Diff([]string(DefaultManifest()), report.Cached); diff != "" {
		t.Errorf("Cached mismatch (-want +got):\n%s", diff)
	}
	if w.State() != StateInstalled {
		t.Errorf("State = %s, want installed", w.State())
	}

	static, err := storage.Lookup(DefaultStaticCache)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	for _, p := range DefaultManifest() {
		resp, err := static.Match(p)
		if err != nil {
			t.Errorf("Match(%s): %v", p, err)
			continue
		}
		if string(resp.Body) != "content of "+p {
			t.Errorf("Match(%s) body = %q", p, resp.Body)
		}
		if n := origin.hitCount(testOrigin + p); n != 1 {
			t.Errorf("%s fetched %d times, want 1", p, n)
		}
	}
}

func TestInstall_BestEffort(t *testing.T) {
	storage := newTestStorage(t)
	origin := newFakeOrigin()
	origin.setDown(testOrigin+"/src/js/app.js", true)

	config := DefaultConfig()
	config.Manifest = append(config.Manifest, "/missing.css")

	w, _ := New(config, storage, origin)
	report, err := w.Install(context.Background())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	var failed []string
	for _, f := range report.Failed {
		failed = append(failed, f.Path)
		if !IsCode(f.Err, ErrorCodeInstallFetch) {
			t.Errorf("%s failed with %v, want INSTALL_FETCH", f.Path, f.Err)
		}
	}
	if diff := cmp.Diff([]string{"/src/js/app.js", "/missing.css"}, failed); diff != "" {
		t.Errorf("Failed mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(report.Failed[1].Err, ErrBadStatus) {
		t.Errorf("404 failure = %v, want ErrBadStatus", report.Failed[1].Err)
	}
	if len(report.Cached) != 4 {
		t.Errorf("Cached = %v, want the four reachable entries", report.Cached)
	}
	if w.State() != StateInstalled {
		t.Errorf("State = %s, install must still complete", w.State())
	}

	static, _ := storage.Lookup(DefaultStaticCache)
	keys, _ := static.Keys()
	if len(keys) != 4 {
		t.Errorf("static cache holds %d entries, want 4", len(keys))
	}
}

func TestInstall_OutOfOrder(t *testing.T) {
	storage := newTestStorage(t)
	w, _ := New(DefaultConfig(), storage, newFakeOrigin())

	if _, err := w.Activate(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Activate before Install = %v, want ErrInvalidState", err)
	}
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := w.Install(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Install = %v, want ErrInvalidState", err)
	}
}

func TestNew_Validation(t *testing.T) {
	storage := newTestStorage(t)

	same := DefaultConfig()
	same.DynamicCache = same.StaticCache
	if _, err := New(same, storage, newFakeOrigin()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("shared cache name = %v, want ErrInvalidConfig", err)
	}

	blank := DefaultConfig()
	blank.StaticCache = ""
	if _, err := New(blank, storage, newFakeOrigin()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("blank cache name = %v, want ErrInvalidConfig", err)
	}

	if _, err := New(DefaultConfig(), storage, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil fetcher = %v, want ErrInvalidConfig", err)
	}
}

func TestInstall_PersistsDiskIndex(t *testing.T) {
	config := &cache.CacheConfig{
		Backend:          cache.BackendDisk,
		Dir:              t.TempDir(),
		Origin:           testOrigin,
		CompressionLevel: 3,
	}
	storage, err := cache.NewStorage(config)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	w, err := New(DefaultConfig(), storage, newFakeOrigin())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	// A second process opening the same directory without the first
	// closing, as after a crash.
	reopened, err := cache.NewStorage(config)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	static, err := reopened.Lookup(DefaultStaticCache)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	for _, p := range DefaultManifest() {
		if _, err := static.Match(p); err != nil {
			t.Errorf("%s missing after reopen: %v", p, err)
		}
	}
}
