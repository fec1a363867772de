package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/swcache/internal/cache"
)

const testOrigin = "http://app.test"

var errOffline = errors.New("network unreachable")

// fakeOrigin is an in-memory network that counts requests per URL.
type fakeOrigin struct {
	mu    sync.Mutex
	files map[string]string
	down  map[string]bool
	hits  map[string]int
}

func newFakeOrigin() *fakeOrigin {
	o := &fakeOrigin{
		files: make(map[string]string),
		down:  make(map[string]bool),
		hits:  make(map[string]int),
	}
	for _, p := range DefaultManifest() {
		o.files[testOrigin+p] = "content of " + p
	}
	o.files[testOrigin+"/offline.html"] = "<h1>offline</h1>"
	o.files[testOrigin+"/api/data"] = `{"data":[1,2,3]}`
	return o
}

func (o *fakeOrigin) Fetch(_ context.Context, req *http.Request) (*http.Response, error) {
	key := req.URL.String()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.hits[key]++
	if o.down["*"] || o.down[key] {
		return nil, errOffline
	}

	body, ok := o.files[key]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
		body = "not found"
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func (o *fakeOrigin) set(url, body string) {
	o.mu.Lock()
	o.files[url] = body
	o.mu.Unlock()
}

func (o *fakeOrigin) setDown(url string, down bool) {
	o.mu.Lock()
	o.down[url] = down
	o.mu.Unlock()
}

func (o *fakeOrigin) hitCount(url string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[url]
}

func (o *fakeOrigin) resetHits() {
	o.mu.Lock()
	o.hits = make(map[string]int)
	o.mu.Unlock()
}

func newTestStorage(t *testing.T) *cache.Storage {
	t.Helper()
	s := cache.NewStorageWithBackend(cache.NewMemoryBackend(), &cache.CacheConfig{
		Backend:        cache.BackendMemory,
		Origin:         testOrigin,
		MemoryCapacity: 1 << 20,
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newActiveWorker installs and activates a worker with the default config.
func newActiveWorker(t *testing.T, storage *cache.Storage, origin *fakeOrigin, mutate func(*Config)) *Worker {
	t.Helper()

	config := DefaultConfig()
	if mutate != nil {
		mutate(&config)
	}
	w, err := New(config, storage, origin)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := w.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

// failingBackend wraps the memory backend with stores whose reads fail.
type failingBackend struct {
	cache.Backend
}

func (b failingBackend) Open(name string) (cache.Store, error) {
	store, err := b.Backend.Open(name)
	if err != nil {
		return nil, err
	}
	return failingStore{store}, nil
}

func (b failingBackend) Get(name string) (cache.Store, bool, error) {
	store, ok, err := b.Backend.Get(name)
	if err != nil || !ok {
		return nil, ok, err
	}
	return failingStore{store}, true, nil
}

type failingStore struct {
	cache.Store
}

var errDiskRead = errors.New("disk read error")

func (failingStore) Get(string) ([]byte, error) {
	return nil, errDiskRead
}
