package worker

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/swcache/internal/cache"
	"github.com/dgnsrekt/swcache/internal/network"
)

// Registration keeps at most one active worker and swaps versions on update.
type Registration struct {
	storage *cache.Storage
	network network.Fetcher
	log     *log.Logger

	updateMu sync.Mutex
	active   atomic.Pointer[Worker]
}

// NewRegistration creates an empty registration.
func NewRegistration(storage *cache.Storage, fetcher network.Fetcher) *Registration {
	return &Registration{
		storage: storage,
		network: fetcher,
		log:     log.WithPrefix("registration"),
	}
}

// Active returns the active worker, or nil.
func (r *Registration) Active() *Worker {
	return r.active.Load()
}

// Register installs and activates a worker for config. When a worker is
// already active it is retired before the new one activates, and restored
// if activation fails. A failed install leaves the active worker in place.
func (r *Registration) Register(ctx context.Context, config Config) (*Worker, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	w, err := New(config, r.storage, r.network)
	if err != nil {
		return nil, err
	}

	report, err := w.Install(ctx)
	if err != nil {
		return nil, err
	}
	if !report.Complete() {
		r.log.Warn("Installed with missing assets", "failed", len(report.Failed))
	}

	old := r.active.Load()
	var prev State
	if old != nil {
		prev = old.retire()
		if err := old.Close(ctx); err != nil {
			r.log.Warn("Previous worker still writing", "err", err)
		}
	}

	if _, err := w.Activate(ctx); err != nil {
		if old != nil {
			old.setState(prev)
		}
		return nil, err
	}

	r.active.Store(w)
	r.log.Info("Worker registered", "static", config.StaticCache, "dynamic", config.DynamicCache)
	return w, nil
}

// Update is Register for an existing registration; it exists so callers
// reacting to configuration changes read naturally.
func (r *Registration) Update(ctx context.Context, config Config) (*Worker, error) {
	return r.Register(ctx, config)
}

// ServeHTTP delegates to the active worker, or to the network when there
// is none.
func (r *Registration) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if w := r.active.Load(); w != nil {
		w.ServeHTTP(rw, req)
		return
	}
	if crossOrigin(r.storage, req) {
		refuseCrossOrigin(r.log, rw, req)
		return
	}

	key := requestKey(r.storage, req)
	resp, err := forward(req.Context(), r.network, req, key)
	if err != nil {
		r.log.Error("Fetch failed", "url", key, "err", err)
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	writeLive(rw, resp)
}

// Close retires the active worker and waits for its pending writes.
func (r *Registration) Close(ctx context.Context) error {
	w := r.active.Swap(nil)
	if w == nil {
		return nil
	}
	return w.Close(ctx)
}
