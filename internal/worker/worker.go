package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgnsrekt/swcache/internal/cache"
	"github.com/dgnsrekt/swcache/internal/network"
)

const tracerName = "github.com/dgnsrekt/swcache/internal/worker"

// Defaults matching the app shell this worker was built for.
const (
	DefaultStaticCache        = "static-v23"
	DefaultDynamicCache       = "dynamic-v3"
	DefaultInstallConcurrency = 4
)

// DefaultManifest returns the app-shell paths precached on install.
func DefaultManifest() Manifest {
	return Manifest{
		"/index.html",
		"/src/css/model.css",
		"/src/js/app.js",
		"/src/css/app.css",
		"/src/js/model.js",
	}
}

// State is a lifecycle phase of a Worker.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Config holds the version-specific settings of a worker.
type Config struct {
	// StaticCache holds the precached app shell.
	StaticCache string

	// DynamicCache holds responses captured at runtime.
	DynamicCache string

	// Manifest lists the app-shell paths, relative to the origin.
	Manifest Manifest

	// InstallConcurrency bounds parallel precache fetches.
	InstallConcurrency int

	// OfflinePage is served from the static cache for HTML navigations
	// that fail on the network. Empty disables the fallback.
	OfflinePage string

	// AllowCrossOrigin serves absolute-form requests for other origins
	// through the dynamic strategy. Off, they are refused with 403 so a
	// listening worker is not an open forward proxy.
	AllowCrossOrigin bool

	// DynamicWarnSize logs a warning once the dynamic cache grows past
	// this many bytes (0 = never).
	DynamicWarnSize int64

	// Logger overrides the default "worker" logger.
	Logger *log.Logger
}

// DefaultConfig returns the configuration of the current app-shell version.
func DefaultConfig() Config {
	return Config{
		StaticCache:        DefaultStaticCache,
		DynamicCache:       DefaultDynamicCache,
		Manifest:           DefaultManifest(),
		InstallConcurrency: DefaultInstallConcurrency,
		DynamicWarnSize:    256 << 20,
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if strings.TrimSpace(c.StaticCache) == "" || strings.TrimSpace(c.DynamicCache) == "" {
		return fmt.Errorf("%w: cache names must not be empty", ErrInvalidConfig)
	}
	if c.StaticCache == c.DynamicCache {
		return fmt.Errorf("%w: static and dynamic cache share the name %q", ErrInvalidConfig, c.StaticCache)
	}
	if c.InstallConcurrency < 0 {
		return fmt.Errorf("%w: install concurrency must not be negative", ErrInvalidConfig)
	}
	if c.DynamicWarnSize < 0 {
		return fmt.Errorf("%w: dynamic warn size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Worker is one version of the offline cache worker.
type Worker struct {
	config  Config
	storage *cache.Storage
	network network.Fetcher
	log     *log.Logger
	tracer  trace.Tracer

	mu    sync.RWMutex
	state State

	// Background dynamic-cache writes
	pending  sync.WaitGroup
	warnOnce sync.Once
}

// New creates a worker in the Parsed state.
func New(config Config, storage *cache.Storage, fetcher network.Fetcher) (*Worker, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: storage cannot be nil", ErrInvalidConfig)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher cannot be nil", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.InstallConcurrency == 0 {
		config.InstallConcurrency = DefaultInstallConcurrency
	}

	logger := config.Logger
	if logger == nil {
		logger = log.WithPrefix("worker")
	}

	return &Worker{
		config:  config,
		storage: storage,
		network: fetcher,
		log:     logger,
		tracer:  otel.Tracer(tracerName),
		state:   StateParsed,
	}, nil
}

// Resume returns a worker in the Installed state for a static cache that
// an earlier Install populated, typically in another process.
func Resume(config Config, storage *cache.Storage, fetcher network.Fetcher) (*Worker, error) {
	w, err := New(config, storage, fetcher)
	if err != nil {
		return nil, err
	}

	ok, err := storage.Has(config.StaticCache)
	if err != nil {
		return nil, &Error{Code: ErrorCodeCacheLookup, Cache: config.StaticCache, Cause: err}
	}
	if !ok {
		return nil, fmt.Errorf("%w: cache %q does not exist", ErrNotInstalled, config.StaticCache)
	}

	w.state = StateInstalled
	return w, nil
}

// Config returns the worker configuration.
func (w *Worker) Config() Config {
	return w.config
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != from {
		return fmt.Errorf("%w: cannot move to %s from %s", ErrInvalidState, to, w.state)
	}
	w.state = to
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Register runs Install followed by Activate.
func (w *Worker) Register(ctx context.Context) (*InstallReport, *ActivateReport, error) {
	installed, err := w.Install(ctx)
	if err != nil {
		return nil, nil, err
	}
	activated, err := w.Activate(ctx)
	if err != nil {
		return installed, nil, err
	}
	return installed, activated, nil
}

// retire marks the worker redundant. It stops intercepting requests and
// starts no new background writes.
func (w *Worker) retire() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.state
	w.state = StateRedundant
	return prev
}

// track registers a background write unless the worker is redundant.
func (w *Worker) track() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.state == StateRedundant {
		return false
	}
	w.pending.Add(1)
	return true
}

// Wait blocks until all background cache writes have finished.
func (w *Worker) Wait() {
	w.pending.Wait()
}

// Close retires the worker and waits for its background writes, bounded
// by ctx.
func (w *Worker) Close(ctx context.Context) error {
	w.retire()

	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for cache writes: %w", ctx.Err())
	}
}
