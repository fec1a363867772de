package worker

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/swcache/internal/cache"
)

// InstallReport lists which manifest entries were precached.
type InstallReport struct {
	Cache  string
	Cached []string
	Failed []InstallFailure
}

// InstallFailure records a manifest entry that could not be precached.
type InstallFailure struct {
	Path string
	Err  error
}

// Complete reports whether every manifest entry was cached.
func (r *InstallReport) Complete() bool {
	return len(r.Failed) == 0
}

// Install precaches the manifest into the static cache. A failing entry
// is logged and reported; it never fails the install as a whole.
func (w *Worker) Install(ctx context.Context) (*InstallReport, error) {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return nil, err
	}

	ctx, span := w.tracer.Start(ctx, "worker.install")
	defer span.End()
	span.SetAttributes(
		attribute.String("swcache.cache", w.config.StaticCache),
		attribute.Int("swcache.manifest.size", len(w.config.Manifest)),
	)

	w.log.Info("Installing worker", "cache", w.config.StaticCache)

	static, err := w.storage.Open(w.config.StaticCache)
	if err != nil {
		w.setState(StateRedundant)
		span.SetStatus(codes.Error, err.Error())
		return nil, &Error{Code: ErrorCodeCacheOpen, Cache: w.config.StaticCache, Cause: err}
	}

	w.log.Info("Precaching app shell", "files", len(w.config.Manifest))

	results := make([]error, len(w.config.Manifest))

	var g errgroup.Group
	g.SetLimit(w.config.InstallConcurrency)
	for i, path := range w.config.Manifest {
		g.Go(func() error {
			results[i] = w.precache(ctx, static, path)
			return nil
		})
	}
	_ = g.Wait()

	// The app shell must survive a crash before the next flush tick
	if err := static.Flush(); err != nil {
		w.log.Warn("Could not persist static cache index", "cache", static.Name(), "err", err)
	}

	report := &InstallReport{Cache: static.Name()}
	for i, path := range w.config.Manifest {
		if err := results[i]; err != nil {
			w.log.Error("Failed to cache", "file", path, "err", err)
			report.Failed = append(report.Failed, InstallFailure{Path: path, Err: err})
			continue
		}
		report.Cached = append(report.Cached, path)
	}

	w.log.Info("All static files attempted to be cached", "cached", len(report.Cached), "failed", len(report.Failed))
	span.SetAttributes(
		attribute.Int("swcache.install.cached", len(report.Cached)),
		attribute.Int("swcache.install.failed", len(report.Failed)),
	)

	w.setState(StateInstalled)
	return report, nil
}

// precache fetches one manifest entry and stores it when the status is 2xx.
func (w *Worker) precache(ctx context.Context, static *cache.NamedCache, path string) error {
	key := w.storage.Resolve(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return &Error{Code: ErrorCodeInstallFetch, URL: key, Cause: err}
	}

	resp, err := w.network.Fetch(ctx, req)
	if err != nil {
		return &Error{Code: ErrorCodeInstallFetch, URL: key, Cause: err}
	}

	snap, err := cache.NewResponse(key, resp)
	if err != nil {
		return &Error{Code: ErrorCodeInstallFetch, URL: key, Cause: err}
	}
	if !snap.OK() {
		return &Error{Code: ErrorCodeInstallFetch, URL: key, Cause: fmt.Errorf("%w: %d", ErrBadStatus, snap.Status)}
	}

	if err := static.Put(key, snap); err != nil {
		return &Error{Code: ErrorCodeCachePut, URL: key, Cause: err}
	}

	w.log.Debug("Successfully cached", "file", path)
	return nil
}
