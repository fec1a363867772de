package worker

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ActivateReport lists the caches removed and kept during activation.
type ActivateReport struct {
	Deleted []string
	Kept    []string
}

// Activate deletes every cache not named by this worker version, makes
// sure the dynamic cache exists and starts intercepting requests.
// On failure the worker stays installed and activation may be retried.
func (w *Worker) Activate(ctx context.Context) (*ActivateReport, error) {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return nil, err
	}

	ctx, span := w.tracer.Start(ctx, "worker.activate")
	defer span.End()

	report, err := w.activate(ctx)
	if err != nil {
		w.setState(StateInstalled)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.StringSlice("swcache.activate.deleted", report.Deleted))
	w.setState(StateActivated)
	w.log.Info("Worker activated", "static", w.config.StaticCache, "dynamic", w.config.DynamicCache)
	return report, nil
}

func (w *Worker) activate(ctx context.Context) (*ActivateReport, error) {
	w.log.Info("Activating worker")

	names, err := w.storage.Keys()
	if err != nil {
		return nil, &Error{Code: ErrorCodeCacheLookup, Cause: err}
	}

	var (
		mu      sync.Mutex
		removed = make(map[string]bool)
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if name == w.config.StaticCache || name == w.config.DynamicCache {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			w.log.Info("Removing old cache", "cache", name)
			if _, err := w.storage.Delete(name); err != nil {
				return &Error{Code: ErrorCodeCacheDelete, Cache: name, Cause: err}
			}
			mu.Lock()
			removed[name] = true
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if _, err := w.storage.Open(w.config.DynamicCache); err != nil {
		return nil, &Error{Code: ErrorCodeCacheOpen, Cache: w.config.DynamicCache, Cause: err}
	}

	report := &ActivateReport{}
	for _, name := range names {
		if removed[name] {
			report.Deleted = append(report.Deleted, name)
		}
	}

	kept, err := w.storage.Keys()
	if err != nil {
		return nil, &Error{Code: ErrorCodeCacheLookup, Cause: err}
	}
	report.Kept = kept

	return report, nil
}
