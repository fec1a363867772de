package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgnsrekt/swcache/internal/cache"
	"github.com/dgnsrekt/swcache/internal/network"
)

// ServeHTTP answers r according to its strategy. Before activation, and
// once redundant, requests go straight to the network.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !w.config.AllowCrossOrigin && crossOrigin(w.storage, r) {
		refuseCrossOrigin(w.log, rw, r)
		return
	}

	key := w.requestKey(r)

	if w.State() != StateActivated {
		w.passthrough(rw, r, key)
		return
	}

	strategy := Route(key, w.storage.Origin(), w.config.Manifest)

	ctx, span := w.tracer.Start(r.Context(), "worker.fetch", trace.WithAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.String("url.full", key),
		attribute.String("swcache.strategy", strategy.String()),
	))
	defer span.End()

	w.log.Debug("Fetching", "url", key, "strategy", strategy)

	switch strategy {
	case CacheFirst:
		w.serveStatic(ctx, rw, r, key, span)
	default:
		w.serveDynamic(ctx, rw, r, key, span)
	}
}

// serveStatic answers from the static cache, falling back to the network
// without storing the result.
func (w *Worker) serveStatic(ctx context.Context, rw http.ResponseWriter, r *http.Request, key string, span trace.Span) {
	if r.Method == http.MethodGet {
		resp, err := w.matchStatic(key)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("swcache.source", w.config.StaticCache))
			w.replay(rw, resp)
			return
		case !errors.Is(err, cache.ErrCacheMiss):
			w.log.Error("Error matching cache", "url", key, "err", err)
			span.SetStatus(codes.Error, err.Error())
			http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	resp, err := w.fetch(ctx, r, key)
	if err != nil {
		w.log.Error("Fetch failed", "url", key, "err", err)
		span.SetStatus(codes.Error, err.Error())
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	span.SetAttributes(attribute.String("swcache.source", "network"))
	writeLive(rw, resp)
}

func (w *Worker) matchStatic(key string) (*cache.Response, error) {
	static, err := w.storage.Lookup(w.config.StaticCache)
	if err != nil {
		return nil, err
	}
	return static.Match(key)
}

// serveDynamic answers from any cache, otherwise from the network while
// storing a copy in the dynamic cache in the background.
func (w *Worker) serveDynamic(ctx context.Context, rw http.ResponseWriter, r *http.Request, key string, span trace.Span) {
	if r.Method == http.MethodGet {
		resp, name, err := w.storage.Match(key)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("swcache.source", name))
			w.replay(rw, resp)
			return
		case !errors.Is(err, cache.ErrCacheMiss):
			w.log.Error("Error matching cache in dynamic fetch", "url", key, "err", err)
			span.SetStatus(codes.Error, err.Error())
			http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	live, err := w.fetch(ctx, r, key)
	var snap *cache.Response
	if err == nil {
		snap, err = cache.NewResponse(key, live)
		if err != nil {
			err = &Error{Code: ErrorCodeNetwork, URL: key, Cause: err}
		}
	}
	if err != nil {
		w.log.Error("Fetch and cache put failed", "url", key, "err", err)
		span.SetStatus(codes.Error, err.Error())
		if w.serveOffline(rw, r) {
			span.SetAttributes(attribute.String("swcache.source", "offline"))
			return
		}
		// Nothing to answer with; the client sees a network error
		panic(http.ErrAbortHandler)
	}

	span.SetAttributes(attribute.String("swcache.source", "network"))
	w.putDynamic(r.Method, key, snap)
	w.replay(rw, snap)
}

// putDynamic stores snap in the dynamic cache without delaying the reply.
func (w *Worker) putDynamic(method, key string, snap *cache.Response) {
	if err := cache.Cacheable(method, snap); err != nil {
		w.log.Debug("Not caching response", "url", key, "method", method, "reason", err)
		return
	}
	if !w.track() {
		w.log.Debug("Worker redundant, skipping cache put", "url", key)
		return
	}

	go func() {
		defer w.pending.Done()

		dynamic, err := w.storage.Open(w.config.DynamicCache)
		if err == nil {
			err = dynamic.Put(key, snap)
		}
		if err != nil {
			err = &Error{Code: ErrorCodeCachePut, URL: key, Cause: err}
			w.log.Error("Fetch and cache put failed", "url", key, "err", err)
			return
		}

		w.log.Debug("Successfully cached dynamically", "url", key)
		w.checkDynamicGrowth(dynamic)
	}()
}

// checkDynamicGrowth warns once when the unbounded dynamic cache passes
// the configured threshold.
func (w *Worker) checkDynamicGrowth(dynamic *cache.NamedCache) {
	if w.config.DynamicWarnSize <= 0 {
		return
	}
	size := dynamic.Size()
	if size < w.config.DynamicWarnSize {
		return
	}
	w.warnOnce.Do(func() {
		w.log.Warn("Dynamic cache has no eviction and keeps growing",
			"cache", dynamic.Name(),
			"size", humanize.Bytes(uint64(size)),
			"threshold", humanize.Bytes(uint64(w.config.DynamicWarnSize)),
		)
	})
}

// serveOffline answers failed HTML navigations with the offline page.
func (w *Worker) serveOffline(rw http.ResponseWriter, r *http.Request) bool {
	if w.config.OfflinePage == "" || r.Method != http.MethodGet {
		return false
	}
	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		return false
	}

	resp, err := w.matchStatic(w.storage.Resolve(w.config.OfflinePage))
	if err != nil {
		w.log.Warn("Offline page unavailable", "page", w.config.OfflinePage, "err", err)
		return false
	}
	w.replay(rw, resp)
	return true
}

func (w *Worker) passthrough(rw http.ResponseWriter, r *http.Request, key string) {
	resp, err := w.fetch(r.Context(), r, key)
	if err != nil {
		w.log.Error("Fetch failed", "url", key, "err", err)
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	writeLive(rw, resp)
}

// fetch sends r to the network, addressed by its cache key.
func (w *Worker) fetch(ctx context.Context, r *http.Request, key string) (*http.Response, error) {
	return forward(ctx, w.network, r, key)
}

func forward(ctx context.Context, fetcher network.Fetcher, r *http.Request, key string) (*http.Response, error) {
	u, err := url.Parse(key)
	if err != nil {
		return nil, &Error{Code: ErrorCodeNetwork, URL: key, Cause: err}
	}

	out := r.Clone(ctx)
	out.URL = u
	out.Host = u.Host
	out.RequestURI = ""

	resp, err := fetcher.Fetch(ctx, out)
	if err != nil {
		return nil, &Error{Code: ErrorCodeNetwork, URL: key, Cause: err}
	}
	return resp, nil
}

// requestKey returns the absolute cache key for r.
func (w *Worker) requestKey(r *http.Request) string {
	return requestKey(w.storage, r)
}

func requestKey(storage *cache.Storage, r *http.Request) string {
	if r.URL.IsAbs() {
		return storage.Resolve(r.URL.String())
	}
	return storage.Resolve(r.URL.RequestURI())
}

// crossOrigin reports whether r is in absolute form for another origin.
func crossOrigin(storage *cache.Storage, r *http.Request) bool {
	if !r.URL.IsAbs() {
		return false
	}
	origin, err := url.Parse(storage.Origin())
	if err != nil {
		return true
	}
	return !strings.EqualFold(r.URL.Scheme, origin.Scheme) || !strings.EqualFold(r.URL.Host, origin.Host)
}

func refuseCrossOrigin(logger *log.Logger, rw http.ResponseWriter, r *http.Request) {
	logger.Warn("Refusing cross-origin request", "url", r.URL.String(), "remote", r.RemoteAddr)
	http.Error(rw, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func (w *Worker) replay(rw http.ResponseWriter, resp *cache.Response) {
	if err := resp.Replay(rw); err != nil {
		w.log.Debug("Writing response failed", "url", resp.URL, "err", err)
	}
}

// writeLive copies a network response to rw.
func writeLive(rw http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	header := rw.Header()
	for k, v := range resp.Header {
		header[k] = append([]string(nil), v...)
	}
	rw.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(rw, resp.Body)
}
