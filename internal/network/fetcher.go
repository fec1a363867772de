package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoUpstream is returned when an HTTPFetcher has no base URL.
var ErrNoUpstream = errors.New("no upstream configured")

// Fetcher performs the network half of a request.
// Only transport failures are errors; any HTTP status is a response.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// Headers that apply to a single connection and must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPConfig holds configuration for an HTTPFetcher.
type HTTPConfig struct {
	// Upstream is the base URL requests are forwarded to.
	Upstream string

	// Origin is the public origin of the app. Absolute request URLs on any
	// other origin are fetched as they are instead of through Upstream.
	Origin string

	// RequestsPerSecond limits outbound requests (0 = unlimited).
	RequestsPerSecond float64

	// Burst is the limiter burst size (defaults to 1).
	Burst int

	// Timeout bounds each request (0 = no timeout).
	Timeout time.Duration

	// Client overrides the HTTP client.
	Client *http.Client
}

// HTTPFetcher forwards requests to an upstream server.
type HTTPFetcher struct {
	upstream    *url.URL
	origin      *url.URL
	client      *http.Client
	rateLimiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher for config.Upstream.
func NewHTTPFetcher(config HTTPConfig) (*HTTPFetcher, error) {
	if strings.TrimSpace(config.Upstream) == "" {
		return nil, ErrNoUpstream
	}

	upstream, err := url.Parse(config.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", config.Upstream, err)
	}
	if upstream.Scheme != "http" && upstream.Scheme != "https" {
		return nil, fmt.Errorf("%s is not a supported protocol", upstream.Scheme)
	}

	client := config.Client
	if client == nil {
		client = &http.Client{
			Timeout: config.Timeout,
			// Redirects are returned to the caller like any other response
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	f := &HTTPFetcher{upstream: upstream, client: client}

	if config.Origin != "" {
		if f.origin, err = url.Parse(config.Origin); err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w", config.Origin, err)
		}
	}

	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		f.rateLimiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return f, nil
}

// Fetch forwards req to the upstream, keeping its path and query.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if f.rateLimiter != nil {
		if err := f.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	target := f.Target(req.URL)

	out, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.ContentLength = req.ContentLength

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	return resp, nil
}

// Target maps a request URL onto the upstream. Cross-origin URLs are
// returned unchanged.
func (f *HTTPFetcher) Target(u *url.URL) string {
	if f.origin != nil && u.IsAbs() && (u.Scheme != f.origin.Scheme || u.Host != f.origin.Host) {
		direct := *u
		direct.Fragment = ""
		return direct.String()
	}

	target := *f.upstream
	target.Path = strings.TrimSuffix(f.upstream.Path, "/") + "/" + strings.TrimPrefix(u.Path, "/")
	target.RawPath = ""
	target.RawQuery = u.RawQuery
	target.Fragment = ""
	return target.String()
}

// HandlerFetcher serves requests from an in-process handler.
type HandlerFetcher struct {
	Handler http.Handler
}

// Dir returns a fetcher that serves files below root.
func Dir(root string) *HandlerFetcher {
	return &HandlerFetcher{Handler: dirHandler{root: http.Dir(root)}}
}

// dirHandler serves files like http.FileServer but without its
// "/index.html" → "/" redirect, so manifest paths fetch as written.
type dirHandler struct {
	root http.Dir
}

func (h dirHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)

	f, err := h.root.Open(name)
	if err != nil {
		writeOpenError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeOpenError(w, err)
		return
	}

	if info.IsDir() {
		index, err := h.root.Open(path.Join(name, "index.html"))
		if err != nil {
			writeOpenError(w, err)
			return
		}
		defer index.Close()

		if info, err = index.Stat(); err != nil {
			writeOpenError(w, err)
			return
		}
		f = index
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func writeOpenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "404 page not found", http.StatusNotFound)
	case errors.Is(err, fs.ErrPermission):
		http.Error(w, "403 Forbidden", http.StatusForbidden)
	default:
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
	}
}

// Fetch runs the handler and returns its recorded response.
func (f *HandlerFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := req.Clone(ctx)
	in.RequestURI = in.URL.RequestURI()
	if in.Host == "" {
		in.Host = in.URL.Host
	}

	buf := &responseBuffer{header: make(http.Header)}
	f.Handler.ServeHTTP(buf, in)
	return buf.response(in), nil
}

// responseBuffer is an http.ResponseWriter that keeps the reply in memory.
type responseBuffer struct {
	header http.Header
	sent   http.Header
	status int
	body   bytes.Buffer
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(code int) {
	if b.sent != nil {
		return
	}
	b.status = code
	b.sent = b.header.Clone()
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if b.sent == nil {
		if b.header.Get("Content-Type") == "" && b.header.Get("Transfer-Encoding") == "" {
			b.header.Set("Content-Type", http.DetectContentType(p))
		}
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}

func (b *responseBuffer) response(req *http.Request) *http.Response {
	b.WriteHeader(http.StatusOK)

	body := b.body.Bytes()
	return &http.Response{
		Status:        fmt.Sprintf("%03d %s", b.status, http.StatusText(b.status)),
		StatusCode:    b.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        b.sent,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
