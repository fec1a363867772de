package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultOrigin resolves relative keys when no origin is configured.
const DefaultOrigin = "http://localhost"

// Response is a snapshot of an HTTP response as stored in a named cache.
type Response struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// NewResponse reads resp fully into a snapshot stored under key.
// The body of resp is consumed and closed.
func NewResponse(key string, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		URL:      key,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Replay writes the snapshot onto w.
func (r *Response) Replay(w http.ResponseWriter) error {
	h := w.Header()
	for k, v := range r.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Del("Content-Length")
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}

// Size is the body length in bytes.
func (r *Response) Size() int64 { return int64(len(r.Body)) }

func encodeResponse(r *Response) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeResponse(data []byte) (*Response, error) {
	var r Response
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	return &r, nil
}

// ResolveKey turns raw into the absolute URL used as a cache key.
// Relative references resolve against origin; fragments are dropped.
func ResolveKey(origin, raw string) string {
	if origin == "" {
		origin = DefaultOrigin
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.IsAbs() {
		return u.String()
	}

	base, err := url.Parse(origin)
	if err != nil {
		return strings.TrimSuffix(origin, "/") + "/" + strings.TrimPrefix(u.String(), "/")
	}
	return base.ResolveReference(u).String()
}
