package cache

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		origin string
		raw    string
		want   string
	}{
		{"http://app.test", "/index.html", "http://app.test/index.html"},
		{"http://app.test/", "/src/js/app.js", "http://app.test/src/js/app.js"},
		{"http://app.test", "/api/data?page=2", "http://app.test/api/data?page=2"},
		{"http://app.test", "https://cdn.example/three.js", "https://cdn.example/three.js"},
		{"http://app.test", "/index.html#hero", "http://app.test/index.html"},
		{"", "/index.html", "http://localhost/index.html"},
	}

	for _, tt := range tests {
		if got := ResolveKey(tt.origin, tt.raw); got != tt.want {
			t.Errorf("ResolveKey(%q, %q) = %q, want %q", tt.origin, tt.raw, got, tt.want)
		}
	}
}

func TestNewResponseAndReplay(t *testing.T) {
	upstream := &http.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type":   {"text/css"},
			"Content-Length": {"12"},
		},
		Body: io.NopCloser(strings.NewReader("body{color:0}")),
	}

	snap, err := NewResponse("http://app.test/src/css/app.css", upstream)
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	if !snap.OK() {
		t.Error("200 snapshot should be OK")
	}

	data, err := encodeResponse(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodeResponse(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := decoded.Replay(rec); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.String() != "body{color:0}" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/css" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestDecodeResponse_Corrupted(t *testing.T) {
	if _, err := decodeResponse([]byte("garbage")); err == nil {
		t.Fatal("expected an error for garbage input")
	}
}
