package worker

import "testing"

func TestRoute(t *testing.T) {
	manifest := DefaultManifest()
	origin := "http://app.test"

	tests := []struct {
		url  string
		want Strategy
	}{
		{"http://app.test/index.html", CacheFirst},
		{"http://app.test/src/js/app.js", CacheFirst},
		{"/src/css/model.css", CacheFirst},
		{"http://app.test/api/data", NetworkFirstDynamic},
		{"http://app.test/", NetworkFirstDynamic},
		// Matching is exact: query strings defeat the manifest
		{"http://app.test/src/js/app.js?v=2", NetworkFirstDynamic},
		{"https://cdn.example/index.html", NetworkFirstDynamic},
	}

	for _, tt := range tests {
		if got := Route(tt.url, origin, manifest); got != tt.want {
			t.Errorf("Route(%q) = %s, want %s", tt.url, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		url, origin, want string
	}{
		{"http://app.test/index.html", "http://app.test", "/index.html"},
		{"http://app.test/index.html", "http://app.test/", "/index.html"},
		{"https://cdn.example/x.js", "http://app.test", "https://cdn.example/x.js"},
		{"/index.html", "", "/index.html"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.url, tt.origin); got != tt.want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", tt.url, tt.origin, got, tt.want)
		}
	}
}
