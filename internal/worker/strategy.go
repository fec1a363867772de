package worker

import "strings"

// Strategy is the way a single request is answered.
type Strategy int

const (
	// CacheFirst serves manifest assets from the static cache and falls back
	// to the network without writing back.
	CacheFirst Strategy = iota

	// NetworkFirstDynamic serves any cached copy, otherwise fetches from the
	// network and stores the response in the dynamic cache.
	NetworkFirstDynamic
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirstDynamic:
		return "network-first-dynamic"
	default:
		return "unknown"
	}
}

// Manifest is the ordered list of app-shell paths precached on install.
type Manifest []string

// Contains reports whether path is listed, by exact string match.
func (m Manifest) Contains(path string) bool {
	for _, p := range m {
		if p == path {
			return true
		}
	}
	return false
}

// Normalize strips origin from rawURL when rawURL starts with it.
func Normalize(rawURL, origin string) string {
	origin = strings.TrimSuffix(origin, "/")
	if origin != "" && strings.HasPrefix(rawURL, origin) {
		return rawURL[len(origin):]
	}
	return rawURL
}

// Route decides how the request for rawURL is answered.
func Route(rawURL, origin string, manifest Manifest) Strategy {
	if manifest.Contains(Normalize(rawURL, origin)) {
		return CacheFirst
	}
	return NetworkFirstDynamic
}
