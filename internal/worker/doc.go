// Package worker implements the offline cache worker for a static web app.
//
// A Worker goes through the lifecycle Parsed → Installing → Installed →
// Activating → Activated. Install precaches a fixed manifest into the
// static cache, tolerating per-file failures. Activate deletes every cache
// whose name is neither the current static nor the current dynamic name
// and starts intercepting requests. Once active, the Worker is an
// http.Handler: manifest paths are served cache-first from the static
// cache, everything else is matched across all caches and otherwise
// fetched from the network and written back into the dynamic cache.
//
// The dynamic cache has no eviction. Its growth is reported, never capped.
package worker
