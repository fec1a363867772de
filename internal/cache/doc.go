// Package cache provides named cache storage for HTTP response snapshots.
// Each named cache is backed by a durable store (disk, sqlite or memory)
// with an in-memory LRU accelerator (L1) in front of it, and the Storage
// coordinates cache creation order, cross-cache matching and periodic
// index flushing.
package cache
