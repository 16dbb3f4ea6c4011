// Package cache persists synthesized audio keyed by request fingerprint.
// A Store fronts a durable Backend (zstd files or SQLite) with an in-memory
// LRU (L1), bounds the total entry count, expires entries after a TTL and
// discards entries that fail their integrity check.
package cache
