package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the L1 capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrNotFound is returned by a Backend when no entry exists for a fingerprint
	ErrNotFound = errors.New("cache entry not found")
)

// CacheLevel represents the cache tier that served a lookup
type CacheLevel int

const (
	// CacheLevelL1 represents the memory cache (fastest)
	CacheLevelL1 CacheLevel = iota

	// CacheLevelL2 represents the durable backend (persistent)
	CacheLevelL2
)

// String returns the string representation of the cache level
func (l CacheLevel) String() string {
	switch l {
	case CacheLevelL1:
		return "L1-Memory"
	case CacheLevelL2:
		return "L2-Durable"
	default:
		return "Unknown"
	}
}

// Meta is the descriptive part of an entry supplied by the writer.
type Meta struct {
	Locale  ttypes.Locale
	VoiceID string
	Source  string // adapter that produced the payload
}

// Entry is one cached synthesis result. The payload is immutable once written.
type Entry struct {
	Fingerprint string
	Payload     ttypes.AudioPayload
	CreatedAt   time.Time
	Meta

	// Checksum is the hex sha256 of Payload.Data at write time.
	Checksum string
}

// Size returns the payload size in bytes.
func (e Entry) Size() int64 {
	return int64(len(e.Payload.Data))
}

// Verify reports whether the payload still matches its checksum.
func (e Entry) Verify() error {
	if e.Checksum == "" || checksum(e.Payload.Data) != e.Checksum {
		return ttypes.ErrCacheCorrupted
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Info describes an entry without its payload.
type Info struct {
	Fingerprint string
	CreatedAt   time.Time
	Size        int64
	Meta
}

// Backend is durable key-value storage for entries. Implementations verify
// entries on Load and return ttypes.ErrCacheCorrupted for any that fail.
type Backend interface {
	Load(ctx context.Context, fingerprint string) (Entry, error)
	Save(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, fingerprint string) error
	List(ctx context.Context) ([]Info, error)
	Clear(ctx context.Context) error
	Close() error
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	// Current state
	Entries int   // Number of indexed entries
	Bytes   int64 // Total payload bytes

	// Performance metrics
	Hits      int64
	L1Hits    int64
	Misses    int64
	Evictions int64
	Expired   int64
	Corrupted int64
	IOErrors  int64
	HitRate   float64 // hits / (hits + misses)

	LastEvict time.Time
}

// Backend kinds accepted by Config.Backend
const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds configuration for a Store.
type Config struct {
	Backend          string
	Dir              string        // directory for disk files or the SQLite database
	MaxEntries       int           // total entries kept (default 100)
	TTL              time.Duration // entries older than this are misses (default 7 days)
	MemoryCapacity   int64         // L1 size in bytes
	CompressionLevel int           // zstd level for the disk backend, 0 disables
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendDisk,
		MaxEntries:       100,
		TTL:              7 * 24 * time.Hour,
		MemoryCapacity:   16 * 1024 * 1024,
		CompressionLevel: 3,
	}
}
