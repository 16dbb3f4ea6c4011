package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Store is the Cache Store. It owns every entry exclusively: lookups are
// served from L1 memory or the durable backend, entries older than the TTL
// are misses and are purged on access, and the oldest entries by creation
// time are evicted once MaxEntries is exceeded. Persistence failures never
// surface as errors from Get; they degrade to a miss.
type Store struct {
	backend Backend
	l1      *MemoryCache
	cfg     Config
	log     *log.Logger
	now     func() time.Time

	mu    sync.Mutex
	index map[string]Info
	stats CacheStats
}

// Open builds the backend named by cfg.Backend under cfg.Dir and wraps it in a Store.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case BackendDisk, "":
		backend, err = NewDiskBackend(filepath.Join(cfg.Dir, "audio"), cfg.CompressionLevel)
	case BackendSQLite:
		backend, err = OpenSQLite(ctx, filepath.Join(cfg.Dir, "audio.db"))
	case BackendMemory:
		backend = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Backend, err)
	}

	return NewStore(ctx, backend, cfg, logger), nil
}

// NewStore wraps an open backend. The backend's existing entries are indexed
// and trimmed to cfg.MaxEntries.
func NewStore(ctx context.Context, backend Backend, cfg Config, logger *log.Logger) *Store {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = def.MemoryCapacity
	}
	if logger == nil {
		logger = log.WithPrefix("cache")
	}

	s := &Store{
		backend: backend,
		l1:      NewMemoryCache(cfg.MemoryCapacity),
		cfg:     cfg,
		log:     logger,
		now:     time.Now,
		index:   make(map[string]Info),
	}

	infos, err := backend.List(ctx)
	if err != nil {
		s.log.Warn("Could not index cache, starting empty", "err", err)
	}
	for _, info := range infos {
		s.index[info.Fingerprint] = info
	}

	s.mu.Lock()
	if n := s.evictLocked(ctx); n > 0 {
		s.log.Debug("Trimmed cache on open", "evicted", n)
	}
	s.mu.Unlock()

	return s
}

// Get returns the entry for fingerprint. Expired, corrupted and unreadable
// entries are reported as misses.
func (s *Store) Get(ctx context.Context, fingerprint string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.index[fingerprint]
	if !ok {
		s.stats.Misses++
		return Entry{}, false
	}

	if s.expired(info) {
		s.purgeLocked(ctx, fingerprint)
		s.stats.Expired++
		s.stats.Misses++
		s.log.Debug("Cache entry expired", "fingerprint", short(fingerprint), "age", s.now().Sub(info.CreatedAt).Round(time.Second))
		return Entry{}, false
	}

	if e, ok := s.l1.Get(fingerprint); ok {
		s.stats.Hits++
		s.stats.L1Hits++
		return e, true
	}

	e, err := s.backend.Load(ctx, fingerprint)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		delete(s.index, fingerprint)
		s.stats.Misses++
		return Entry{}, false
	case errors.Is(err, ttypes.ErrCacheCorrupted):
		s.purgeLocked(ctx, fingerprint)
		s.stats.Corrupted++
		s.stats.Misses++
		s.log.Warn("Discarded corrupted cache entry", "fingerprint", short(fingerprint), "err", err)
		return Entry{}, false
	default:
		s.stats.IOErrors++
		s.stats.Misses++
		s.log.Warn("Cache read failed, treating as miss", "fingerprint", short(fingerprint), "err", err)
		return Entry{}, false
	}

	// Promotion is best-effort.
	_ = s.l1.Put(e)
	s.stats.Hits++
	return e, true
}

// Put stores a payload under fingerprint, then evicts the oldest entries if
// the store is over capacity. The payload is copied; later changes by the
// caller do not affect the cached entry. A returned error wraps
// ttypes.ErrCacheIO and is safe to ignore.
func (s *Store) Put(ctx context.Context, fingerprint string, payload ttypes.AudioPayload, meta Meta) error {
	if payload.Empty() {
		return fmt.Errorf("cache put %s: %w", short(fingerprint), ttypes.ErrInvalidAudio)
	}

	payload.Data = bytes.Clone(payload.Data)
	entry := Entry{
		Fingerprint: fingerprint,
		Payload:     payload,
		CreatedAt:   s.now(),
		Meta:        meta,
		Checksum:    checksum(payload.Data),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.backend.Save(ctx, entry)
	if err != nil {
		s.stats.IOErrors++
		if !errors.Is(err, ttypes.ErrCacheIO) {
			err = fmt.Errorf("%w: %v", ttypes.ErrCacheIO, err)
		}
		s.log.Warn("Cache write failed", "fingerprint", short(fingerprint), "err", err)
	}

	_ = s.l1.Put(entry)
	s.index[fingerprint] = Info{
		Fingerprint: fingerprint,
		CreatedAt:   entry.CreatedAt,
		Size:        entry.Size(),
		Meta:        meta,
	}
	s.evictLocked(ctx)

	return err
}

// EvictIfNeeded removes the oldest entries until at most MaxEntries remain.
// It returns the number of entries evicted.
func (s *Store) EvictIfNeeded(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.evictLocked(ctx)
}

// Prune eagerly removes every expired entry and returns how many were removed.
func (s *Store) Prune(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fp, info := range s.index {
		if s.expired(info) {
			s.purgeLocked(ctx, fp)
			s.stats.Expired++
			removed++
		}
	}
	return removed
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.l1.Delete(fingerprint)
	delete(s.index, fingerprint)
	return s.backend.Delete(ctx, fingerprint)
}

// Clear removes every entry from both levels.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.l1.Clear()
	s.index = make(map[string]Info)
	return s.backend.Clear(ctx)
}

// List returns the indexed entries, oldest first.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sortedLocked()
}

// Len returns the number of indexed entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.index)
}

// Stats returns cache statistics.
func (s *Store) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Entries = len(s.index)
	for _, info := range s.index {
		stats.Bytes += info.Size
	}
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// TTL returns the configured entry lifetime.
func (s *Store) TTL() time.Duration {
	return s.cfg.TTL
}

// Close releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.l1.Clear()
	return s.backend.Close()
}

func (s *Store) expired(info Info) bool {
	return s.cfg.TTL > 0 && s.now().Sub(info.CreatedAt) > s.cfg.TTL
}

// evictLocked drops oldest-created entries until the count fits (must be
// called with lock held).
func (s *Store) evictLocked(ctx context.Context) int {
	over := len(s.index) - s.cfg.MaxEntries
	if over <= 0 {
		return 0
	}

	for _, info := range s.sortedLocked()[:over] {
		s.purgeLocked(ctx, info.Fingerprint)
		s.stats.Evictions++
		s.log.Debug("Evicted cache entry", "fingerprint", short(info.Fingerprint), "created", info.CreatedAt)
	}
	s.stats.LastEvict = s.now()
	return over
}

// purgeLocked removes an entry from every level (must be called with lock held).
func (s *Store) purgeLocked(ctx context.Context, fingerprint string) {
	s.l1.Delete(fingerprint)
	delete(s.index, fingerprint)
	if err := s.backend.Delete(ctx, fingerprint); err != nil {
		s.stats.IOErrors++
		s.log.Warn("Cache delete failed", "fingerprint", short(fingerprint), "err", err)
	}
}

func (s *Store) sortedLocked() []Info {
	infos := make([]Info, 0, len(s.index))
	for _, info := range s.index {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Fingerprint < infos[j].Fingerprint
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
