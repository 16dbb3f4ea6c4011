package cache

import (
	"container/list"
	"context"
	"sort"
	"sync"
)

// MemoryCache is the L1 in-memory cache with LRU eviction bounded by payload
// bytes. It fronts the durable backend so repeated playback of the same
// phrase never touches disk.
type MemoryCache struct {
	capacity int64 // Maximum size in bytes
	size     int64 // Current size in bytes

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	mu sync.Mutex
}

// NewMemoryCache creates a new memory cache with the specified capacity in bytes.
func NewMemoryCache(capacity int64) *MemoryCache {
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

// Get retrieves an entry and marks it most recently used.
func (c *MemoryCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}

	c.eviction.MoveToFront(elem)
	return elem.Value.(Entry), true
}

// Put stores an entry, evicting least recently used entries to make room.
func (c *MemoryCache) Put(entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := entry.Size()

	if elem, ok := c.items[entry.Fingerprint]; ok {
		c.removeElement(elem)
	}

	if size > c.capacity {
		return ErrItemTooLarge
	}

	for c.size+size > c.capacity && c.eviction.Len() > 0 {
		c.removeElement(c.eviction.Back())
	}

	c.items[entry.Fingerprint] = c.eviction.PushFront(entry)
	c.size += size
	return nil
}

// Delete removes an entry from the cache.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
}

// Size returns the current cache size in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Len returns the number of entries held.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(Entry)
	delete(c.items, entry.Fingerprint)
	c.size -= entry.Size()
}

// MemoryBackend is a non-durable Backend for tests and the "memory" cache
// setting. Entries live until the process exits.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

// Load returns the stored entry after verifying its checksum.
func (b *MemoryBackend) Load(_ context.Context, fingerprint string) (Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[fingerprint]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if err := e.Verify(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Save stores a copy of the entry.
func (b *MemoryBackend) Save(_ context.Context, entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := make([]byte, len(entry.Payload.Data))
	copy(data, entry.Payload.Data)
	entry.Payload.Data = data
	b.entries[entry.Fingerprint] = entry
	return nil
}

// Delete removes an entry. Missing entries are ignored.
func (b *MemoryBackend) Delete(_ context.Context, fingerprint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, fingerprint)
	return nil
}

// List returns every entry's metadata, oldest first.
func (b *MemoryBackend) List(_ context.Context) ([]Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos := make([]Info, 0, len(b.entries))
	for _, e := range b.entries {
		infos = append(infos, Info{Fingerprint: e.Fingerprint, CreatedAt: e.CreatedAt, Size: e.Size(), Meta: e.Meta})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos, nil
}

// Clear removes every entry.
func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]Entry)
	return nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error {
	return nil
}
