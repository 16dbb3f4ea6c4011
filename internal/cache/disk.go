package cache

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

const indexFile = "cache.index"

// DiskBackend stores each payload in its own file, optionally zstd
// compressed, with a gob-encoded index of entry metadata beside them.
type DiskBackend struct {
	basePath string

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// Index for fast lookups
	index map[string]*diskIndexEntry

	mu sync.Mutex
}

// diskIndexEntry represents an entry in the disk index
type diskIndexEntry struct {
	Fingerprint  string
	FilePath     string
	Size         int64 // Size on disk (compressed)
	OriginalSize int64 // Original size (uncompressed)
	CreatedAt    time.Time
	Compressed   bool

	Locale     string
	VoiceID    string
	Source     string
	Format     string
	SampleRate int
	Channels   int
	Checksum   string
}

// NewDiskBackend opens (or creates) a disk backend rooted at basePath.
// compressionLevel follows zstd levels; 0 disables compression.
func NewDiskBackend(basePath string, compressionLevel int) (*DiskBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db := &DiskBackend{
		basePath: basePath,
		index:    make(map[string]*diskIndexEntry),
	}

	var err error
	if compressionLevel > 0 {
		db.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Always able to read compressed files written under an earlier setting.
	db.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := db.loadIndex(); err != nil {
		// An unreadable index only costs the cached audio.
		db.index = make(map[string]*diskIndexEntry)
	}

	return db, nil
}

// Load reads, decompresses and verifies an entry.
func (db *DiskBackend) Load(_ context.Context, fingerprint string) (Entry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ie, ok := db.index[fingerprint]
	if !ok {
		return Entry{}, ErrNotFound
	}

	data, err := os.ReadFile(ie.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			delete(db.index, fingerprint)
			_ = db.saveIndex()
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("%w: %v", ttypes.ErrCacheIO, err)
	}

	if ie.Compressed {
		decompressed, err := db.decoder.DecodeAll(data, nil)
		if err != nil {
			db.discard(ie)
			return Entry{}, fmt.Errorf("%w: %v", ttypes.ErrCacheCorrupted, err)
		}
		data = decompressed
	}

	entry := ie.entry(data)
	if err := entry.Verify(); err != nil {
		db.discard(ie)
		return Entry{}, err
	}

	return entry, nil
}

// Save writes an entry, replacing any previous one with the same fingerprint.
func (db *DiskBackend) Save(_ context.Context, entry Entry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	value := entry.Payload.Data

	// Compress only when it helps; mp3 rarely shrinks, raw PCM does.
	dataToWrite := value
	compressed := false
	if db.encoder != nil && len(value) > 1024 {
		if c := db.encoder.EncodeAll(value, nil); len(c) < len(value) {
			dataToWrite = c
			compressed = true
		}
	}

	filePath := filepath.Join(db.basePath, entry.Fingerprint+".cache")
	if err := writeFileAtomic(filePath, dataToWrite); err != nil {
		return fmt.Errorf("%w: write %s: %v", ttypes.ErrCacheIO, filePath, err)
	}

	db.index[entry.Fingerprint] = &diskIndexEntry{
		Fingerprint:  entry.Fingerprint,
		FilePath:     filePath,
		Size:         int64(len(dataToWrite)),
		OriginalSize: int64(len(value)),
		CreatedAt:    entry.CreatedAt,
		Compressed:   compressed,
		Locale:       string(entry.Locale),
		VoiceID:      entry.VoiceID,
		Source:       entry.Source,
		Format:       string(entry.Payload.Format),
		SampleRate:   entry.Payload.SampleRate,
		Channels:     entry.Payload.Channels,
		Checksum:     entry.Checksum,
	}

	if err := db.saveIndex(); err != nil {
		return fmt.Errorf("%w: save index: %v", ttypes.ErrCacheIO, err)
	}
	return nil
}

// Delete removes an entry's file and index record.
func (db *DiskBackend) Delete(_ context.Context, fingerprint string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ie, ok := db.index[fingerprint]
	if !ok {
		return nil
	}
	_ = os.Remove(ie.FilePath)
	delete(db.index, fingerprint)

	if err := db.saveIndex(); err != nil {
		return fmt.Errorf("%w: save index: %v", ttypes.ErrCacheIO, err)
	}
	return nil
}

// List returns metadata for every indexed entry, oldest first.
func (db *DiskBackend) List(_ context.Context) ([]Info, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	infos := make([]Info, 0, len(db.index))
	for _, ie := range db.index {
		infos = append(infos, Info{
			Fingerprint: ie.Fingerprint,
			CreatedAt:   ie.CreatedAt,
			Size:        ie.OriginalSize,
			Meta:        Meta{Locale: ttypes.Locale(ie.Locale), VoiceID: ie.VoiceID, Source: ie.Source},
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos, nil
}

// Clear removes all entries from the disk.
func (db *DiskBackend) Clear(_ context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, ie := range db.index {
		_ = os.Remove(ie.FilePath)
	}
	db.index = make(map[string]*diskIndexEntry)

	return db.saveIndex()
}

// Close flushes the index and releases the codecs.
func (db *DiskBackend) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	err := db.saveIndex()
	if db.encoder != nil {
		_ = db.encoder.Close()
	}
	db.decoder.Close()
	return err
}

// DiskUsage returns the bytes the payload files occupy on disk.
func (db *DiskBackend) DiskUsage() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	var total int64
	for _, ie := range db.index {
		total += ie.Size
	}
	return total
}

// discard drops a corrupted entry (must be called with lock held).
func (db *DiskBackend) discard(ie *diskIndexEntry) {
	_ = os.Remove(ie.FilePath)
	delete(db.index, ie.Fingerprint)
	_ = db.saveIndex()
}

func (ie *diskIndexEntry) entry(data []byte) Entry {
	return Entry{
		Fingerprint: ie.Fingerprint,
		Payload: ttypes.AudioPayload{
			Data:       data,
			Format:     ttypes.AudioFormat(ie.Format),
			SampleRate: ie.SampleRate,
			Channels:   ie.Channels,
		},
		CreatedAt: ie.CreatedAt,
		Meta:      Meta{Locale: ttypes.Locale(ie.Locale), VoiceID: ie.VoiceID, Source: ie.Source},
		Checksum:  ie.Checksum,
	}
}

func (db *DiskBackend) loadIndex() error {
	file, err := os.Open(filepath.Join(db.basePath, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&db.index)
}

func (db *DiskBackend) saveIndex() error {
	indexPath := filepath.Join(db.basePath, indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(db.index)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}

// writeFileAtomic writes to a temp file first, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}
