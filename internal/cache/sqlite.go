package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// SQLiteBackend keeps entries in a single SQLite database file.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS audio_cache (
    fingerprint TEXT PRIMARY KEY,
    payload BLOB NOT NULL,
    format TEXT NOT NULL,
    sample_rate INTEGER NOT NULL DEFAULT 0,
    channels INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    locale TEXT,
    voice_id TEXT,
    source TEXT,
    checksum TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audio_cache_created ON audio_cache(created_at);
`
	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Load reads and verifies an entry.
func (b *SQLiteBackend) Load(ctx context.Context, fingerprint string) (Entry, error) {
	var (
		e         Entry
		format    string
		locale    sql.NullString
		voiceID   sql.NullString
		source    sql.NullString
		createdAt int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT fingerprint, payload, format, sample_rate, channels, created_at, locale, voice_id, source, checksum
		 FROM audio_cache WHERE fingerprint = ?`, fingerprint).
		Scan(&e.Fingerprint, &e.Payload.Data, &format, &e.Payload.SampleRate, &e.Payload.Channels,
			&createdAt, &locale, &voiceID, &source, &e.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ttypes.ErrCacheIO, err)
	}

	e.Payload.Format = ttypes.AudioFormat(format)
	e.CreatedAt = time.Unix(0, createdAt)
	e.Locale = ttypes.Locale(locale.String)
	e.VoiceID = voiceID.String
	e.Source = source.String

	if err := e.Verify(); err != nil {
		_ = b.Delete(ctx, fingerprint)
		return Entry{}, err
	}
	return e, nil
}

// Save upserts an entry.
func (b *SQLiteBackend) Save(ctx context.Context, e Entry) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO audio_cache(fingerprint, payload, format, sample_rate, channels, created_at, locale, voice_id, source, checksum)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   payload=excluded.payload, format=excluded.format, sample_rate=excluded.sample_rate,
		   channels=excluded.channels, created_at=excluded.created_at, locale=excluded.locale,
		   voice_id=excluded.voice_id, source=excluded.source, checksum=excluded.checksum`,
		e.Fingerprint, e.Payload.Data, string(e.Payload.Format), e.Payload.SampleRate, e.Payload.Channels,
		e.CreatedAt.UnixNano(), string(e.Locale), e.VoiceID, e.Source, e.Checksum)
	if err != nil {
		return fmt.Errorf("%w: %v", ttypes.ErrCacheIO, err)
	}
	return nil
}

// Delete removes an entry. Missing entries are ignored.
func (b *SQLiteBackend) Delete(ctx context.Context, fingerprint string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM audio_cache WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("%w: %v", ttypes.ErrCacheIO, err)
	}
	return nil
}

// List returns metadata for every entry, oldest first.
func (b *SQLiteBackend) List(ctx context.Context) ([]Info, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT fingerprint, created_at, length(payload), locale, voice_id, source
		 FROM audio_cache ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ttypes.ErrCacheIO, err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info      Info
			createdAt int64
			locale    sql.NullString
			voiceID   sql.NullString
			source    sql.NullString
		)
		if err := rows.Scan(&info.Fingerprint, &createdAt, &info.Size, &locale, &voiceID, &source); err != nil {
			return nil, fmt.Errorf("%w: %v", ttypes.ErrCacheIO, err)
		}
		info.CreatedAt = time.Unix(0, createdAt)
		info.Locale = ttypes.Locale(locale.String)
		info.VoiceID = voiceID.String
		info.Source = source.String
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Clear removes every entry and compacts the file.
func (b *SQLiteBackend) Clear(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM audio_cache`); err != nil {
		return fmt.Errorf("%w: %v", ttypes.ErrCacheIO, err)
	}
	_, _ = b.db.ExecContext(ctx, "VACUUM")
	return nil
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
