package cache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

func pcmEntry(fp string) Entry {
	// Highly compressible: a repeated PCM pattern well above the 1KB threshold.
	data := bytes.Repeat([]byte{0x00, 0x10, 0x00, 0xF0}, 2048)
	return Entry{
		Fingerprint: fp,
		Payload:     ttypes.AudioPayload{Data: data, Format: ttypes.FormatPCM, SampleRate: 24000, Channels: 1},
		CreatedAt:   time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC),
		Meta:        Meta{Locale: ttypes.LocaleViVN, VoiceID: "vi-VN-HoaiMyNeural", Source: "azure"},
		Checksum:    checksum(data),
	}
}

func TestDiskBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewDiskBackend(dir, 3)
	if err != nil {
		t.Fatalf("NewDiskBackend failed: %v", err)
	}
	want := pcmEntry("fp")
	if err := b.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if b.DiskUsage() >= want.Size() {
		t.Errorf("expected compression: disk %d >= raw %d", b.DiskUsage(), want.Size())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b2, err := NewDiskBackend(dir, 3)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b2.Close()

	got, err := b2.Load(ctx, "fp")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !bytes.Equal(got.Payload.Data, want.Payload.Data) {
		t.Error("payload mismatch after reopen")
	}
	if got.Payload.SampleRate != 24000 || got.Payload.Format != ttypes.FormatPCM {
		t.Errorf("payload format not preserved: %+v", got.Payload)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || got.Locale != ttypes.LocaleViVN {
		t.Errorf("metadata not preserved: %+v", got)
	}

	infos, _ := b2.List(ctx)
	if len(infos) != 1 || infos[0].Size != want.Size() {
		t.Errorf("List = %+v", infos)
	}
}

func TestDiskBackend_CorruptedFile(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		level int
	}{
		{"compressed", 3},
		{"uncompressed", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewDiskBackend(t.TempDir(), tt.level)
			if err != nil {
				t.Fatalf("NewDiskBackend failed: %v", err)
			}
			defer b.Close()

			_ = b.Save(ctx, pcmEntry("fp"))

			path := b.index["fp"].FilePath
			if err := os.WriteFile(path, []byte("garbage that is not audio"), 0o644); err != nil {
				t.Fatal(err)
			}

			if _, err := b.Load(ctx, "fp"); !errors.Is(err, ttypes.ErrCacheCorrupted) {
				t.Fatalf("expected ErrCacheCorrupted, got %v", err)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("corrupted file should be removed")
			}
			if _, err := b.Load(ctx, "fp"); !errors.Is(err, ErrNotFound) {
				t.Errorf("second load should be not found, got %v", err)
			}
		})
	}
}

func TestDiskBackend_MissingFile(t *testing.T) {
	ctx := context.Background()
	b, _ := NewDiskBackend(t.TempDir(), 0)
	defer b.Close()

	_ = b.Save(ctx, pcmEntry("fp"))
	_ = os.Remove(b.index["fp"].FilePath)

	if _, err := b.Load(ctx, "fp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDiskBackend_ClearAndDelete(t *testing.T) {
	ctx := context.Background()
	b, _ := NewDiskBackend(t.TempDir(), 3)
	defer b.Close()

	_ = b.Save(ctx, pcmEntry("a"))
	_ = b.Save(ctx, pcmEntry("b"))

	if err := b.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	infos, _ := b.List(ctx)
	if len(infos) != 1 {
		t.Fatalf("List after delete = %d entries", len(infos))
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	infos, _ = b.List(ctx)
	if len(infos) != 0 {
		t.Errorf("List after clear = %d entries", len(infos))
	}
}

func TestStore_WithDiskBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Config{Backend: BackendDisk, Dir: dir, MaxEntries: 5, CompressionLevel: 3}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = s.Put(ctx, "fp", mp3("persisted"), Meta{Locale: ttypes.LocaleEnUS})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(ctx, Config{Backend: BackendDisk, Dir: dir, MaxEntries: 5, CompressionLevel: 3}, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	e, ok := s2.Get(ctx, "fp")
	if !ok {
		t.Fatal("entry should survive reopen")
	}
	if string(e.Payload.Data) != "persisted" {
		t.Errorf("payload = %q", e.Payload.Data)
	}
}
