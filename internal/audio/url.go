package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// PlayFromURL fetches audio from an http(s) URL, a file:// URL or a plain
// path and plays it on playerID.
func (m *Manager) PlayFromURL(ctx context.Context, playerID, rawURL string, opts Options) (*Session, error) {
	data, err := m.fetch(ctx, rawURL)
	if err != nil {
		return nil, ttypes.NewSpeechError(err, "audio", "fetch")
	}

	payload := ttypes.AudioPayload{Data: data, Format: Sniff(data)}
	return m.PlayFromBytes(ctx, playerID, payload, opts)
}

func (m *Manager) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain path, including Windows drive letters
		return m.readFile(rawURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return m.readFile(filepath.FromSlash(u.Path))
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ttypes.ErrInvalidAudio, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "tingshuo")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: unexpected status %s", resp.Status)
	}
	if resp.ContentLength > m.config.MaxDownloadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit", ttypes.ErrInvalidAudio, resp.ContentLength)
	}

	return m.readLimited(resp.Body)
}

func (m *Manager) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return m.readLimited(f)
}

func (m *Manager) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, m.config.MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if int64(len(data)) > m.config.MaxDownloadBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ttypes.ErrInvalidAudio, m.config.MaxDownloadBytes)
	}
	return data, nil
}
