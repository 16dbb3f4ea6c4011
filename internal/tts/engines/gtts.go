package engines

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// GTTSEngine implements ttypes.Provider using gTTS (Google Translate TTS).
// gtts-cli writes MP3 to stdout; the bytes are returned as-is and decoded
// at playback. Free, but needs a network connection and no API key.
type GTTSEngine struct {
	bytesOnly

	binary   string
	priority int
	timeout  time.Duration
	catalog  *Catalog

	// Rate limiting to avoid being blocked by Google
	rateLimiter *rate.Limiter

	// run is swapped in tests
	run func(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)

	availOnce sync.Once
	available bool
}

// GTTSConfig holds configuration for the gTTS engine.
type GTTSConfig struct {
	// Binary is the gtts-cli executable (default "gtts-cli")
	Binary string

	// Priority in the fallback chain
	Priority int

	// Timeout per request (default 30s)
	Timeout time.Duration

	// Rate limit requests per minute to avoid being blocked (defaults to 50)
	RequestsPerMinute int
}

// NewGTTSEngine creates a new gTTS engine.
func NewGTTSEngine(config GTTSConfig, catalog *Catalog) *GTTSEngine {
	if config.Binary == "" {
		config.Binary = "gtts-cli"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerMinute == 0 {
		config.RequestsPerMinute = 50 // Conservative default
	}
	if catalog == nil {
		catalog = NewCatalog()
	}

	return &GTTSEngine{
		binary:      config.Binary,
		priority:    config.Priority,
		timeout:     config.Timeout,
		catalog:     catalog,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
		run:         runCommand,
	}
}

// Descriptor returns the adapter's static configuration.
func (e *GTTSEngine) Descriptor() ttypes.ProviderDescriptor {
	return ttypes.ProviderDescriptor{
		Name:     ProviderGTTS,
		Priority: e.priority,
		Capabilities: ttypes.Capabilities{
			ReturnsBytes:    true,
			RequiresNetwork: true,
			Locales:         allLocales,
			// gTTS only knows normal and slow speed
			RateRange:   ttypes.Range{Min: 0.5, Max: 1.0},
			VolumeRange: ttypes.Range{Min: 0, Max: 1},
		},
	}
}

// IsAvailable reports whether gtts-cli is installed.
func (e *GTTSEngine) IsAvailable(context.Context) bool {
	e.availOnce.Do(func() {
		_, err := exec.LookPath(e.binary)
		e.available = err == nil
	})
	return e.available
}

// Synthesize converts text to MP3 using gtts-cli.
func (e *GTTSEngine) Synthesize(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.AudioPayload, error) {
	if req.Text == "" {
		return ttypes.AudioPayload{}, ttypes.ErrEmptyText
	}

	// Text size limit (Google has limits on text length)
	const maxTextSize = 5000
	if len(req.Text) > maxTextSize {
		return ttypes.AudioPayload{}, fmt.Errorf("text too long: %d bytes (max %d)", len(req.Text), maxTextSize)
	}

	voice, ok := e.catalog.Resolve(ProviderGTTS, req.Locale, req.VoiceID)
	if !ok {
		return ttypes.AudioPayload{}, fmt.Errorf("gtts: locale %s: %w", req.Locale, ttypes.ErrUnsupported)
	}

	if err := e.rateLimiter.Wait(ctx); err != nil {
		return ttypes.AudioPayload{}, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	args := []string{req.Text, "-l", voice.ID}
	if req.Rate < 0.75 {
		args = append(args, "--slow")
	}
	args = append(args, "-o", "-")

	mp3Data, err := e.run(ctx, e.timeout, e.binary, args...)
	if err != nil {
		return ttypes.AudioPayload{}, err
	}
	if len(mp3Data) == 0 {
		return ttypes.AudioPayload{}, errors.New("gtts-cli produced no MP3 output")
	}

	// Sanity check: MP3 shouldn't be too large
	const maxMP3Size = 50 * 1024 * 1024
	if len(mp3Data) > maxMP3Size {
		return ttypes.AudioPayload{}, fmt.Errorf("gtts-cli MP3 output too large: %d bytes (max %d)", len(mp3Data), maxMP3Size)
	}

	return ttypes.AudioPayload{Data: mp3Data, Format: ttypes.FormatMP3}, nil
}

// Close releases resources held by the engine.
func (e *GTTSEngine) Close() error {
	return nil
}

var _ ttypes.Provider = (*GTTSEngine)(nil)
