package engines

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// ESpeakConfig holds configuration for the eSpeak NG engine.
type ESpeakConfig struct {
	// Binary overrides the espeak-ng/espeak lookup
	Binary   string
	Priority int
}

// ESpeakEngine implements ttypes.Provider using eSpeak NG. It speaks
// through the OS audio stack and cannot return bytes. Offline, robotic,
// but always there as the last link of the chain.
type ESpeakEngine struct {
	playOnly

	binary   string
	priority int
	catalog  *Catalog

	// start is swapped in tests
	start func(ctx context.Context, name string, args ...string) (ttypes.Utterance, error)

	availOnce sync.Once
	available bool
}

// NewESpeakEngine creates a new eSpeak engine.
func NewESpeakEngine(config ESpeakConfig, catalog *Catalog) *ESpeakEngine {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &ESpeakEngine{
		binary:   config.Binary,
		priority: config.Priority,
		catalog:  catalog,
		start:    startProcessUtterance,
	}
}

// Descriptor returns the adapter's static configuration.
func (e *ESpeakEngine) Descriptor() ttypes.ProviderDescriptor {
	return ttypes.ProviderDescriptor{
		Name:     ProviderESpeak,
		Priority: e.priority,
		Capabilities: ttypes.Capabilities{
			Locales:     allLocales,
			RateRange:   ttypes.Range{Min: 0.5, Max: 2.5},
			PitchRange:  ttypes.Range{Min: -20, Max: 20},
			VolumeRange: ttypes.Range{Min: 0, Max: 1},
		},
	}
}

// IsAvailable reports whether espeak-ng or espeak is installed.
func (e *ESpeakEngine) IsAvailable(context.Context) bool {
	e.availOnce.Do(func() {
		if e.binary != "" {
			e.available = true
			return
		}
		path, err := lookPath("espeak-ng", "espeak")
		if err == nil {
			e.binary = path
			e.available = true
		}
	})
	return e.available
}

// Speak starts speaking the request and returns once the process is running.
func (e *ESpeakEngine) Speak(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.Utterance, error) {
	if !e.IsAvailable(ctx) {
		return nil, ttypes.ErrProviderUnavailable
	}
	if req.Text == "" {
		return nil, ttypes.ErrEmptyText
	}

	voice, ok := e.catalog.Resolve(ProviderESpeak, req.Locale, req.VoiceID)
	if !ok {
		return nil, fmt.Errorf("espeak: locale %s: %w", req.Locale, ttypes.ErrUnsupported)
	}

	return e.start(ctx, e.binary, espeakArgs(req, voice.ID)...)
}

// espeakArgs maps the request onto eSpeak flags: words per minute around
// 175, pitch 0-99 around 50 and amplitude 0-200 around 100.
func espeakArgs(req ttypes.SynthesisRequest, voice string) []string {
	r := req.Rate
	if r == 0 {
		r = ttypes.NormalRate
	}
	wpm := int(math.Round(175 * r))
	pitch := int(math.Round(50 + 2.5*req.Pitch))
	pitch = max(0, min(99, pitch))
	amplitude := int(math.Round(100 * req.Volume))

	return []string{
		"-v", voice,
		"-s", strconv.Itoa(wpm),
		"-p", strconv.Itoa(pitch),
		"-a", strconv.Itoa(amplitude),
		"--", req.Text,
	}
}

// Close releases resources held by the engine.
func (e *ESpeakEngine) Close() error {
	return nil
}

// startProcessUtterance adapts startUtterance to the ttypes.Utterance return.
func startProcessUtterance(ctx context.Context, name string, args ...string) (ttypes.Utterance, error) {
	u, err := startUtterance(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return u, nil
}

var _ ttypes.Provider = (*ESpeakEngine)(nil)
