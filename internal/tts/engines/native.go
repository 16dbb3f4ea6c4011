package engines

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"sync"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// NativeConfig holds configuration for the OS speech engine.
type NativeConfig struct {
	Priority int
}

// NativeEngine implements ttypes.Provider on the platform speech command:
// say on macOS, spd-say (speech-dispatcher) on Linux. Play-only.
type NativeEngine struct {
	playOnly

	priority int
	catalog  *Catalog
	goos     string

	start func(ctx context.Context, name string, args ...string) (ttypes.Utterance, error)

	availOnce sync.Once
	binary    string
}

// NewNativeEngine creates the engine for the running OS.
func NewNativeEngine(config NativeConfig, catalog *Catalog) *NativeEngine {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &NativeEngine{
		priority: config.Priority,
		catalog:  catalog,
		goos:     runtime.GOOS,
		start:    startProcessUtterance,
	}
}

// Descriptor returns the adapter's static configuration.
func (e *NativeEngine) Descriptor() ttypes.ProviderDescriptor {
	return ttypes.ProviderDescriptor{
		Name:     ProviderNative,
		Priority: e.priority,
		Capabilities: ttypes.Capabilities{
			Locales:     allLocales,
			RateRange:   ttypes.Range{Min: 0.5, Max: 2.0},
			VolumeRange: ttypes.Range{Min: 0, Max: 1},
		},
	}
}

// IsAvailable reports whether the platform command exists.
func (e *NativeEngine) IsAvailable(context.Context) bool {
	e.availOnce.Do(func() {
		var candidates []string
		switch e.goos {
		case "darwin":
			candidates = []string{"say"}
		case "linux", "freebsd":
			candidates = []string{"spd-say"}
		}
		if len(candidates) == 0 {
			return
		}
		if path, err := lookPath(candidates...); err == nil {
			e.binary = path
		}
	})
	return e.binary != ""
}

// Speak starts the platform command.
func (e *NativeEngine) Speak(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.Utterance, error) {
	if !e.IsAvailable(ctx) {
		return nil, ttypes.ErrProviderUnavailable
	}
	if req.Text == "" {
		return nil, ttypes.ErrEmptyText
	}

	voice, ok := e.catalog.Resolve(ProviderNative, req.Locale, req.VoiceID)
	if !ok {
		return nil, fmt.Errorf("native: locale %s: %w", req.Locale, ttypes.ErrUnsupported)
	}

	return e.start(ctx, e.binary, nativeArgs(e.goos, req, voice.ID)...)
}

// nativeArgs builds the command line. say takes words per minute (default
// about 175); spd-say takes rate and volume as -100..100 offsets and the
// bare language code.
func nativeArgs(goos string, req ttypes.SynthesisRequest, voice string) []string {
	r := req.Rate
	if r == 0 {
		r = ttypes.NormalRate
	}

	if goos == "darwin" {
		return []string{"-v", voice, "-r", strconv.Itoa(int(math.Round(175 * r))), req.Text}
	}

	rate := max(-100, min(100, int(math.Round((r-1)*100))))
	volume := max(-100, min(100, int(math.Round(req.Volume*200-100))))
	return []string{
		"-w",
		"-l", req.Locale.Language(),
		"-r", strconv.Itoa(rate),
		"-i", strconv.Itoa(volume),
		"--", req.Text,
	}
}

// Close releases resources held by the engine.
func (e *NativeEngine) Close() error {
	return nil
}

var _ ttypes.Provider = (*NativeEngine)(nil)
