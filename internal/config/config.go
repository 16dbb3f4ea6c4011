package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dacbuione/chinese-learning-sub000/internal/cache"
	"github.com/dacbuione/chinese-learning-sub000/internal/stt"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts/engines"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Playback output devices.
const (
	DeviceOto  = "oto"
	DeviceMock = "mock" // silent, for headless machines and CI
)

// Recognition backends.
const (
	RecognizerDeepgram = "deepgram"
	RecognizerWhisper  = "whisper"
	RecognizerNone     = "none"
)

// Config holds the complete speech configuration.
type Config struct {
	LogLevel string

	Cache       cache.Config
	Synthesis   SynthesisConfig
	Google      GoogleConfig
	Azure       AzureConfig
	GTTS        GTTSConfig
	ESpeak      ESpeakConfig
	Native      NativeConfig
	Playback    PlaybackConfig
	Recognition RecognitionConfig
	Whisper     stt.WhisperConfig
	Deepgram    stt.StreamingConfig
	Metrics     MetricsConfig

	// Secrets come from the environment only, never from the file.
	Secrets Secrets
}

// SynthesisConfig controls the orchestrator and its fallback chain.
type SynthesisConfig struct {
	// Order lists provider names in fallback order. When set it overrides
	// the per-provider priorities.
	Order []string

	Locale          ttypes.Locale
	Markup          bool
	ProviderTimeout time.Duration
	MaxFailures     int
	Cooldown        time.Duration
}

// GoogleConfig enables the Google Cloud adapter.
type GoogleConfig struct {
	Enabled bool
	engines.GoogleConfig
}

// AzureConfig enables the Azure Speech adapter.
type AzureConfig struct {
	Enabled bool
	engines.AzureConfig
}

// GTTSConfig enables the gTTS adapter.
type GTTSConfig struct {
	Enabled bool
	engines.GTTSConfig
}

// ESpeakConfig enables the eSpeak adapter.
type ESpeakConfig struct {
	Enabled bool
	engines.ESpeakConfig
}

// NativeConfig enables the OS voice adapter.
type NativeConfig struct {
	Enabled bool
	engines.NativeConfig
}

// PlaybackConfig holds playback manager and device settings.
type PlaybackConfig struct {
	Device           string
	ProgressInterval time.Duration
	MinRate          float64
	MaxRate          float64
	SampleRate       int
	Channels         int
	BufferSize       int
	MaxDownloadBytes int64
}

// RecognitionConfig holds recognition manager and scoring settings.
type RecognitionConfig struct {
	Backend         string
	Grace           time.Duration
	DefaultDuration time.Duration
	PartialPenalty  float64
	SampleRate      int
	PassThreshold   float64
}

// MetricsConfig holds the Prometheus listener.
type MetricsConfig struct {
	Addr string // empty disables the listener
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Cache:    cache.DefaultConfig(),
		Synthesis: SynthesisConfig{
			Locale:          ttypes.DefaultLocale,
			Markup:          true,
			ProviderTimeout: 20 * time.Second,
			MaxFailures:     3,
			Cooldown:        30 * time.Second,
		},
		Google: GoogleConfig{Enabled: true, GoogleConfig: engines.GoogleConfig{Priority: 10, Timeout: 15 * time.Second}},
		Azure: AzureConfig{Enabled: true, AzureConfig: engines.AzureConfig{
			Priority:          20,
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
		}},
		GTTS: GTTSConfig{Enabled: true, GTTSConfig: engines.GTTSConfig{
			Binary:            "gtts-cli",
			Priority:          30,
			Timeout:           30 * time.Second,
			RequestsPerMinute: 50,
		}},
		ESpeak: ESpeakConfig{Enabled: true, ESpeakConfig: engines.ESpeakConfig{Priority: 40}},
		Native: NativeConfig{Enabled: true, NativeConfig: engines.NativeConfig{Priority: 50}},
		Playback: PlaybackConfig{
			Device:           DeviceOto,
			ProgressInterval: 100 * time.Millisecond,
			MinRate:          0.5,
			MaxRate:          2.0,
			SampleRate:       44100,
			Channels:         2,
			BufferSize:       8192,
			MaxDownloadBytes: 20 << 20,
		},
		Recognition: RecognitionConfig{
			Backend:         RecognizerDeepgram,
			Grace:           250 * time.Millisecond,
			DefaultDuration: 5 * time.Second,
			PartialPenalty:  0.5,
			SampleRate:      16000,
			PassThreshold:   stt.DefaultPassThreshold,
		},
		Whisper: stt.WhisperConfig{Binary: "whisper-cli"},
		Deepgram: stt.StreamingConfig{
			Endpoint:    stt.DefaultStreamingEndpoint,
			Model:       "nova-2",
			DialTimeout: 10 * time.Second,
		},
	}
}

// knownProviders are the names accepted in synthesis.order.
var knownProviders = map[string]bool{
	engines.ProviderGoogle: true,
	engines.ProviderAzure:  true,
	engines.ProviderGTTS:   true,
	engines.ProviderESpeak: true,
	engines.ProviderNative: true,
}

// Validate rejects values no component can run with. Request parameters
// such as rate and volume are clamped at use and are not checked here.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Cache.Backend {
	case cache.BackendDisk, cache.BackendSQLite, cache.BackendMemory:
	default:
		add("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Cache.MaxEntries <= 0 {
		add("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.TTL < 0 {
		add("cache.ttl must not be negative")
	}
	if c.Cache.MemoryCapacity < 0 {
		add("cache.memory_capacity must not be negative")
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		add("cache.compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel)
	}

	if c.Synthesis.Locale != "" && !c.Synthesis.Locale.Supported() {
		add("synthesis.locale: unsupported locale %q", c.Synthesis.Locale)
	}
	seen := make(map[string]bool)
	for _, name := range c.Synthesis.Order {
		if !knownProviders[name] {
			add("synthesis.order: unknown provider %q", name)
		}
		if seen[name] {
			add("synthesis.order: provider %q listed twice", name)
		}
		seen[name] = true
	}
	if c.Synthesis.ProviderTimeout < 0 || c.Synthesis.Cooldown < 0 {
		add("synthesis timeouts must not be negative")
	}
	if c.Synthesis.MaxFailures < 0 {
		add("synthesis.max_failures must not be negative")
	}
	if c.GTTS.RequestsPerMinute < 0 || c.Azure.RequestsPerSecond < 0 {
		add("request rates must not be negative")
	}

	switch c.Playback.Device {
	case DeviceOto, DeviceMock:
	default:
		add("playback.device: unknown device %q", c.Playback.Device)
	}
	if c.Playback.ProgressInterval <= 0 {
		add("playback.progress_interval must be positive")
	}
	if c.Playback.MinRate <= 0 || c.Playback.MinRate > c.Playback.MaxRate {
		add("playback rate bounds [%g, %g] are invalid", c.Playback.MinRate, c.Playback.MaxRate)
	}
	if c.Playback.Device == DeviceOto && c.Playback.SampleRate != 44100 && c.Playback.SampleRate != 48000 {
		add("playback.sample_rate must be 44100 or 48000, got %d", c.Playback.SampleRate)
	}
	if c.Playback.MaxDownloadBytes <= 0 {
		add("playback.max_download_bytes must be positive")
	}

	switch c.Recognition.Backend {
	case RecognizerDeepgram, RecognizerWhisper, RecognizerNone:
	default:
		add("recognition.backend: unknown backend %q", c.Recognition.Backend)
	}
	if c.Recognition.Grace < 0 || c.Recognition.DefaultDuration < 0 {
		add("recognition durations must not be negative")
	}
	if c.Recognition.PartialPenalty < 0 || c.Recognition.PartialPenalty > 1 {
		add("recognition.partial_penalty must be within [0, 1], got %g", c.Recognition.PartialPenalty)
	}
	if c.Recognition.PassThreshold < 0 || c.Recognition.PassThreshold > 1 {
		add("recognition.pass_threshold must be within [0, 1], got %g", c.Recognition.PassThreshold)
	}
	if c.Recognition.SampleRate <= 0 {
		add("recognition.sample_rate must be positive")
	}

	return errors.Join(errs...)
}

// Priorities returns the effective chain priority of each provider. An
// explicit synthesis.order wins over the per-provider values.
func (c Config) Priorities() map[string]int {
	p := map[string]int{
		engines.ProviderGoogle: c.Google.Priority,
		engines.ProviderAzure:  c.Azure.Priority,
		engines.ProviderGTTS:   c.GTTS.Priority,
		engines.ProviderESpeak: c.ESpeak.Priority,
		engines.ProviderNative: c.Native.Priority,
	}
	if len(c.Synthesis.Order) == 0 {
		return p
	}
	// unlisted providers keep their relative order after the listed ones
	base := (len(c.Synthesis.Order) + 1) * 10
	for name := range p {
		p[name] += base
	}
	for i, name := range c.Synthesis.Order {
		p[name] = (i + 1) * 10
	}
	return p
}
