package speech

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dacbuione/chinese-learning-sub000/internal/audio"
	"github.com/dacbuione/chinese-learning-sub000/internal/cache"
	"github.com/dacbuione/chinese-learning-sub000/internal/config"
	"github.com/dacbuione/chinese-learning-sub000/internal/metrics"
	"github.com/dacbuione/chinese-learning-sub000/internal/stt"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts/engines"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Needs selects the optional components Build opens. Synthesis and the
// cache are always built.
type Needs struct {
	Playback    bool // open the audio device
	Recognition bool // set up the recognizer and microphone
}

// Build assembles a Core from configuration. Providers that cannot be
// constructed (missing credentials) are left out of the chain with a
// warning; a cache that cannot be opened disables caching. A playback
// device that cannot be opened is an error when playback is needed.
func Build(ctx context.Context, cfg config.Config, needs Needs, logger *log.Logger) (*Core, error) {
	if logger == nil {
		logger = log.Default()
	}

	// component loggers copy the level when derived, so keep them for
	// Core.SetLogLevel
	var derived []*log.Logger
	prefixed := func(prefix string) *log.Logger {
		l := logger.WithPrefix(prefix)
		derived = append(derived, l)
		return l
	}
	ttsLog := prefixed("tts")

	catalog := engines.NewCatalog()
	providers := buildProviders(ctx, cfg, catalog, logger)
	chain := engines.NewChain(providers, engines.ChainConfig{
		MaxFailures: cfg.Synthesis.MaxFailures,
		Cooldown:    cfg.Synthesis.Cooldown,
	}, ttsLog)

	store, err := cache.Open(ctx, cfg.Cache, prefixed("cache"))
	if err != nil {
		logger.Warn("Cache unavailable, synthesizing live", "backend", cfg.Cache.Backend, "err", err)
		store = nil
	}

	orch := tts.NewOrchestrator(chain, store, tts.Config{
		ProviderTimeout: cfg.Synthesis.ProviderTimeout,
	}, ttsLog)

	parts := Parts{
		Synthesis: orch,
		Scorer:    stt.Scorer{Threshold: cfg.Recognition.PassThreshold},
		Metrics:   metrics.New(),
		Logger:    prefixed("speech"),
	}

	if needs.Playback {
		device, err := openDevice(cfg.Playback)
		if err != nil {
			_ = orch.Close()
			return nil, ttypes.NewSpeechError(fmt.Errorf("%w: %v", ttypes.ErrPlaybackDevice, err), "speech", "open device")
		}
		parts.Player = audio.NewManager(device, audio.Config{
			ProgressInterval: cfg.Playback.ProgressInterval,
			RateRange:        ttypes.Range{Min: cfg.Playback.MinRate, Max: cfg.Playback.MaxRate},
			MaxDownloadBytes: cfg.Playback.MaxDownloadBytes,
		}, prefixed("audio"))
	}

	if needs.Recognition {
		sttLog := prefixed("stt")
		parts.Recognition = stt.NewManager(
			buildRecognizer(cfg, sttLog),
			stt.NewMalgoMicrophone(sttLog),
			stt.Config{
				Grace:           cfg.Recognition.Grace,
				PartialPenalty:  cfg.Recognition.PartialPenalty,
				DefaultDuration: cfg.Recognition.DefaultDuration,
				SampleRate:      cfg.Recognition.SampleRate,
			},
			sttLog,
		)
	}

	parts.Loggers = derived
	return New(parts), nil
}

func buildProviders(ctx context.Context, cfg config.Config, catalog *engines.Catalog, logger *log.Logger) []ttypes.Provider {
	prio := cfg.Priorities()
	var providers []ttypes.Provider

	if cfg.Google.Enabled {
		gc := cfg.Google.GoogleConfig
		gc.Priority = prio[engines.ProviderGoogle]
		if e, err := engines.NewGoogleEngine(ctx, gc, catalog); err != nil {
			logger.Warn("Google TTS disabled", "err", err)
		} else {
			providers = append(providers, e)
		}
	}

	if cfg.Azure.Enabled {
		if cfg.Azure.Key == "" || (cfg.Azure.Region == "" && cfg.Azure.Endpoint == "") {
			logger.Debug("Azure TTS disabled, no key or region")
		} else {
			ac := cfg.Azure.AzureConfig
			ac.Priority = prio[engines.ProviderAzure]
			providers = append(providers, engines.NewAzureEngine(ac, catalog))
		}
	}

	if cfg.GTTS.Enabled {
		gc := cfg.GTTS.GTTSConfig
		gc.Priority = prio[engines.ProviderGTTS]
		providers = append(providers, engines.NewGTTSEngine(gc, catalog))
	}

	if cfg.ESpeak.Enabled {
		ec := cfg.ESpeak.ESpeakConfig
		ec.Priority = prio[engines.ProviderESpeak]
		providers = append(providers, engines.NewESpeakEngine(ec, catalog))
	}

	if cfg.Native.Enabled {
		nc := cfg.Native.NativeConfig
		nc.Priority = prio[engines.ProviderNative]
		providers = append(providers, engines.NewNativeEngine(nc, catalog))
	}

	return providers
}

func openDevice(pc config.PlaybackConfig) (audio.Device, error) {
	if pc.Device == config.DeviceMock {
		return audio.NewMockDevice(pc.SampleRate), nil
	}
	return audio.NewOtoDevice(audio.DeviceConfig{
		SampleRate: pc.SampleRate,
		Channels:   pc.Channels,
		BitDepth:   16,
		BufferSize: pc.BufferSize,
	})
}

func buildRecognizer(cfg config.Config, logger *log.Logger) stt.Recognizer {
	switch cfg.Recognition.Backend {
	case config.RecognizerDeepgram:
		return stt.NewStreamingRecognizer(cfg.Deepgram, logger)
	case config.RecognizerWhisper:
		return stt.NewWhisperRecognizer(cfg.Whisper, logger)
	default:
		return disabledRecognizer{}
	}
}

// disabledRecognizer stands in when recognition is configured off, so
// attempts fail fast with ErrRecognizerUnavailable.
type disabledRecognizer struct{}

func (disabledRecognizer) Name() string { return config.RecognizerNone }
func (disabledRecognizer) IsAvailable(context.Context) bool { return false }

func (disabledRecognizer) Recognize(context.Context, ttypes.RecognitionConfig, stt.Capture) (stt.Stream, error) {
	return nil, ttypes.ErrRecognizerUnavailable
}
