package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dacbuione/chinese-learning-sub000/internal/cache"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// AppName names the config file, the env prefix and the user directories.
const AppName = "tingshuo"

// New returns a viper instance with defaults and TINGSHUO_* environment
// overrides ("cache.max_entries" reads TINGSHUO_CACHE_MAX_ENTRIES).
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Dirs returns the directories searched for tingshuo.yml, most specific first.
func Dirs() ([]string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("could not find configuration directory: %w", err)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("TINGSHUO_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// DefaultCacheDir is the per-user directory for cached audio.
func DefaultCacheDir() (string, error) {
	return gap.NewScope(gap.User, AppName).CacheDir()
}

// DefaultLogPath is the per-user log file.
func DefaultLogPath() (string, error) {
	return gap.NewScope(gap.User, AppName).LogPath(AppName + ".log")
}

// Read loads file, or the first tingshuo.yml found in Dirs when file is
// empty, into v. It returns the path used; a missing file is not an error
// and leaves the defaults in place.
func Read(v *viper.Viper, file string) (string, error) {
	if file != "" {
		expanded, err := homedir.Expand(file)
		if err != nil {
			return "", err
		}
		v.SetConfigFile(expanded)
	} else {
		dirs, err := Dirs()
		if err != nil {
			return "", err
		}
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("could not parse configuration file: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Load builds a Config from v on top of Default, applies secrets, fills in
// the default cache directory and validates the result.
func Load(v *viper.Viper, secrets Secrets) (Config, error) {
	cfg := Default()
	l := &loader{v: v}

	l.str("log_level", &cfg.LogLevel)
	loadCache(l, &cfg)
	loadSynthesis(l, &cfg)
	loadProviders(l, &cfg)
	loadPlayback(l, &cfg)
	loadRecognition(l, &cfg)
	l.str("metrics.addr", &cfg.Metrics.Addr)

	if err := errors.Join(l.errs...); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Secrets = secrets
	secrets.apply(&cfg)

	if cfg.Cache.Dir == "" && cfg.Cache.Backend != cache.BackendMemory {
		dir, err := DefaultCacheDir()
		if err != nil {
			return cfg, fmt.Errorf("could not find cache directory: %w", err)
		}
		cfg.Cache.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadCache(l *loader, cfg *Config) {
	l.str("cache.backend", &cfg.Cache.Backend)
	l.path("cache.dir", &cfg.Cache.Dir)
	l.integer("cache.max_entries", &cfg.Cache.MaxEntries)
	l.duration("cache.ttl", &cfg.Cache.TTL)
	l.int64("cache.memory_capacity", &cfg.Cache.MemoryCapacity)
	l.integer("cache.compression_level", &cfg.Cache.CompressionLevel)
}

func loadSynthesis(l *loader, cfg *Config) {
	l.strings("synthesis.order", &cfg.Synthesis.Order)
	if l.v.IsSet("synthesis.locale") {
		cfg.Synthesis.Locale = ttypes.Locale(l.v.GetString("synthesis.locale"))
	}
	l.boolean("synthesis.markup", &cfg.Synthesis.Markup)
	l.duration("synthesis.provider_timeout", &cfg.Synthesis.ProviderTimeout)
	l.integer("synthesis.max_failures", &cfg.Synthesis.MaxFailures)
	l.duration("synthesis.cooldown", &cfg.Synthesis.Cooldown)
}

func loadProviders(l *loader, cfg *Config) {
	l.boolean("google.enabled", &cfg.Google.Enabled)
	l.integer("google.priority", &cfg.Google.Priority)
	l.path("google.credentials_file", &cfg.Google.CredentialsFile)
	l.duration("google.timeout", &cfg.Google.Timeout)

	l.boolean("azure.enabled", &cfg.Azure.Enabled)
	l.integer("azure.priority", &cfg.Azure.Priority)
	l.str("azure.region", &cfg.Azure.Region)
	l.str("azure.endpoint", &cfg.Azure.Endpoint)
	l.duration("azure.timeout", &cfg.Azure.Timeout)
	l.float("azure.requests_per_second", &cfg.Azure.RequestsPerSecond)

	l.boolean("gtts.enabled", &cfg.GTTS.Enabled)
	l.integer("gtts.priority", &cfg.GTTS.Priority)
	l.path("gtts.binary", &cfg.GTTS.Binary)
	l.duration("gtts.timeout", &cfg.GTTS.Timeout)
	l.integer("gtts.requests_per_minute", &cfg.GTTS.RequestsPerMinute)

	l.boolean("espeak.enabled", &cfg.ESpeak.Enabled)
	l.integer("espeak.priority", &cfg.ESpeak.Priority)
	l.path("espeak.binary", &cfg.ESpeak.Binary)

	l.boolean("native.enabled", &cfg.Native.Enabled)
	l.integer("native.priority", &cfg.Native.Priority)
}

func loadPlayback(l *loader, cfg *Config) {
	l.str("playback.device", &cfg.Playback.Device)
	l.duration("playback.progress_interval", &cfg.Playback.ProgressInterval)
	l.float("playback.min_rate", &cfg.Playback.MinRate)
	l.float("playback.max_rate", &cfg.Playback.MaxRate)
	l.integer("playback.sample_rate", &cfg.Playback.SampleRate)
	l.integer("playback.channels", &cfg.Playback.Channels)
	l.integer("playback.buffer_size", &cfg.Playback.BufferSize)
	l.int64("playback.max_download_bytes", &cfg.Playback.MaxDownloadBytes)
}

func loadRecognition(l *loader, cfg *Config) {
	l.str("recognition.backend", &cfg.Recognition.Backend)
	l.duration("recognition.grace", &cfg.Recognition.Grace)
	l.duration("recognition.default_duration", &cfg.Recognition.DefaultDuration)
	l.float("recognition.partial_penalty", &cfg.Recognition.PartialPenalty)
	l.integer("recognition.sample_rate", &cfg.Recognition.SampleRate)
	l.float("recognition.pass_threshold", &cfg.Recognition.PassThreshold)

	l.path("whisper.binary", &cfg.Whisper.Binary)
	l.path("whisper.model", &cfg.Whisper.Model)
	l.path("whisper.temp_dir", &cfg.Whisper.TempDir)
	l.boolean("whisper.verbose", &cfg.Whisper.Verbose)

	l.str("deepgram.endpoint", &cfg.Deepgram.Endpoint)
	l.str("deepgram.model", &cfg.Deepgram.Model)
	l.duration("deepgram.dial_timeout", &cfg.Deepgram.DialTimeout)
}

// SetDefaults registers every default with v so that `tingshuo config`
// and env lookups see the full key set.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.ttl", d.Cache.TTL.String())
	v.SetDefault("cache.memory_capacity", d.Cache.MemoryCapacity)
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)

	v.SetDefault("synthesis.locale", string(d.Synthesis.Locale))
	v.SetDefault("synthesis.markup", d.Synthesis.Markup)
	v.SetDefault("synthesis.provider_timeout", d.Synthesis.ProviderTimeout.String())
	v.SetDefault("synthesis.max_failures", d.Synthesis.MaxFailures)
	v.SetDefault("synthesis.cooldown", d.Synthesis.Cooldown.String())

	v.SetDefault("google.enabled", d.Google.Enabled)
	v.SetDefault("google.priority", d.Google.Priority)
	v.SetDefault("google.timeout", d.Google.Timeout.String())
	v.SetDefault("azure.enabled", d.Azure.Enabled)
	v.SetDefault("azure.priority", d.Azure.Priority)
	v.SetDefault("azure.timeout", d.Azure.Timeout.String())
	v.SetDefault("azure.requests_per_second", d.Azure.RequestsPerSecond)
	v.SetDefault("gtts.enabled", d.GTTS.Enabled)
	v.SetDefault("gtts.priority", d.GTTS.Priority)
	v.SetDefault("gtts.binary", d.GTTS.Binary)
	v.SetDefault("gtts.timeout", d.GTTS.Timeout.String())
	v.SetDefault("gtts.requests_per_minute", d.GTTS.RequestsPerMinute)
	v.SetDefault("espeak.enabled", d.ESpeak.Enabled)
	v.SetDefault("espeak.priority", d.ESpeak.Priority)
	v.SetDefault("native.enabled", d.Native.Enabled)
	v.SetDefault("native.priority", d.Native.Priority)

	v.SetDefault("playback.device", d.Playback.Device)
	v.SetDefault("playback.progress_interval", d.Playback.ProgressInterval.String())
	v.SetDefault("playback.min_rate", d.Playback.MinRate)
	v.SetDefault("playback.max_rate", d.Playback.MaxRate)
	v.SetDefault("playback.sample_rate", d.Playback.SampleRate)
	v.SetDefault("playback.channels", d.Playback.Channels)
	v.SetDefault("playback.buffer_size", d.Playback.BufferSize)
	v.SetDefault("playback.max_download_bytes", d.Playback.MaxDownloadBytes)

	v.SetDefault("recognition.backend", d.Recognition.Backend)
	v.SetDefault("recognition.grace", d.Recognition.Grace.String())
	v.SetDefault("recognition.default_duration", d.Recognition.DefaultDuration.String())
	v.SetDefault("recognition.partial_penalty", d.Recognition.PartialPenalty)
	v.SetDefault("recognition.sample_rate", d.Recognition.SampleRate)
	v.SetDefault("recognition.pass_threshold", d.Recognition.PassThreshold)
	v.SetDefault("whisper.binary", d.Whisper.Binary)
	v.SetDefault("deepgram.endpoint", d.Deepgram.Endpoint)
	v.SetDefault("deepgram.model", d.Deepgram.Model)
	v.SetDefault("deepgram.dial_timeout", d.Deepgram.DialTimeout.String())
}

// Watch reloads the configuration whenever the file read into v changes
// and hands the new value to apply. Invalid edits are logged and skipped.
func Watch(v *viper.Viper, secrets Secrets, logger *log.Logger, apply func(Config)) {
	if logger == nil {
		logger = log.WithPrefix("config")
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(v, secrets)
		if err != nil {
			logger.Warn("Ignoring configuration change", "path", e.Name, "err", err)
			return
		}
		logger.Info("Configuration reloaded", "path", e.Name)
		apply(cfg)
	})
	v.WatchConfig()
}

// ParseLevel maps a configured level name to a log level, defaulting to info.
func ParseLevel(name string) log.Level {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// loader reads keys that are set in v over the defaults and collects parse
// errors instead of silently keeping the default.
type loader struct {
	v    *viper.Viper
	errs []error
}

func (l *loader) str(key string, dst *string) {
	if l.v.IsSet(key) {
		*dst = l.v.GetString(key)
	}
}

func (l *loader) path(key string, dst *string) {
	if !l.v.IsSet(key) {
		return
	}
	p, err := homedir.Expand(l.v.GetString(key))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = p
}

func (l *loader) boolean(key string, dst *bool) {
	if l.v.IsSet(key) {
		*dst = l.v.GetBool(key)
	}
}

func (l *loader) integer(key string, dst *int) {
	if l.v.IsSet(key) {
		*dst = l.v.GetInt(key)
	}
}

func (l *loader) int64(key string, dst *int64) {
	if l.v.IsSet(key) {
		*dst = l.v.GetInt64(key)
	}
}

func (l *loader) float(key string, dst *float64) {
	if l.v.IsSet(key) {
		*dst = l.v.GetFloat64(key)
	}
}

func (l *loader) strings(key string, dst *[]string) {
	if l.v.IsSet(key) {
		*dst = l.v.GetStringSlice(key)
	}
}

func (l *loader) duration(key string, dst *time.Duration) {
	if !l.v.IsSet(key) {
		return
	}
	d, err := time.ParseDuration(l.v.GetString(key))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}
