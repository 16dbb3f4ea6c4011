// Package ttypes contains the shared data model of the speech subsystem.
// It is used to break import cycles between tts, engines, cache, audio and stt packages.
package ttypes

import (
	"context"
	"time"
)

// Locale identifies the language/region of a synthesis or recognition request.
type Locale string

const (
	// LocaleZhCN is Mandarin Chinese, simplified script.
	LocaleZhCN Locale = "zh-CN"

	// LocaleZhTW is Mandarin Chinese, traditional script.
	LocaleZhTW Locale = "zh-TW"

	// LocaleViVN is Vietnamese.
	LocaleViVN Locale = "vi-VN"

	// LocaleEnUS is American English.
	LocaleEnUS Locale = "en-US"
)

// DefaultLocale is used when a request does not name one.
const DefaultLocale = LocaleZhCN

// IsTonal reports whether tone markup is meaningful for the locale.
func (l Locale) IsTonal() bool {
	switch l {
	case LocaleZhCN, LocaleZhTW, LocaleViVN:
		return true
	default:
		return false
	}
}

// Language returns the bare language subtag ("zh" for "zh-CN").
func (l Locale) Language() string {
	for i := 0; i < len(l); i++ {
		if l[i] == '-' || l[i] == '_' {
			return string(l[:i])
		}
	}
	return string(l)
}

// Supported reports whether the locale is one the subsystem knows how to voice.
func (l Locale) Supported() bool {
	switch l {
	case LocaleZhCN, LocaleZhTW, LocaleViVN, LocaleEnUS:
		return true
	default:
		return false
	}
}

// Request parameter bounds applied before any provider-specific clamping.
const (
	MinRate    = 0.25
	MaxRate    = 4.0
	MinVolume  = 0.0
	MaxVolume  = 1.0
	MinPitch   = -20.0
	MaxPitch   = 20.0
	NormalRate = 1.0
)

// ToneMarkup carries optional pronunciation hints for tonal languages.
type ToneMarkup struct {
	// Pinyin is the romanization, either numbered ("ni3 hao3") or with diacritics ("nǐ hǎo").
	Pinyin string

	// Tone is an optional explicit tone number for single-syllable items (1-5, 0 = unset).
	Tone int
}

// IsZero reports whether no markup is present.
func (m ToneMarkup) IsZero() bool {
	return m.Pinyin == "" && m.Tone == 0
}

// SynthesisRequest is a normalized request to turn text into speech.
type SynthesisRequest struct {
	Text          string
	Locale        Locale
	VoiceID       string
	Rate          float64 // speaking rate multiplier, 1.0 = normal
	Pitch         float64 // semitones relative to the voice default
	Volume        float64 // 0.0 - 1.0
	MarkupEnabled bool
	Tone          ToneMarkup

	// Markup is the provider-neutral annotated form produced by the tone encoder.
	// Adapters that support structured markup use it instead of Text.
	Markup string
}

// Range is an inclusive numeric range.
type Range struct {
	Min float64
	Max float64
}

// Clamp bounds v to the range. A zero range leaves v untouched.
func (r Range) Clamp(v float64) float64 {
	if r.Min == 0 && r.Max == 0 {
		return v
	}
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Capabilities describes what a provider adapter can do.
type Capabilities struct {
	// ReturnsBytes is false for adapters that can only play audio themselves.
	ReturnsBytes bool

	// SupportsMarkup is true when the adapter accepts SSML-style annotation.
	SupportsMarkup bool

	// MarkupDialect names the annotation flavour ("google", "azure").
	MarkupDialect string

	// RequiresNetwork is true for cloud adapters.
	RequiresNetwork bool

	// Locales lists the locales the adapter can voice. Empty means all.
	Locales []Locale

	RateRange   Range
	PitchRange  Range
	VolumeRange Range
}

// SupportsLocale reports whether the locale is within Locales.
func (c Capabilities) SupportsLocale(l Locale) bool {
	if len(c.Locales) == 0 {
		return true
	}
	for _, loc := range c.Locales {
		if loc == l {
			return true
		}
	}
	return false
}

// ProviderDescriptor is the static configuration of one adapter in the fallback chain.
type ProviderDescriptor struct {
	Name         string
	Priority     int // lower runs first
	Capabilities Capabilities
}

// AudioFormat tags the encoding of an audio payload.
type AudioFormat string

const (
	FormatMP3 AudioFormat = "mp3"
	FormatWAV AudioFormat = "wav"
	FormatPCM AudioFormat = "pcm" // signed 16-bit little-endian
)

// AudioPayload is synthesized audio returned by a byte-returning adapter or the cache.
type AudioPayload struct {
	Data       []byte
	Format     AudioFormat
	SampleRate int // only meaningful for FormatPCM
	Channels   int // only meaningful for FormatPCM
}

// Empty reports whether the payload carries no audio.
func (p AudioPayload) Empty() bool {
	return len(p.Data) == 0
}

// Utterance is a running play-only synthesis started by an adapter that
// cannot return bytes.
type Utterance interface {
	// Done is closed when speaking finishes; Err reports why.
	Done() <-chan struct{}
	Err() error

	// Stop interrupts speaking. Safe to call more than once.
	Stop() error
}

// Provider is the uniform adapter interface over synthesis backends.
// Byte-returning adapters implement Synthesize; play-only adapters implement
// Speak and return ErrUnsupported from Synthesize. Callers branch on
// Descriptor().Capabilities.ReturnsBytes.
type Provider interface {
	Descriptor() ProviderDescriptor
	IsAvailable(ctx context.Context) bool
	Synthesize(ctx context.Context, req SynthesisRequest) (AudioPayload, error)
	Speak(ctx context.Context, req SynthesisRequest) (Utterance, error)
	Close() error
}

// PlaybackState is the lifecycle state of an AudioSession.
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackLoading
	PlaybackPlaying
	PlaybackPaused
	PlaybackStopped
)

// String returns the string representation of the state.
func (s PlaybackState) String() string {
	switch s {
	case PlaybackIdle:
		return "idle"
	case PlaybackLoading:
		return "loading"
	case PlaybackPlaying:
		return "playing"
	case PlaybackPaused:
		return "paused"
	case PlaybackStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a session.
func (s PlaybackState) Terminal() bool {
	return s == PlaybackStopped
}

// AudioSession is a snapshot of one player slot.
type AudioSession struct {
	PlayerID   string
	SessionID  string
	State      PlaybackState
	PositionMs int64
	DurationMs int64
	Volume     float64
	Rate       float64

	// Completed is true when the session ended naturally rather than by Stop.
	Completed bool
}

// RecognitionConfig describes one recognition attempt.
type RecognitionConfig struct {
	Locale          Locale
	MaxAlternatives int
	Continuous      bool
	PartialResults  bool
	Duration        time.Duration
}

// Alternative is one candidate transcript.
type Alternative struct {
	Transcript string
	Confidence float64
}

// RecognitionResult is a partial or final transcript.
type RecognitionResult struct {
	Transcript   string
	Confidence   float64
	Alternatives []Alternative
	IsFinal      bool

	// TimedOut is set when the result was taken at the deadline rather than
	// from a final event.
	TimedOut bool
}

// RecognitionState is the lifecycle state of a RecognitionSession.
type RecognitionState int

const (
	RecognitionIdle RecognitionState = iota
	RecognitionListening
	RecognitionFinalizing
	RecognitionDone
	RecognitionError
)

// String returns the string representation of the state.
func (s RecognitionState) String() string {
	switch s {
	case RecognitionIdle:
		return "idle"
	case RecognitionListening:
		return "listening"
	case RecognitionFinalizing:
		return "finalizing"
	case RecognitionDone:
		return "done"
	case RecognitionError:
		return "error"
	default:
		return "unknown"
	}
}

// SyllableScore is one aligned position of a pronunciation comparison.
type SyllableScore struct {
	Index    int
	Expected string
	Spoken   string
	Match    bool
}

// PronunciationResult is the outcome of comparing a spoken attempt with the expected text.
type PronunciationResult struct {
	ExpectedText string
	SpokenText   string
	Accuracy     float64
	Breakdown    []SyllableScore
	Passed       bool
}
