package ttypes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common speech errors
var (
	// ErrProviderUnavailable indicates a single adapter was skipped. Never fatal on its own.
	ErrProviderUnavailable = errors.New("speech provider unavailable")

	// ErrSynthesisUnavailable indicates every adapter in the chain failed or was skipped.
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")

	// ErrUnsupported indicates an adapter was asked for something its capabilities exclude.
	ErrUnsupported = errors.New("operation not supported by provider")

	// ErrEmptyText indicates the text was empty after normalization.
	ErrEmptyText = errors.New("text is empty after normalization")

	// ErrCacheIO indicates the cache persistence layer failed. Callers treat it as a miss.
	ErrCacheIO = errors.New("cache i/o failure")

	// ErrCacheCorrupted indicates a cache entry failed its integrity check.
	ErrCacheCorrupted = errors.New("cache entry corrupted")

	// ErrPermissionDenied indicates microphone access was refused.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrRecognizerUnavailable indicates no recognition backend can be used.
	ErrRecognizerUnavailable = errors.New("speech recognizer unavailable")

	// ErrPlaybackDevice indicates the audio output failed for one playback call.
	ErrPlaybackDevice = errors.New("audio playback device error")

	// ErrInvalidAudio indicates a payload could not be decoded.
	ErrInvalidAudio = errors.New("invalid audio payload")
)

// Attempt records one adapter tried while resolving a synthesis request.
type Attempt struct {
	Provider string
	Err      error
}

// SynthesisUnavailableError lists every attempted adapter when the chain is exhausted.
type SynthesisUnavailableError struct {
	Fingerprint string
	Attempts    []Attempt
}

// Error implements the error interface.
func (e *SynthesisUnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return "speech synthesis unavailable: no providers configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return "speech synthesis unavailable: " + strings.Join(parts, "; ")
}

// Is matches ErrSynthesisUnavailable.
func (e *SynthesisUnavailableError) Is(target error) bool {
	return target == ErrSynthesisUnavailable
}

// Providers returns the attempted adapter names in order.
func (e *SynthesisUnavailableError) Providers() []string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Provider
	}
	return names
}

// ErrorSeverity represents the severity of an error.
type ErrorSeverity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo ErrorSeverity = iota
	// SeverityWarning is for failures that were absorbed by a fallback.
	SeverityWarning
	// SeverityError is for failures surfaced to the caller.
	SeverityError
)

// String returns the severity name.
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// SpeechError records where a failure originated.
type SpeechError struct {
	Err       error
	Component string // "tts", "cache", "audio", "stt"
	Action    string
	Severity  ErrorSeverity
	Timestamp time.Time
}

// Error implements the error interface.
func (e *SpeechError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: unknown error", e.Component, e.Action)
	}
	return fmt.Sprintf("%s %s: %v", e.Component, e.Action, e.Err)
}

// Unwrap returns the underlying error.
func (e *SpeechError) Unwrap() error {
	return e.Err
}

// NewSpeechError creates a SpeechError with error severity.
func NewSpeechError(err error, component, action string) *SpeechError {
	return &SpeechError{
		Err:       err,
		Component: component,
		Action:    action,
		Severity:  SeverityError,
		Timestamp: time.Now(),
	}
}

// WithSeverity sets the error severity.
func (e *SpeechError) WithSeverity(severity ErrorSeverity) *SpeechError {
	e.Severity = severity
	return e
}

// Reason codes shown next to the retry affordance.
const (
	ReasonNone                  = ""
	ReasonAudioUnavailable      = "audio_unavailable"
	ReasonMicrophoneDenied      = "microphone_denied"
	ReasonRecognizerUnavailable = "recognizer_unavailable"
	ReasonPlaybackFailed        = "playback_failed"
	ReasonEmptyText             = "empty_text"
	ReasonCancelled             = "cancelled"
	ReasonTimeout               = "timeout"
	ReasonUnknown               = "unknown"
)

// ReasonCode maps an error to a stable, human-readable code for the UI.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrSynthesisUnavailable), errors.Is(err, ErrProviderUnavailable):
		return ReasonAudioUnavailable
	case errors.Is(err, ErrPermissionDenied):
		return ReasonMicrophoneDenied
	case errors.Is(err, ErrRecognizerUnavailable):
		return ReasonRecognizerUnavailable
	case errors.Is(err, ErrPlaybackDevice), errors.Is(err, ErrInvalidAudio):
		return ReasonPlaybackFailed
	case errors.Is(err, ErrEmptyText):
		return ReasonEmptyText
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}
