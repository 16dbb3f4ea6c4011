package tts

import (
	"fmt"

	"github.com/dacbuione/chinese-learning-sub000/internal/tone"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// NewRequest returns a request with normal rate, full volume and tone
// markup enabled.
func NewRequest(text string, locale ttypes.Locale) ttypes.SynthesisRequest {
	return ttypes.SynthesisRequest{
		Text:          text,
		Locale:        locale,
		Rate:          ttypes.NormalRate,
		Volume:        ttypes.MaxVolume,
		MarkupEnabled: true,
	}
}

// Prepare normalizes a request before fingerprinting: markdown is reduced to
// its text, unpronounceable glyphs are stripped, the locale defaults to
// zh-CN and rate, pitch and volume are clamped to the global bounds. Values
// out of range are clamped, never rejected. Text that is empty after
// normalization returns ttypes.ErrEmptyText.
func Prepare(req ttypes.SynthesisRequest) (ttypes.SynthesisRequest, error) {
	req.Text = tone.Normalize(tone.PlainText(req.Text))
	if req.Text == "" {
		return req, ttypes.ErrEmptyText
	}

	if req.Locale == "" {
		req.Locale = ttypes.DefaultLocale
	}
	if !req.Locale.Supported() {
		return req, fmt.Errorf("locale %q: %w", req.Locale, ttypes.ErrUnsupported)
	}

	if req.Rate == 0 {
		req.Rate = ttypes.NormalRate
	}
	req.Rate = ttypes.Range{Min: ttypes.MinRate, Max: ttypes.MaxRate}.Clamp(req.Rate)
	req.Pitch = ttypes.Range{Min: ttypes.MinPitch, Max: ttypes.MaxPitch}.Clamp(req.Pitch)
	req.Volume = clampVolume(req.Volume)

	if !req.MarkupEnabled {
		req.Tone = ttypes.ToneMarkup{}
	}
	req.Markup = ""

	return req, nil
}

func clampVolume(v float64) float64 {
	return max(ttypes.MinVolume, min(ttypes.MaxVolume, v))
}

// ForProvider adapts a prepared request to one adapter: rate, pitch and
// volume are clamped to its ranges and, when the adapter accepts markup,
// the tone annotation in its dialect is attached.
func ForProvider(req ttypes.SynthesisRequest, caps ttypes.Capabilities) ttypes.SynthesisRequest {
	req.Rate = caps.RateRange.Clamp(req.Rate)
	req.Volume = caps.VolumeRange.Clamp(req.Volume)
	if caps.PitchRange == (ttypes.Range{}) {
		req.Pitch = 0
	} else {
		req.Pitch = caps.PitchRange.Clamp(req.Pitch)
	}

	req.Markup = ""
	if req.MarkupEnabled && caps.SupportsMarkup {
		if fragment, ok := tone.Annotate(req.Text, req.Tone, req.Locale, caps.MarkupDialect); ok {
			req.Markup = fragment
		}
	}
	return req
}

// cacheable reports whether the request's audio may be stored under its
// fingerprint. Pitch is not part of the fingerprint.
func cacheable(req ttypes.SynthesisRequest) bool {
	return req.Pitch == 0
}
