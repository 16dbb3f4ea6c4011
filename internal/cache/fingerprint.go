package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/dacbuione/chinese-learning-sub000/internal/tone"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Fingerprint derives the cache key of a synthesis request from its text,
// locale, rate and voice. Every field is taken verbatim, so requests that
// differ in any of them never share an entry. Volume is applied at
// playback and pitch requests bypass the cache, so neither is part of
// the key.
func Fingerprint(text string, locale ttypes.Locale, rate float64, voiceID string) string {
	data := strings.Join([]string{
		text,
		string(locale),
		strconv.FormatFloat(rate, 'g', -1, 64),
		voiceID,
	}, "|")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// RequestFingerprint fingerprints a normalized request. When markup is
// enabled the numbered pinyin joins the text component, since the same
// characters annotated differently render differently.
func RequestFingerprint(req ttypes.SynthesisRequest) string {
	text := req.Text
	if req.MarkupEnabled && req.Tone.Pinyin != "" {
		text += "|" + tone.NumberedPinyin(req.Tone.Pinyin)
	}
	return Fingerprint(text, req.Locale, req.Rate, req.VoiceID)
}
