package tone

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Markup dialects understood by Annotate.
const (
	DialectNone   = ""
	DialectGoogle = "google" // <phoneme alphabet="pinyin" ph="ni3">
	DialectAzure  = "azure"  // <phoneme alphabet="sapi" ph="ni 3">
)

// Annotate renders text with pronunciation markup for the given provider
// dialect. It returns an SSML fragment (no <speak> envelope) and true when
// markup applies, or the original text unchanged and false otherwise.
//
// Markup applies only to Chinese locales with pinyin supplied; Vietnamese
// tones live in the orthography and English has none.
func Annotate(text string, markup ttypes.ToneMarkup, locale ttypes.Locale, dialect string) (string, bool) {
	if dialect == DialectNone || markup.IsZero() || locale.Language() != "zh" {
		return text, false
	}

	syllables := ParsePinyin(markup.Pinyin)
	if len(syllables) == 0 {
		return text, false
	}
	if markup.Tone > 0 && len(syllables) == 1 && syllables[0].Tone == 0 {
		syllables[0].Tone = markup.Tone
	}

	// One syllable per ideograph: annotate each character so the provider
	// cannot drift on polyphones.
	if CountHan(text) == len(syllables) {
		var b strings.Builder
		i := 0
		for _, r := range text {
			if IsHan(r) {
				b.WriteString(phoneme(string(r), syllables[i:i+1], dialect))
				i++
				continue
			}
			b.WriteString(escape(string(r)))
		}
		return b.String(), true
	}

	return phoneme(text, syllables, dialect), true
}

// Escape returns text safe to embed in an SSML document.
func Escape(text string) string {
	return escape(text)
}

func phoneme(text string, syllables []Syllable, dialect string) string {
	return fmt.Sprintf(`<phoneme alphabet="%s" ph="%s">%s</phoneme>`,
		alphabet(dialect), phones(syllables, dialect), escape(text))
}

func alphabet(dialect string) string {
	if dialect == DialectAzure {
		return "sapi"
	}
	return "pinyin"
}

// phones renders the ph attribute. Azure's SAPI phone set separates the
// tone number from the base; Google takes numbered pinyin.
func phones(syllables []Syllable, dialect string) string {
	parts := make([]string, 0, len(syllables))
	for _, s := range syllables {
		tone := s.Tone
		if tone == 0 {
			tone = 5
		}
		base := strings.ReplaceAll(s.Base, "ü", "v")
		if dialect == DialectAzure {
			parts = append(parts, fmt.Sprintf("%s %d", base, tone))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s%d", base, tone))
	}
	return strings.Join(parts, " ")
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// Envelope wraps a fragment in a <speak> element for providers that take a
// full SSML document.
func Envelope(fragment string, locale ttypes.Locale) string {
	return fmt.Sprintf(`<speak version="1.0" xml:lang="%s">%s</speak>`, locale, fragment)
}
