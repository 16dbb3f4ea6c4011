package tone

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize prepares text for synthesis: NFC composition, removal of glyphs
// no voice can pronounce (emoji, pictographs, control and private-use
// characters, zero-width joiners) and whitespace collapsing. Letters, marks,
// digits and punctuation, including full-width CJK punctuation, are kept
// because providers use them for prosody.
func Normalize(text string) string {
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case speakable(r):
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

// speakable reports whether a rune survives normalization.
func speakable(r rune) bool {
	switch {
	case r == unicode.ReplacementChar:
		return false
	case unicode.Is(unicode.Co, r), unicode.Is(unicode.Cs, r), unicode.IsControl(r):
		return false
	case unicode.Is(unicode.Cf, r):
		// zero-width space/joiner, bidi marks
		return false
	case unicode.Is(unicode.So, r), unicode.Is(unicode.Sk, r):
		// emoji, pictographs, modifier symbols
		return false
	case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsDigit(r), unicode.IsNumber(r):
		return true
	case unicode.IsPunct(r):
		return true
	case unicode.Is(unicode.Sm, r), unicode.Is(unicode.Sc, r):
		// math and currency symbols are read aloud by most voices
		return true
	default:
		return false
	}
}

var folder = cases.Fold()

// ComparisonForm returns the form used to compare a spoken attempt with the
// expected text: compatibility-normalized, case-folded, with whitespace,
// punctuation and symbols removed. Each rune is one comparison position.
func ComparisonForm(text string) []rune {
	text = norm.NFKC.String(text)
	text = folder.String(text)

	out := make([]rune, 0, len(text))
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r) {
			continue
		}
		if unicode.Is(unicode.Cf, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// IsHan reports whether r is a CJK ideograph.
func IsHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// CountHan returns the number of CJK ideographs in text.
func CountHan(text string) int {
	n := 0
	for _, r := range text {
		if IsHan(r) {
			n++
		}
	}
	return n
}
