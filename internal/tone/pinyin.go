package tone

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Syllable is one pinyin syllable with its tone separated out.
type Syllable struct {
	Base string // lower-case letters, "ü" for the umlaut vowel
	Tone int    // 1-4, 5 for neutral, 0 when unknown
}

// toneMarks maps a plain vowel to its four tone-marked forms.
var toneMarks = map[rune][4]rune{
	'a': {'ā', 'á', 'ǎ', 'à'},
	'e': {'ē', 'é', 'ě', 'è'},
	'i': {'ī', 'í', 'ǐ', 'ì'},
	'o': {'ō', 'ó', 'ǒ', 'ò'},
	'u': {'ū', 'ú', 'ǔ', 'ù'},
	'ü': {'ǖ', 'ǘ', 'ǚ', 'ǜ'},
}

// markedVowels is the reverse of toneMarks.
var markedVowels = func() map[rune]struct {
	base rune
	tone int
} {
	m := make(map[rune]struct {
		base rune
		tone int
	})
	for base, marks := range toneMarks {
		for i, r := range marks {
			m[r] = struct {
				base rune
				tone int
			}{base, i + 1}
		}
	}
	return m
}()

// ParsePinyin splits a pinyin string into syllables. Syllables may be
// separated by spaces, apostrophes or hyphens, and may carry tone numbers
// ("ni3hao3", "ni3 hao3") or tone marks ("nǐ hǎo"). "v" and "u:" are read as "ü".
// Accented syllables written without separators are kept as one syllable.
func ParsePinyin(pinyin string) []Syllable {
	pinyin = norm.NFC.String(strings.ToLower(pinyin))
	pinyin = strings.ReplaceAll(pinyin, "u:", "ü")

	var out []Syllable
	var cur strings.Builder
	curTone := 0

	flush := func(tone int) {
		if cur.Len() == 0 {
			return
		}
		if tone == 0 {
			tone = curTone
		}
		out = append(out, Syllable{Base: cur.String(), Tone: tone})
		cur.Reset()
		curTone = 0
	}

	for _, r := range pinyin {
		switch {
		case r >= '0' && r <= '5':
			t := int(r - '0')
			if t == 0 {
				t = 5
			}
			flush(t)
		case r == 'v':
			cur.WriteRune('ü')
		case unicode.IsLetter(r):
			if mv, ok := markedVowels[r]; ok {
				cur.WriteRune(mv.base)
				curTone = mv.tone
				continue
			}
			cur.WriteRune(r)
		default:
			// separator
			flush(0)
		}
	}
	flush(0)

	return out
}

// Numbered renders the syllable with a trailing tone number ("hao3").
// Unknown tones render without a number.
func (s Syllable) Numbered() string {
	base := s.Base
	if s.Tone == 0 {
		return base
	}
	return base + string(rune('0'+s.Tone))
}

// Accented renders the syllable with a tone mark ("hǎo"). Neutral and
// unknown tones render unmarked.
func (s Syllable) Accented() string {
	if s.Tone < 1 || s.Tone > 4 {
		return s.Base
	}

	runes := []rune(s.Base)
	idx := markIndex(runes)
	if idx < 0 {
		return s.Base
	}
	runes[idx] = toneMarks[runes[idx]][s.Tone-1]
	return string(runes)
}

// markIndex returns the position of the vowel that takes the tone mark:
// "a" or "e" if present, the "o" of "ou", otherwise the last vowel.
func markIndex(runes []rune) int {
	last := -1
	for i, r := range runes {
		switch r {
		case 'a', 'e':
			return i
		case 'o':
			if i+1 < len(runes) && runes[i+1] == 'u' {
				return i
			}
		}
		if _, ok := toneMarks[r]; ok {
			last = i
		}
	}
	return last
}

// NumberedPinyin converts any pinyin spelling to space-separated numbered form.
func NumberedPinyin(pinyin string) string {
	syl := ParsePinyin(pinyin)
	parts := make([]string, len(syl))
	for i, s := range syl {
		parts[i] = s.Numbered()
	}
	return strings.Join(parts, " ")
}

// AccentedPinyin converts any pinyin spelling to space-separated accented form.
func AccentedPinyin(pinyin string) string {
	syl := ParsePinyin(pinyin)
	parts := make([]string, len(syl))
	for i, s := range syl {
		parts[i] = s.Accented()
	}
	return strings.Join(parts, " ")
}

// Tones returns the tone number of each syllable.
func Tones(pinyin string) []int {
	syl := ParsePinyin(pinyin)
	tones := make([]int, len(syl))
	for i, s := range syl {
		tones[i] = s.Tone
	}
	return tones
}
