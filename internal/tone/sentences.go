package tone

import (
	"strings"
	"unicode"
)

// Sentences splits lesson text into speakable sentences. Full-width CJK
// terminators always end a sentence; ASCII '.', '!' and '?' end one only
// when followed by whitespace or the end of text, so decimals ("3.5") and
// ellipses stay intact. Empty pieces are dropped.
func Sentences(text string) []string {
	runes := []rune(text)

	var out []string
	var cur strings.Builder

	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)

		switch r {
		case '。', '！', '？', '；', '\n':
			// Keep closing quotes with their sentence.
			for i+1 < len(runes) && isCloser(runes[i+1]) {
				i++
				cur.WriteRune(runes[i])
			}
			flush()
		case '.', '!', '?':
			if i+1 < len(runes) && runes[i+1] == '.' {
				continue
			}
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()

	return out
}

func isCloser(r rune) bool {
	switch r {
	case '」', '』', '”', '’', '"', '）', ')':
		return true
	}
	return false
}

// Chunks groups sentences into pieces of at most maxBytes, for providers
// with request size limits. A single sentence longer than maxBytes is split
// at rune boundaries.
func Chunks(text string, maxBytes int) []string {
	var out []string
	var cur strings.Builder

	for _, s := range Sentences(text) {
		for len(s) > maxBytes {
			cut := maxBytes
			for cut > 0 && !utf8Start(s[cut]) {
				cut--
			}
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, s[:cut])
			s = s[cut:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(s) > maxBytes {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
