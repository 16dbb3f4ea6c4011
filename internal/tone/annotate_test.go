package tone

import (
	"strings"
	"testing"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

func TestAnnotate_PerCharacter(t *testing.T) {
	markup := ttypes.ToneMarkup{Pinyin: "ni3 hao3"}

	got, ok := Annotate("你好", markup, ttypes.LocaleZhCN, DialectAzure)
	if !ok {
		t.Fatal("expected markup for zh-CN with azure dialect")
	}
	want := `<phoneme alphabet="sapi" ph="ni 3">你</phoneme><phoneme alphabet="sapi" ph="hao 3">好</phoneme>`
	if got != want {
		t.Errorf("azure markup:\n got %s\nwant %s", got, want)
	}

	got, ok = Annotate("你好", markup, ttypes.LocaleZhTW, DialectGoogle)
	if !ok {
		t.Fatal("expected markup for zh-TW with google dialect")
	}
	want = `<phoneme alphabet="pinyin" ph="ni3">你</phoneme><phoneme alphabet="pinyin" ph="hao3">好</phoneme>`
	if got != want {
		t.Errorf("google markup:\n got %s\nwant %s", got, want)
	}
}

func TestAnnotate_WholePhrase(t *testing.T) {
	// syllable count does not match ideograph count
	got, ok := Annotate("你好吗", ttypes.ToneMarkup{Pinyin: "nǐ hǎo"}, ttypes.LocaleZhCN, DialectGoogle)
	if !ok {
		t.Fatal("expected markup")
	}
	want := `<phoneme alphabet="pinyin" ph="ni3 hao3">你好吗</phoneme>`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestAnnotate_SingleTone(t *testing.T) {
	got, ok := Annotate("妈", ttypes.ToneMarkup{Pinyin: "ma", Tone: 1}, ttypes.LocaleZhCN, DialectGoogle)
	if !ok {
		t.Fatal("expected markup")
	}
	if !strings.Contains(got, `ph="ma1"`) {
		t.Errorf("explicit tone not applied: %s", got)
	}
}

func TestAnnotate_PassThrough(t *testing.T) {
	markup := ttypes.ToneMarkup{Pinyin: "ni3 hao3"}

	tests := []struct {
		name    string
		text    string
		markup  ttypes.ToneMarkup
		locale  ttypes.Locale
		dialect string
	}{
		{"no dialect", "你好", markup, ttypes.LocaleZhCN, DialectNone},
		{"vietnamese", "Xin chào", markup, ttypes.LocaleViVN, DialectAzure},
		{"english", "a < b", markup, ttypes.LocaleEnUS, DialectGoogle},
		{"no pinyin", "你好", ttypes.ToneMarkup{}, ttypes.LocaleZhCN, DialectGoogle},
		{"unparseable pinyin", "你好", ttypes.ToneMarkup{Pinyin: "???"}, ttypes.LocaleZhCN, DialectGoogle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Annotate(tt.text, tt.markup, tt.locale, tt.dialect)
			if ok {
				t.Errorf("expected no markup, got %s", got)
			}
			if got != tt.text {
				t.Errorf("text changed: got %q, want %q", got, tt.text)
			}
		})
	}
}

func TestAnnotate_EscapesText(t *testing.T) {
	got, _ := Annotate("你&好", ttypes.ToneMarkup{Pinyin: "ni3 hao3"}, ttypes.LocaleZhCN, DialectGoogle)
	if !strings.Contains(got, "&amp;") {
		t.Errorf("ampersand not escaped: %s", got)
	}
}

func TestEnvelope(t *testing.T) {
	got := Envelope("你好", ttypes.LocaleZhCN)
	want := `<speak version="1.0" xml:lang="zh-CN">你好</speak>`
	if got != want {
		t.Errorf("Envelope = %s, want %s", got, want)
	}
}
