package engines

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// fakeRun records the command line and returns canned output.
type fakeRun struct {
	name string
	args []string
	out  []byte
	err  error
}

func (f *fakeRun) run(_ context.Context, _ time.Duration, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args
	return f.out, f.err
}

func newTestGTTS(f *fakeRun) *GTTSEngine {
	e := NewGTTSEngine(GTTSConfig{Binary: "gtts-cli", RequestsPerMinute: 6000}, nil)
	e.run = f.run
	return e
}

func TestGTTSEngine_Descriptor(t *testing.T) {
	e := NewGTTSEngine(GTTSConfig{Priority: 3}, nil)
	d := e.Descriptor()

	if d.Name != ProviderGTTS || d.Priority != 3 {
		t.Errorf("descriptor = %+v", d)
	}
	if !d.Capabilities.ReturnsBytes {
		t.Error("gtts should return bytes")
	}
	if d.Capabilities.SupportsMarkup {
		t.Error("gtts should not accept markup")
	}
	if got := d.Capabilities.RateRange.Clamp(4.0); got != 1.0 {
		t.Errorf("rate clamp = %v, want 1.0", got)
	}
}

func TestGTTSEngine_Synthesize(t *testing.T) {
	tests := []struct {
		name     string
		req      ttypes.SynthesisRequest
		wantLang string
		wantSlow bool
	}{
		{
			name:     "mandarin normal speed",
			req:      ttypes.SynthesisRequest{Text: "你好", Locale: ttypes.LocaleZhCN, Rate: 1.0},
			wantLang: "zh-CN",
		},
		{
			name:     "vietnamese slow",
			req:      ttypes.SynthesisRequest{Text: "xin chào", Locale: ttypes.LocaleViVN, Rate: 0.5},
			wantLang: "vi",
			wantSlow: true,
		},
		{
			name:     "traditional",
			req:      ttypes.SynthesisRequest{Text: "謝謝", Locale: ttypes.LocaleZhTW, Rate: 0.9},
			wantLang: "zh-TW",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRun{out: []byte("ID3fake-mp3")}
			e := newTestGTTS(f)

			payload, err := e.Synthesize(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			if payload.Format != ttypes.FormatMP3 || string(payload.Data) != "ID3fake-mp3" {
				t.Errorf("payload = %+v", payload)
			}

			if f.name != "gtts-cli" {
				t.Errorf("binary = %q", f.name)
			}
			if f.args[0] != tt.req.Text {
				t.Errorf("text arg = %q", f.args[0])
			}
			i := slices.Index(f.args, "-l")
			if i < 0 || f.args[i+1] != tt.wantLang {
				t.Errorf("args %v missing -l %s", f.args, tt.wantLang)
			}
			if got := slices.Contains(f.args, "--slow"); got != tt.wantSlow {
				t.Errorf("--slow = %v, want %v", got, tt.wantSlow)
			}
			if !strings.HasSuffix(strings.Join(f.args, " "), "-o -") {
				t.Errorf("args should write to stdout: %v", f.args)
			}
		})
	}
}

func TestGTTSEngine_Errors(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		e := newTestGTTS(&fakeRun{})
		_, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{Locale: ttypes.LocaleZhCN})
		if !errors.Is(err, ttypes.ErrEmptyText) {
			t.Errorf("err = %v, want ErrEmptyText", err)
		}
	})

	t.Run("text too long", func(t *testing.T) {
		e := newTestGTTS(&fakeRun{})
		_, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{
			Text:   strings.Repeat("a", 5001),
			Locale: ttypes.LocaleEnUS,
		})
		if err == nil {
			t.Error("expected error for oversized text")
		}
	})

	t.Run("unsupported locale", func(t *testing.T) {
		e := newTestGTTS(&fakeRun{})
		_, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "bonjour", Locale: "fr-FR"})
		if !errors.Is(err, ttypes.ErrUnsupported) {
			t.Errorf("err = %v, want ErrUnsupported", err)
		}
	})

	t.Run("process failure", func(t *testing.T) {
		boom := errors.New("exit status 1")
		e := newTestGTTS(&fakeRun{err: boom})
		_, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "hi", Locale: ttypes.LocaleEnUS})
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
	})

	t.Run("no output", func(t *testing.T) {
		e := newTestGTTS(&fakeRun{})
		_, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "hi", Locale: ttypes.LocaleEnUS})
		if err == nil {
			t.Error("expected error for empty output")
		}
	})

	t.Run("speak is unsupported", func(t *testing.T) {
		e := newTestGTTS(&fakeRun{})
		_, err := e.Speak(context.Background(), ttypes.SynthesisRequest{Text: "hi"})
		if !errors.Is(err, ttypes.ErrUnsupported) {
			t.Errorf("err = %v, want ErrUnsupported", err)
		}
	})
}

func TestGTTSEngine_RateLimitCancelled(t *testing.T) {
	e := NewGTTSEngine(GTTSConfig{RequestsPerMinute: 1}, nil)
	e.run = (&fakeRun{out: []byte("mp3")}).run

	req := ttypes.SynthesisRequest{Text: "hi", Locale: ttypes.LocaleEnUS}
	if _, err := e.Synthesize(context.Background(), req); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.Synthesize(ctx, req); err == nil {
		t.Error("second call should wait on the limiter and fail on cancel")
	}
}
