package engines

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

type fakeStart struct {
	name string
	args []string
}

func (f *fakeStart) start(ctx context.Context, name string, args ...string) (ttypes.Utterance, error) {
	f.name = name
	f.args = args
	return newTimedUtterance(ctx, time.Millisecond), nil
}

func flagValue(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func TestESpeakArgs(t *testing.T) {
	tests := []struct {
		name      string
		req       ttypes.SynthesisRequest
		wantSpeed string
		wantPitch string
		wantAmp   string
	}{
		{"defaults", ttypes.SynthesisRequest{Text: "你好", Volume: 1}, "175", "50", "100"},
		{"slow and quiet", ttypes.SynthesisRequest{Text: "你好", Rate: 0.5, Volume: 0.5}, "88", "50", "50"},
		{"pitch up", ttypes.SynthesisRequest{Text: "你好", Rate: 1, Pitch: 10, Volume: 1}, "175", "75", "100"},
		{"pitch floor", ttypes.SynthesisRequest{Text: "你好", Rate: 1, Pitch: -40, Volume: 1}, "175", "0", "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := espeakArgs(tt.req, "cmn")
			if got := flagValue(args, "-v"); got != "cmn" {
				t.Errorf("-v = %q", got)
			}
			if got := flagValue(args, "-s"); got != tt.wantSpeed {
				t.Errorf("-s = %q, want %q", got, tt.wantSpeed)
			}
			if got := flagValue(args, "-p"); got != tt.wantPitch {
				t.Errorf("-p = %q, want %q", got, tt.wantPitch)
			}
			if got := flagValue(args, "-a"); got != tt.wantAmp {
				t.Errorf("-a = %q, want %q", got, tt.wantAmp)
			}
			if args[len(args)-1] != tt.req.Text {
				t.Errorf("text should be last: %v", args)
			}
		})
	}
}

func TestESpeakEngine_Speak(t *testing.T) {
	f := &fakeStart{}
	e := NewESpeakEngine(ESpeakConfig{Binary: "/usr/bin/espeak-ng"}, nil)
	e.start = f.start

	d := e.Descriptor()
	if d.Capabilities.ReturnsBytes {
		t.Error("espeak must be play-only")
	}

	u, err := e.Speak(context.Background(), ttypes.SynthesisRequest{Text: "xin chào", Locale: ttypes.LocaleViVN, Rate: 1, Volume: 1})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	<-u.Done()

	if f.name != "/usr/bin/espeak-ng" {
		t.Errorf("binary = %q", f.name)
	}
	if got := flagValue(f.args, "-v"); got != "vi" {
		t.Errorf("voice = %q, want vi", got)
	}

	if _, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "x"}); !errors.Is(err, ttypes.ErrUnsupported) {
		t.Errorf("Synthesize err = %v, want ErrUnsupported", err)
	}
	if _, err := e.Speak(context.Background(), ttypes.SynthesisRequest{Locale: ttypes.LocaleViVN}); !errors.Is(err, ttypes.ErrEmptyText) {
		t.Errorf("empty Speak err = %v, want ErrEmptyText", err)
	}
}

func TestNativeArgs(t *testing.T) {
	req := ttypes.SynthesisRequest{Text: "你好", Locale: ttypes.LocaleZhCN, Rate: 1.5, Volume: 0.25}

	mac := nativeArgs("darwin", req, "Tingting")
	if flagValue(mac, "-v") != "Tingting" || flagValue(mac, "-r") != "263" {
		t.Errorf("darwin args = %v", mac)
	}

	linux := nativeArgs("linux", req, "Tingting")
	if flagValue(linux, "-l") != "zh" {
		t.Errorf("linux language = %v", linux)
	}
	if flagValue(linux, "-r") != "50" || flagValue(linux, "-i") != "-50" {
		t.Errorf("linux rate/volume = %v", linux)
	}
	if !slices.Contains(linux, "-w") {
		t.Error("spd-say should wait for speech to finish")
	}
}

func TestNativeEngine_UnknownOS(t *testing.T) {
	e := NewNativeEngine(NativeConfig{}, nil)
	e.goos = "plan9"
	if e.IsAvailable(context.Background()) {
		t.Error("no speech command on plan9")
	}
	if _, err := e.Speak(context.Background(), ttypes.SynthesisRequest{Text: "hi"}); !errors.Is(err, ttypes.ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
}
