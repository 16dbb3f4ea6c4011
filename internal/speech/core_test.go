package speech

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dacbuione/chinese-learning-sub000/internal/audio"
	"github.com/dacbuione/chinese-learning-sub000/internal/cache"
	"github.com/dacbuione/chinese-learning-sub000/internal/config"
	"github.com/dacbuione/chinese-learning-sub000/internal/stt"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts/engines"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

func quiet() *log.Logger {
	return log.New(io.Discard)
}

type fixture struct {
	core   *Core
	device *audio.MockDevice
	rec    *stt.MockRecognizer
	mic    *stt.MockMicrophone
}

func newFixture(t *testing.T, providers ...ttypes.Provider) *fixture {
	t.Helper()
	ctx := context.Background()

	store := cache.NewStore(ctx, cache.NewMemoryBackend(), cache.Config{Backend: cache.BackendMemory}, quiet())
	chain := engines.NewChain(providers, engines.ChainConfig{}, quiet())
	orch := tts.NewOrchestrator(chain, store, tts.Config{}, quiet())

	device := audio.NewMockDevice(8000)
	device.SetSpeed(20)
	player := audio.NewManager(device, audio.Config{ProgressInterval: 10 * time.Millisecond}, quiet())

	rec := stt.NewMockRecognizer()
	mic := stt.NewMockMicrophone()
	recog := stt.NewManager(rec, mic, stt.Config{Grace: 50 * time.Millisecond}, quiet())

	core := New(Parts{
		Synthesis:   orch,
		Player:      player,
		Recognition: recog,
		Logger:      quiet(),
	})
	t.Cleanup(func() { _ = core.Close() })

	return &fixture{core: core, device: device, rec: rec, mic: mic}
}

func waitDone(t *testing.T, s *audio.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func scrape(t *testing.T, c *Core) string {
	t.Helper()
	rr := httptest.NewRecorder()
	c.Metrics().Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	return rr.Body.String()
}

func TestSpeak_BytesThenCache(t *testing.T) {
	google := engines.NewMockProvider("google", 1, true)
	f := newFixture(t, google)
	ctx := context.Background()
	req := tts.NewRequest("你好", ttypes.LocaleZhCN)

	first, err := f.core.Speak(ctx, "card", req, audio.Options{})
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if first.Source != "google" || first.Session == nil {
		t.Fatalf("first = %+v", first)
	}
	waitDone(t, first.Session)
	if snap := first.Session.Snapshot(); !snap.Completed {
		t.Errorf("session should complete naturally, got %+v", snap)
	}

	second, err := f.core.Speak(ctx, "card", req, audio.Options{})
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if second.Source != tts.SourceCache {
		t.Errorf("second source = %q, want cache", second.Source)
	}
	if google.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", google.CallCount())
	}
	waitDone(t, second.Session)

	out := scrape(t, f.core)
	if !strings.Contains(out, `tingshuo_synthesis_requests_total{outcome="hit",source="cache"} 1`) {
		t.Errorf("cache hit not counted:\n%s", out)
	}
	if !strings.Contains(out, "tingshuo_cache_entries 1") {
		t.Errorf("cache gauge missing:\n%s", out)
	}
}

func TestSpeak_RequestVolume(t *testing.T) {
	tests := []struct {
		name   string
		volume float64
		opts   audio.Options
		want   float64
	}{
		{"full", ttypes.MaxVolume, audio.Options{}, 1},
		{"muted request", 0, audio.Options{}, 0},
		{"quiet request", 0.3, audio.Options{}, 0.3},
		{"explicit option wins", 0.3, audio.Options{Volume: audio.Volume(0.8)}, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, engines.NewMockProvider("google", 1, true))
			req := tts.NewRequest("你好", ttypes.LocaleZhCN)
			req.Volume = tt.volume

			pb, err := f.core.Speak(context.Background(), "card", req, tt.opts)
			if err != nil {
				t.Fatalf("Speak() error = %v", err)
			}
			if got := pb.Session.Snapshot().Volume; got != tt.want {
				t.Errorf("session volume = %v, want %v", got, tt.want)
			}
			waitDone(t, pb.Session)
		})
	}
}

func TestSpeak_PlayOnly(t *testing.T) {
	espeak := engines.NewMockProvider("espeak", 1, false)
	espeak.SetSpeakDuration(time.Minute)
	f := newFixture(t, espeak)

	pb, err := f.core.Speak(context.Background(), "card", tts.NewRequest("谢谢", ttypes.LocaleZhCN), audio.Options{})
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if pb.Source != "espeak" {
		t.Errorf("source = %q, want espeak", pb.Source)
	}
	if st := f.core.Player().GetState("card"); st.State != ttypes.PlaybackPlaying {
		t.Errorf("state = %v, want playing", st.State)
	}
	if f.core.Cache().Len() != 0 {
		t.Error("play-only output must not be cached")
	}

	f.core.Stop("card")
	waitDone(t, pb.Session)
	if pb.Session.Snapshot().Completed {
		t.Error("stopped session reported completed")
	}

	// stopping again is a no-op
	f.core.Stop("card")
	f.core.Stop("nobody")
}

func TestSpeak_Exhausted(t *testing.T) {
	a := engines.NewMockProvider("google", 1, true)
	a.SetFailure(errors.New("quota"))
	b := engines.NewMockProvider("gtts", 2, true)
	b.SetAvailable(false)
	f := newFixture(t, a, b)

	_, err := f.core.Speak(context.Background(), "card", tts.NewRequest("你好", ttypes.LocaleZhCN), audio.Options{})
	if !errors.Is(err, ttypes.ErrSynthesisUnavailable) {
		t.Fatalf("Speak() error = %v, want ErrSynthesisUnavailable", err)
	}
	if code := ttypes.ReasonCode(err); code != ttypes.ReasonAudioUnavailable {
		t.Errorf("ReasonCode = %q", code)
	}
	if st := f.core.Player().GetState("card"); st.State != ttypes.PlaybackIdle {
		t.Errorf("state = %v, want idle", st.State)
	}
}

func TestAssess(t *testing.T) {
	f := newFixture(t)
	f.rec.SetScript(stt.MockEvent{
		After: 10 * time.Millisecond,
		Result: ttypes.RecognitionResult{
			Transcript: "你",
			Confidence: 0.6,
			IsFinal:    true,
			Alternatives: []ttypes.Alternative{
				{Transcript: "你", Confidence: 0.6},
				{Transcript: "你好", Confidence: 0.3},
			},
		},
	})

	cfg := ttypes.RecognitionConfig{Locale: ttypes.LocaleZhCN, MaxAlternatives: 2}
	got, err := f.core.Assess(context.Background(), "你好", cfg, time.Second)
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if got.Recognition.Transcript != "你" {
		t.Errorf("transcript = %q", got.Recognition.Transcript)
	}
	if got.Pronunciation.Accuracy != 1.0 || !got.Pronunciation.Passed {
		t.Errorf("best alternative should score 1.0, got %+v", got.Pronunciation)
	}
	deadline := time.Now().Add(time.Second)
	for f.mic.Active() {
		if time.Now().After(deadline) {
			t.Fatal("microphone still held after Assess")
		}
		time.Sleep(5 * time.Millisecond)
	}

	out := scrape(t, f.core)
	if !strings.Contains(out, `tingshuo_pronunciation_accuracy_count{locale="zh-CN"} 1`) {
		t.Errorf("accuracy not observed:\n%s", out)
	}
}

func TestAssess_Denied(t *testing.T) {
	f := newFixture(t)
	f.mic.SetDenied(true)

	_, err := f.core.Assess(context.Background(), "你好", ttypes.RecognitionConfig{}, time.Second)
	if !errors.Is(err, ttypes.ErrPermissionDenied) {
		t.Fatalf("Assess() error = %v, want ErrPermissionDenied", err)
	}
	if code := ttypes.ReasonCode(err); code != ttypes.ReasonMicrophoneDenied {
		t.Errorf("ReasonCode = %q", code)
	}
}

func TestScore(t *testing.T) {
	f := newFixture(t)
	if got := f.core.Score("你好", "好你").Accuracy; got != 0 {
		t.Errorf("Score(你好, 好你) = %v, want 0", got)
	}
}

func TestWarm(t *testing.T) {
	google := engines.NewMockProvider("google", 1, true)
	f := newFixture(t, google)

	tmpl := tts.NewRequest("", ttypes.LocaleZhCN)
	res, err := f.core.Warm(context.Background(), "你好。谢谢！**再见**。", tmpl, 2)
	if err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if res.Requested != 3 || res.Cached != 3 || res.Failed != 0 {
		t.Errorf("Warm() = %+v", res)
	}
	if n := f.core.Cache().Len(); n != 3 {
		t.Errorf("cache entries = %d, want 3", n)
	}

	// warmed phrases are served from the cache
	r, err := f.core.Synthesize(context.Background(), tts.NewRequest("谢谢！", ttypes.LocaleZhCN))
	if err != nil {
		t.Fatal(err)
	}
	if r.Source != tts.SourceCache {
		t.Errorf("source = %q, want cache", r.Source)
	}

	if _, err := f.core.Warm(context.Background(), "  ", tmpl, 1); !errors.Is(err, ttypes.ErrEmptyText) {
		t.Errorf("Warm(blank) = %v, want ErrEmptyText", err)
	}
}

func TestNoPlaybackNoRecognition(t *testing.T) {
	store := cache.NewStore(context.Background(), cache.NewMemoryBackend(), cache.Config{}, quiet())
	orch := tts.NewOrchestrator(engines.NewChain(nil, engines.ChainConfig{}, quiet()), store, tts.Config{}, quiet())
	c := New(Parts{Synthesis: orch, Logger: quiet()})
	defer c.Close()

	_, err := c.Speak(context.Background(), "p", tts.NewRequest("你好", ttypes.LocaleZhCN), audio.Options{})
	if !errors.Is(err, ttypes.ErrPlaybackDevice) {
		t.Errorf("Speak without player = %v, want ErrPlaybackDevice", err)
	}
	_, err = c.Recognize(context.Background(), ttypes.RecognitionConfig{}, time.Second)
	if !errors.Is(err, ttypes.ErrRecognizerUnavailable) {
		t.Errorf("Recognize without manager = %v, want ErrRecognizerUnavailable", err)
	}
	c.Stop("p")
}

func TestBuild(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = cache.BackendSQLite
	cfg.Cache.Dir = t.TempDir()
	cfg.Google.Enabled = false
	cfg.Azure.Enabled = false
	cfg.GTTS.Enabled = false
	cfg.ESpeak.Enabled = false
	cfg.Native.Enabled = false
	cfg.Playback.Device = config.DeviceMock
	cfg.Recognition.Backend = config.RecognizerNone

	core, err := Build(context.Background(), cfg, Needs{Playback: true, Recognition: true}, quiet())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer core.Close()

	if core.Player() == nil || core.Recognition() == nil || core.Cache() == nil {
		t.Fatal("requested components were not built")
	}
	if n := len(core.Providers(context.Background())); n != 0 {
		t.Errorf("providers = %d, want 0", n)
	}

	_, err = core.Synthesize(context.Background(), tts.NewRequest("你好", ttypes.LocaleZhCN))
	if !errors.Is(err, ttypes.ErrSynthesisUnavailable) {
		t.Errorf("Synthesize() = %v, want ErrSynthesisUnavailable", err)
	}
	_, err = core.Recognize(context.Background(), ttypes.RecognitionConfig{}, time.Second)
	if !errors.Is(err, ttypes.ErrRecognizerUnavailable) {
		t.Errorf("Recognize() = %v, want ErrRecognizerUnavailable", err)
	}
}

func TestSetLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = cache.BackendMemory
	cfg.Google.Enabled = false
	cfg.Azure.Enabled = false
	cfg.Playback.Device = config.DeviceMock
	cfg.Recognition.Backend = config.RecognizerNone

	root := log.New(io.Discard)
	root.SetLevel(log.InfoLevel)
	core, err := Build(context.Background(), cfg, Needs{Playback: true, Recognition: true}, root)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer core.Close()

	// tts, cache, speech, audio and stt
	if n := len(core.loggers); n != 5 {
		t.Fatalf("component loggers = %d, want 5", n)
	}

	root.SetLevel(log.DebugLevel)
	if got := core.loggers[0].GetLevel(); got != log.InfoLevel {
		t.Fatalf("derived logger level = %v before SetLogLevel, want info", got)
	}

	core.SetLogLevel(log.DebugLevel)
	for _, l := range core.loggers {
		if got := l.GetLevel(); got != log.DebugLevel {
			t.Errorf("%s logger level = %v, want debug", l.GetPrefix(), got)
		}
	}
	if got := core.logger.GetLevel(); got != log.DebugLevel {
		t.Errorf("core logger level = %v, want debug", got)
	}
}

func TestBuild_ProviderOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = cache.BackendMemory
	cfg.Google.Enabled = false
	cfg.Azure.Key = "k"
	cfg.Azure.Region = "eastasia"
	cfg.Synthesis.Order = []string{"espeak", "azure"}

	core, err := Build(context.Background(), cfg, Needs{}, quiet())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer core.Close()

	var names []string
	for _, p := range core.Providers(context.Background()) {
		names = append(names, p.Name)
	}
	want := []string{"espeak", "azure", "gtts", "native"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("chain order = %v, want %v", names, want)
	}
	if core.Player() != nil || core.Recognition() != nil {
		t.Error("unrequested components were built")
	}
}
