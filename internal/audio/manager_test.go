package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

func newTestManager(t *testing.T) (*Manager, *MockDevice) {
	t.Helper()
	device := NewMockDevice(8000)
	m := NewManager(device, Config{ProgressInterval: 10 * time.Millisecond}, nil)
	t.Cleanup(func() { m.Close() })
	return m, device
}

// recorder collects progress snapshots.
type recorder struct {
	mu    sync.Mutex
	snaps []ttypes.AudioSession
}

func (r *recorder) record(s ttypes.AudioSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []ttypes.AudioSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ttypes.AudioSession(nil), r.snaps...)
}

func waitDone(t *testing.T, s *Session, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(timeout):
		t.Fatalf("session %s did not finish within %v", s.ID(), timeout)
	}
}

func TestManager_Exclusivity(t *testing.T) {
	m, device := newTestManager(t)
	ctx := context.Background()

	first, err := m.PlayFromBytes(ctx, "x", pcmPayload(2000, 8000), Options{})
	if err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}
	second, err := m.PlayFromBytes(ctx, "x", pcmPayload(2000, 8000), Options{})
	if err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}

	// The first session was released before the second started
	select {
	case <-first.Done():
	default:
		t.Fatal("first session still running")
	}
	outputs := device.Outputs()
	if len(outputs) != 2 {
		t.Fatalf("opened %d outputs, want 2", len(outputs))
	}
	if !outputs[0].Closed() {
		t.Error("first output not closed")
	}
	if first.Snapshot().Completed {
		t.Error("replaced session reported natural completion")
	}

	state := m.GetState("x")
	if state.SessionID != second.ID() || state.State != ttypes.PlaybackPlaying {
		t.Errorf("GetState = %+v, want second session playing", state)
	}
	if n := len(m.Sessions()); n != 1 {
		t.Errorf("Sessions() has %d entries, want 1", n)
	}
}

func TestManager_IndependentPlayers(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a"} {
		if _, err := m.PlayFromBytes(ctx, id, pcmPayload(2000, 8000), Options{}); err != nil {
			t.Fatalf("PlayFromBytes(%s) failed: %v", id, err)
		}
	}

	sessions := m.Sessions()
	if len(sessions) != 2 || sessions[0].PlayerID != "a" || sessions[1].PlayerID != "b" {
		t.Fatalf("Sessions() = %+v, want a and b", sessions)
	}

	m.StopAll()
	if n := len(m.Sessions()); n != 0 {
		t.Errorf("Sessions() after StopAll has %d entries", n)
	}
}

func TestManager_ControlsOnIdleAreNoops(t *testing.T) {
	m, _ := newTestManager(t)

	calls := []struct {
		name string
		fn   func() error
	}{
		{"pause", func() error { return m.Pause("nobody") }},
		{"resume", func() error { return m.Resume("nobody") }},
		{"stop", func() error { return m.Stop("nobody") }},
		{"stop again", func() error { return m.Stop("nobody") }},
		{"seek", func() error { return m.SeekTo("nobody", 1000) }},
		{"volume", func() error { return m.SetVolume("nobody", 0.5) }},
		{"rate", func() error { return m.SetRate("nobody", 1.5) }},
	}
	for _, c := range calls {
		if err := c.fn(); err != nil {
			t.Errorf("%s on idle player returned %v", c.name, err)
		}
	}

	state := m.GetState("nobody")
	if state.State != ttypes.PlaybackIdle {
		t.Errorf("GetState = %v, want idle", state.State)
	}
}

func TestManager_Clamping(t *testing.T) {
	m, device := newTestManager(t)

	if _, err := m.PlayFromBytes(context.Background(), "x", pcmPayload(2000, 8000), Options{Volume: Volume(3), Rate: 9}); err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}
	out := device.Outputs()[0]
	if out.Volume() != 1.0 || out.Rate() != 2.0 {
		t.Errorf("initial volume/rate = %v/%v, want 1/2", out.Volume(), out.Rate())
	}

	tests := []struct {
		volume, rate         float64
		wantVolume, wantRate float64
	}{
		{-1, 0.1, 0, 0.5},
		{0.4, 1.25, 0.4, 1.25},
		{7, 100, 1, 2},
	}
	for _, tt := range tests {
		m.SetVolume("x", tt.volume)
		m.SetRate("x", tt.rate)

		state := m.GetState("x")
		if state.Volume != tt.wantVolume || state.Rate != tt.wantRate {
			t.Errorf("set %v/%v: state %v/%v, want %v/%v",
				tt.volume, tt.rate, state.Volume, state.Rate, tt.wantVolume, tt.wantRate)
		}
		if out.Volume() != tt.wantVolume || out.Rate() != tt.wantRate {
			t.Errorf("set %v/%v: output %v/%v", tt.volume, tt.rate, out.Volume(), out.Rate())
		}
	}
}

func TestManager_InitialVolume(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want float64
	}{
		{"default", Options{}, 1},
		{"muted", Options{Volume: Volume(0)}, 0},
		{"half", Options{Volume: Volume(0.5)}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, device := newTestManager(t)
			if _, err := m.PlayFromBytes(context.Background(), "x", pcmPayload(2000, 8000), tt.opts); err != nil {
				t.Fatalf("PlayFromBytes failed: %v", err)
			}
			if got := device.Outputs()[0].Volume(); got != tt.want {
				t.Errorf("output volume = %v, want %v", got, tt.want)
			}
			if got := m.GetState("x").Volume; got != tt.want {
				t.Errorf("state volume = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManager_NaturalCompletion(t *testing.T) {
	m, device := newTestManager(t)
	device.SetSpeed(20)

	rec := &recorder{}
	m.OnProgress("x", rec.record)

	s, err := m.PlayFromBytes(context.Background(), "x", pcmPayload(1000, 8000), Options{})
	if err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}
	waitDone(t, s, 2*time.Second)

	snaps := rec.all()
	if len(snaps) < 2 {
		t.Fatalf("got %d snapshots, want at least 2", len(snaps))
	}
	if snaps[0].State != ttypes.PlaybackPlaying {
		t.Errorf("first snapshot state = %v, want playing", snaps[0].State)
	}
	last := snaps[len(snaps)-1]
	if last.State != ttypes.PlaybackStopped || !last.Completed {
		t.Errorf("final snapshot = %+v, want completed stop", last)
	}
	if last.PositionMs != last.DurationMs || last.DurationMs != 1000 {
		t.Errorf("final position %d of %d, want 1000 of 1000", last.PositionMs, last.DurationMs)
	}

	// Resources are released without an explicit Stop
	if !device.Outputs()[0].Closed() {
		t.Error("output not released after completion")
	}
	if state := m.GetState("x"); state.State != ttypes.PlaybackIdle {
		t.Errorf("GetState after completion = %v, want idle", state.State)
	}
}

func TestManager_NoCallbacksAfterStop(t *testing.T) {
	m, _ := newTestManager(t)

	rec := &recorder{}
	m.OnProgress("x", rec.record)

	if _, err := m.PlayFromBytes(context.Background(), "x", pcmPayload(5000, 8000), Options{}); err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}
	time.Sleep(35 * time.Millisecond)

	if err := m.Stop("x"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	count := len(rec.all())
	time.Sleep(50 * time.Millisecond)

	snaps := rec.all()
	if len(snaps) != count {
		t.Errorf("%d callbacks fired after Stop", len(snaps)-count)
	}
	last := snaps[len(snaps)-1]
	if last.State != ttypes.PlaybackStopped || last.Completed {
		t.Errorf("terminal snapshot = %+v, want stopped without completion", last)
	}
	if err := m.Stop("x"); err != nil {
		t.Errorf("second Stop returned %v", err)
	}
}

func TestManager_PauseResumeSeek(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.PlayFromBytes(context.Background(), "x", pcmPayload(5000, 8000), Options{}); err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}

	m.Pause("x")
	paused := m.GetState("x")
	if paused.State != ttypes.PlaybackPaused {
		t.Fatalf("state = %v, want paused", paused.State)
	}
	time.Sleep(30 * time.Millisecond)
	if pos := m.GetState("x").PositionMs; pos != paused.PositionMs {
		t.Errorf("position moved while paused: %d -> %d", paused.PositionMs, pos)
	}

	if err := m.SeekTo("x", 2500); err != nil {
		t.Fatalf("SeekTo failed: %v", err)
	}
	if pos := m.GetState("x").PositionMs; pos != 2500 {
		t.Errorf("position after seek = %d, want 2500", pos)
	}

	// Seeking past the end clamps
	m.SeekTo("x", 99000)
	if pos := m.GetState("x").PositionMs; pos != 5000 {
		t.Errorf("position after long seek = %d, want 5000", pos)
	}
	m.SeekTo("x", 1000)

	m.Resume("x")
	if state := m.GetState("x").State; state != ttypes.PlaybackPlaying {
		t.Errorf("state after resume = %v, want playing", state)
	}
}

func TestManager_Unsubscribe(t *testing.T) {
	m, device := newTestManager(t)
	device.SetSpeed(50)

	rec := &recorder{}
	unsubscribe := m.OnProgress("x", rec.record)
	unsubscribe()
	unsubscribe()

	s, err := m.PlayFromBytes(context.Background(), "x", pcmPayload(1000, 8000), Options{})
	if err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}
	waitDone(t, s, 2*time.Second)

	if n := len(rec.all()); n != 0 {
		t.Errorf("unsubscribed callback fired %d times", n)
	}
}

func TestManager_DeviceErrors(t *testing.T) {
	m, device := newTestManager(t)
	ctx := context.Background()

	if _, err := m.PlayFromBytes(ctx, "ok", pcmPayload(5000, 8000), Options{}); err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}

	device.SetOpenError(errors.New("no device"))
	_, err := m.PlayFromBytes(ctx, "broken", pcmPayload(500, 8000), Options{})
	if !errors.Is(err, ttypes.ErrPlaybackDevice) {
		t.Errorf("error = %v, want ErrPlaybackDevice", err)
	}
	if ttypes.ReasonCode(err) != ttypes.ReasonPlaybackFailed {
		t.Errorf("ReasonCode = %q", ttypes.ReasonCode(err))
	}

	// Other players are unaffected
	if state := m.GetState("ok").State; state != ttypes.PlaybackPlaying {
		t.Errorf("other player state = %v, want playing", state)
	}

	// An asynchronous failure ends the session with the error
	device.SetOpenError(nil)
	s, err := m.PlayFromBytes(ctx, "late", pcmPayload(5000, 8000), Options{})
	if err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}
	device.Outputs()[len(device.Outputs())-1].Fail(errors.New("underrun"))
	waitDone(t, s, time.Second)
	if !errors.Is(s.Err(), ttypes.ErrPlaybackDevice) {
		t.Errorf("session error = %v, want ErrPlaybackDevice", s.Err())
	}
}

func TestManager_InvalidPayload(t *testing.T) {
	m, device := newTestManager(t)

	_, err := m.PlayFromBytes(context.Background(), "x",
		ttypes.AudioPayload{Data: []byte("nope"), Format: ttypes.FormatMP3}, Options{})
	if !errors.Is(err, ttypes.ErrInvalidAudio) {
		t.Errorf("error = %v, want ErrInvalidAudio", err)
	}
	if opened, _ := device.Metrics(); opened != 0 {
		t.Errorf("device opened %d outputs for an invalid payload", opened)
	}
}

// fakeUtterance is a play-only provider utterance.
type fakeUtterance struct {
	done    chan struct{}
	once    sync.Once
	stopped bool
	mu      sync.Mutex
}

func newFakeUtterance() *fakeUtterance {
	return &fakeUtterance{done: make(chan struct{})}
}

func (u *fakeUtterance) Done() <-chan struct{} { return u.done }
func (u *fakeUtterance) Err() error            { return nil }

func (u *fakeUtterance) Stop() error {
	u.mu.Lock()
	u.stopped = true
	u.mu.Unlock()
	u.finish()
	return nil
}

func (u *fakeUtterance) finish() {
	u.once.Do(func() { close(u.done) })
}

func TestManager_External(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	// Natural completion
	u := newFakeUtterance()
	s, err := m.PlayExternal(ctx, "x", u)
	if err != nil {
		t.Fatalf("PlayExternal failed: %v", err)
	}
	if err := m.Pause("x"); err != nil {
		t.Errorf("Pause on external session returned %v", err)
	}
	if state := m.GetState("x").State; state != ttypes.PlaybackPlaying {
		t.Errorf("external session state = %v, want playing", state)
	}
	u.finish()
	waitDone(t, s, time.Second)
	if !s.Snapshot().Completed {
		t.Error("external session not marked completed")
	}

	// A new play on the slot interrupts the utterance
	u2 := newFakeUtterance()
	if _, err := m.PlayExternal(ctx, "x", u2); err != nil {
		t.Fatalf("PlayExternal failed: %v", err)
	}
	if _, err := m.PlayFromBytes(ctx, "x", pcmPayload(1000, 8000), Options{}); err != nil {
		t.Fatalf("PlayFromBytes failed: %v", err)
	}
	u2.mu.Lock()
	defer u2.mu.Unlock()
	if !u2.stopped {
		t.Error("replaced utterance was not stopped")
	}
}

func TestManager_PlayFromURL(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	// Sniffed as raw PCM at the default rate
	payload := pcmPayload(500, DefaultPCMRate)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload.Data)
	}))
	defer srv.Close()

	s, err := m.PlayFromURL(ctx, "x", srv.URL+"/clip", Options{})
	if err != nil {
		t.Fatalf("PlayFromURL(http) failed: %v", err)
	}
	if got := s.Snapshot().DurationMs; got < 490 || got > 510 {
		t.Errorf("duration = %dms, want about 500", got)
	}

	if _, err := m.PlayFromURL(ctx, "x", srv.URL+"/missing", Options{}); err == nil {
		t.Error("expected error for 404")
	}

	path := filepath.Join(t.TempDir(), "clip.pcm")
	if err := os.WriteFile(path, payload.Data, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, ref := range []string{path, "file://" + filepath.ToSlash(path)} {
		if _, err := m.PlayFromURL(ctx, "x", ref, Options{}); err != nil {
			t.Errorf("PlayFromURL(%s) failed: %v", ref, err)
		}
	}

	small := NewManager(NewMockDevice(8000), Config{MaxDownloadBytes: 10}, nil)
	defer small.Close()
	if _, err := small.PlayFromURL(ctx, "x", path, Options{}); !errors.Is(err, ttypes.ErrInvalidAudio) {
		t.Errorf("oversized payload error = %v, want ErrInvalidAudio", err)
	}
}
