package audio

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Config configures a Manager.
type Config struct {
	// ProgressInterval is how often progress is reported while playing.
	ProgressInterval time.Duration

	// RateRange bounds playback rate. Volume is always bounded to [0, 1].
	RateRange ttypes.Range

	// MaxDownloadBytes caps payloads fetched by PlayFromURL.
	MaxDownloadBytes int64
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		ProgressInterval: 100 * time.Millisecond,
		RateRange:        ttypes.Range{Min: 0.5, Max: 2.0},
		MaxDownloadBytes: 20 << 20,
	}
}

// Options are per-playback settings. A nil Volume plays at full volume
// and a zero Rate at normal rate.
type Options struct {
	Volume *float64 // Volume(0) mutes
	Rate   float64
}

// Volume returns v for use as Options.Volume.
func Volume(v float64) *float64 {
	return &v
}

// Observer receives playback lifecycle events.
type Observer interface {
	PlaybackStarted(playerID string)
	PlaybackEnded(playerID string, completed bool, err error)
}

// ProgressFunc receives session snapshots. Callbacks run on the session's
// goroutine and must not call back into the Manager for the same player.
type ProgressFunc func(ttypes.AudioSession)

// Manager owns at most one playback session per player id. Operations on
// the same player id are serialized; different ids are independent.
type Manager struct {
	device   Device
	config   Config
	logger   *log.Logger
	observer Observer

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool
}

type slot struct {
	op sync.Mutex // serializes operations on the player id

	// guarded by Manager.mu
	current *Session
	subs    []subscription
	nextSub int
}

type subscription struct {
	id int
	fn ProgressFunc
}

// NewManager creates a playback manager on device.
func NewManager(device Device, config Config, logger *log.Logger) *Manager {
	def := DefaultConfig()
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = def.ProgressInterval
	}
	if config.RateRange == (ttypes.Range{}) {
		config.RateRange = def.RateRange
	}
	if config.MaxDownloadBytes <= 0 {
		config.MaxDownloadBytes = def.MaxDownloadBytes
	}
	if logger == nil {
		logger = log.WithPrefix("playback")
	}

	return &Manager{
		device: device,
		config: config,
		logger: logger,
		slots:  make(map[string]*slot),
	}
}

// SetObserver installs a lifecycle observer. Call before playing.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

func (m *Manager) slotFor(playerID string, create bool) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, ok := m.slots[playerID]
	if !ok && create {
		sl = &slot{}
		m.slots[playerID] = sl
	}
	return sl
}

// PlayFromBytes decodes payload and plays it on playerID, stopping any
// session already running there first.
func (m *Manager) PlayFromBytes(ctx context.Context, playerID string, payload ttypes.AudioPayload, opts Options) (*Session, error) {
	clip, err := Decode(payload, m.device.SampleRate())
	if err != nil {
		return nil, ttypes.NewSpeechError(err, "audio", "decode")
	}

	return m.play(ctx, playerID, opts, func(s *Session) error {
		out, err := m.device.Open(clip)
		if err != nil {
			return ttypes.NewSpeechError(fmt.Errorf("%w: %v", ttypes.ErrPlaybackDevice, err), "audio", "open")
		}
		s.out = out
		s.duration = clip.Duration()
		return nil
	})
}

// PlayExternal tracks an utterance already speaking through a play-only
// provider, so it shares the player slot's exclusivity and progress
// reporting. Pause, resume, seek, volume and rate do not affect it.
func (m *Manager) PlayExternal(ctx context.Context, playerID string, u ttypes.Utterance) (*Session, error) {
	return m.play(ctx, playerID, Options{}, func(s *Session) error {
		s.utter = u
		return nil
	})
}

func (m *Manager) play(ctx context.Context, playerID string, opts Options, open func(*Session) error) (*Session, error) {
	sl := m.slotFor(playerID, true)
	sl.op.Lock()
	defer sl.op.Unlock()

	m.haltCurrent(sl)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ttypes.NewSpeechError(fmt.Errorf("%w: manager closed", ttypes.ErrPlaybackDevice), "audio", "play")
	}

	s := newSession(playerID, m.config.ProgressInterval)
	s.emit = func(snap ttypes.AudioSession) { m.emit(sl, snap) }
	s.onEnd = func(s *Session) { m.ended(sl, s) }

	if err := open(s); err != nil {
		m.logger.Error("Failed to open output", "player", playerID, "error", err)
		return nil, err
	}

	s.volume = 1.0
	if opts.Volume != nil {
		s.volume = clampVolume(*opts.Volume)
	}
	s.rate = m.config.RateRange.Clamp(orDefault(opts.Rate))
	if s.out != nil {
		s.out.SetVolume(s.volume)
		s.out.SetRate(s.rate)
	}

	m.mu.Lock()
	sl.current = s
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.PlaybackStarted(playerID)
	}
	m.logger.Debug("Playback started", "player", playerID, "session", s.id, "duration", s.duration)

	s.begin()
	return s, nil
}

// haltCurrent stops the slot's session and waits for its release.
// Caller holds sl.op.
func (m *Manager) haltCurrent(sl *slot) {
	m.mu.Lock()
	cur := sl.current
	m.mu.Unlock()

	if cur != nil {
		cur.halt()
	}
}

func (m *Manager) ended(sl *slot, s *Session) {
	m.mu.Lock()
	if sl.current == s {
		sl.current = nil
	}
	m.mu.Unlock()

	snap := s.Snapshot()
	err := s.Err()
	if err != nil {
		m.logger.Error("Playback failed", "player", s.playerID, "session", s.id, "error", err)
	} else {
		m.logger.Debug("Playback ended", "player", s.playerID, "session", s.id,
			"completed", snap.Completed, "position_ms", snap.PositionMs)
	}
	if m.observer != nil {
		m.observer.PlaybackEnded(s.playerID, snap.Completed, err)
	}
}

func (m *Manager) emit(sl *slot, snap ttypes.AudioSession) {
	m.mu.Lock()
	subs := slices.Clone(sl.subs)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
}

// control runs fn against the current session of playerID. Missing or
// idle sessions make it a no-op.
func (m *Manager) control(playerID string, fn func(*Session) error) error {
	sl := m.slotFor(playerID, false)
	if sl == nil {
		return nil
	}
	sl.op.Lock()
	defer sl.op.Unlock()

	m.mu.Lock()
	cur := sl.current
	m.mu.Unlock()

	if cur == nil {
		return nil
	}
	return fn(cur)
}

// Pause pauses playback on playerID.
func (m *Manager) Pause(playerID string) error {
	return m.control(playerID, func(s *Session) error {
		s.pause()
		return nil
	})
}

// Resume resumes paused playback on playerID.
func (m *Manager) Resume(playerID string) error {
	return m.control(playerID, func(s *Session) error {
		s.resume()
		return nil
	})
}

// Stop stops and releases the session on playerID. Safe to call when
// nothing is playing.
func (m *Manager) Stop(playerID string) error {
	return m.control(playerID, func(s *Session) error {
		s.halt()
		return nil
	})
}

// SetVolume sets volume, clamped to [0, 1].
func (m *Manager) SetVolume(playerID string, v float64) error {
	return m.control(playerID, func(s *Session) error {
		s.setVolume(clampVolume(v))
		return nil
	})
}

// SetRate sets the playback rate, clamped to the configured range.
func (m *Manager) SetRate(playerID string, r float64) error {
	return m.control(playerID, func(s *Session) error {
		s.setRate(m.config.RateRange.Clamp(r))
		return nil
	})
}

// SeekTo moves playback to ms milliseconds, clamped to the clip.
func (m *Manager) SeekTo(playerID string, ms int64) error {
	return m.control(playerID, func(s *Session) error {
		return s.seek(time.Duration(ms) * time.Millisecond)
	})
}

// GetState returns the snapshot of playerID's session, or an idle
// snapshot when none is active.
func (m *Manager) GetState(playerID string) ttypes.AudioSession {
	m.mu.Lock()
	var cur *Session
	if sl, ok := m.slots[playerID]; ok {
		cur = sl.current
	}
	m.mu.Unlock()

	if cur == nil {
		return ttypes.AudioSession{PlayerID: playerID, State: ttypes.PlaybackIdle, Volume: 1.0, Rate: 1.0}
	}
	return cur.Snapshot()
}

// OnProgress subscribes fn to snapshots of every session on playerID,
// current and future. The returned func unsubscribes.
func (m *Manager) OnProgress(playerID string, fn ProgressFunc) func() {
	sl := m.slotFor(playerID, true)

	m.mu.Lock()
	id := sl.nextSub
	sl.nextSub++
	sl.subs = append(sl.subs, subscription{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			sl.subs = slices.DeleteFunc(sl.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

// Sessions returns snapshots of all active sessions ordered by player id.
func (m *Manager) Sessions() []ttypes.AudioSession {
	m.mu.Lock()
	var active []*Session
	for _, sl := range m.slots {
		if sl.current != nil {
			active = append(active, sl.current)
		}
	}
	m.mu.Unlock()

	out := make([]ttypes.AudioSession, 0, len(active))
	for _, s := range active {
		out = append(out, s.Snapshot())
	}
	slices.SortFunc(out, func(a, b ttypes.AudioSession) int {
		switch {
		case a.PlayerID < b.PlayerID:
			return -1
		case a.PlayerID > b.PlayerID:
			return 1
		}
		return 0
	})
	return out
}

// StopAll stops every active session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Stop(id)
	}
}

// Close stops all sessions and closes the device.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.StopAll()
	return m.device.Close()
}

func orDefault(v float64) float64 {
	if v == 0 {
		return 1.0
	}
	return v
}

func clampVolume(v float64) float64 {
	return min(max(v, 0), 1)
}
