package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Session is one playback on a player id. It is either backed by a device
// output playing a decoded clip, or wraps an utterance from a play-only
// provider, in which case pause, resume, seek, volume and rate are no-ops.
type Session struct {
	id       string
	playerID string
	out      Output
	utter    ttypes.Utterance
	duration time.Duration
	interval time.Duration

	emit  func(ttypes.AudioSession)
	onEnd func(*Session)

	mu        sync.Mutex
	state     ttypes.PlaybackState
	volume    float64
	rate      float64
	completed bool
	err       error
	startedAt time.Time
	final     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
	done     chan struct{}
	endOnce  sync.Once
}

func newSession(playerID string, interval time.Duration) *Session {
	return &Session{
		id:       uuid.NewString(),
		playerID: playerID,
		interval: interval,
		state:    ttypes.PlaybackLoading,
		volume:   1.0,
		rate:     1.0,
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// PlayerID returns the player slot the session runs on.
func (s *Session) PlayerID() string { return s.playerID }

// Done is closed after the session ends and its resources are released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports a device failure that ended the session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot returns the current state.
func (s *Session) Snapshot() ttypes.AudioSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() ttypes.AudioSession {
	return ttypes.AudioSession{
		PlayerID:   s.playerID,
		SessionID:  s.id,
		State:      s.state,
		PositionMs: s.positionLocked().Milliseconds(),
		DurationMs: s.duration.Milliseconds(),
		Volume:     s.volume,
		Rate:       s.rate,
		Completed:  s.completed,
	}
}

func (s *Session) positionLocked() time.Duration {
	switch {
	case s.state == ttypes.PlaybackStopped:
		return s.final
	case s.out != nil:
		return s.out.Position()
	case s.state == ttypes.PlaybackPlaying:
		return time.Since(s.startedAt)
	default:
		return 0
	}
}

// begin starts playback and the progress loop.
func (s *Session) begin() {
	s.mu.Lock()
	if s.out != nil {
		s.out.Play()
	}
	s.state = ttypes.PlaybackPlaying
	s.startedAt = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
	go s.loop()
}

func (s *Session) loop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var utterDone <-chan struct{}
	if s.utter != nil {
		utterDone = s.utter.Done()
	}

	for {
		select {
		case <-s.stop:
			return

		case <-utterDone:
			err := s.utter.Err()
			if err != nil {
				err = fmt.Errorf("%w: %v", ttypes.ErrPlaybackDevice, err)
			}
			s.finish(err == nil, err)
			return

		case <-ticker.C:
			if s.out != nil {
				if err := s.out.Err(); err != nil {
					s.finish(false, fmt.Errorf("%w: %v", ttypes.ErrPlaybackDevice, err))
					return
				}
			}

			s.mu.Lock()
			playing := s.state == ttypes.PlaybackPlaying
			snap := s.snapshotLocked()
			s.mu.Unlock()

			if !playing {
				continue
			}
			// a paused clip seeked to its end is not complete
			if s.out != nil && s.out.Finished() {
				s.finish(true, nil)
				return
			}
			s.emit(snap)
		}
	}
}

// finish releases resources and emits the terminal snapshot exactly once.
func (s *Session) finish(completed bool, err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		if completed {
			s.final = s.duration
			if s.out == nil {
				s.final = time.Since(s.startedAt)
			}
		} else {
			s.final = s.positionLocked()
		}
		s.state = ttypes.PlaybackStopped
		s.completed = completed
		s.err = err
		snap := s.snapshotLocked()
		s.mu.Unlock()

		if s.out != nil {
			_ = s.out.Close()
		}
		if s.utter != nil && !completed {
			_ = s.utter.Stop()
		}

		s.emit(snap)
		s.onEnd(s)
		close(s.done)
	})
}

// halt stops the session. No progress callback fires after halt returns
// other than the terminal snapshot it emits itself.
func (s *Session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.loopDone
	s.finish(false, nil)
}

func (s *Session) pause() {
	s.mu.Lock()
	if s.state != ttypes.PlaybackPlaying || s.out == nil {
		s.mu.Unlock()
		return
	}
	s.out.Pause()
	s.state = ttypes.PlaybackPaused
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
}

func (s *Session) resume() {
	s.mu.Lock()
	if s.state != ttypes.PlaybackPaused {
		s.mu.Unlock()
		return
	}
	s.out.Play()
	s.state = ttypes.PlaybackPlaying
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
}

func (s *Session) seek(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil || s.state == ttypes.PlaybackStopped {
		return nil
	}
	d = min(max(d, 0), s.duration)
	if err := s.out.Seek(d); err != nil {
		return fmt.Errorf("%w: seek: %v", ttypes.ErrPlaybackDevice, err)
	}
	return nil
}

func (s *Session) setVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	if s.out != nil && s.state != ttypes.PlaybackStopped {
		s.out.SetVolume(v)
	}
}

func (s *Session) setRate(r float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = r
	if s.out != nil && s.state != ttypes.PlaybackStopped {
		s.out.SetRate(r)
	}
}
