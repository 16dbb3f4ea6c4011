package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Recognition outcomes reported to the Observer.
const (
	OutcomeFinal     = "final"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
	OutcomeRejected  = "rejected"
)

// Config configures a Manager.
type Config struct {
	// Grace bounds how long a stop waits for the recognizer to deliver a
	// final result before the session is torn down.
	Grace time.Duration

	// PartialPenalty scales the confidence of a partial result returned in
	// place of a final one.
	PartialPenalty float64

	// DefaultDuration applies to RecognizeForDuration calls without one.
	DefaultDuration time.Duration

	// SampleRate is the capture rate requested from the microphone.
	SampleRate int
}

// DefaultConfig returns the default recognition settings.
func DefaultConfig() Config {
	return Config{
		Grace:           250 * time.Millisecond,
		PartialPenalty:  0.5,
		DefaultDuration: 5 * time.Second,
		SampleRate:      16000,
	}
}

// Callbacks receive the events of a listening session. Any may be nil.
// They run one at a time and must not call back into the Manager; cancel
// the context given to StartListening to end a session from a callback.
type Callbacks struct {
	OnPartial func(ttypes.RecognitionResult)
	OnFinal   func(ttypes.RecognitionResult)
	OnError   func(error)
}

// Observer receives the outcome of every recognition attempt.
type Observer interface {
	ObserveRecognition(outcome string, elapsed time.Duration)
}

// SessionInfo is a snapshot of the recognition session.
type SessionInfo struct {
	ID          string
	State       ttypes.RecognitionState
	PartialText string
	FinalText   string
	StartedAt   time.Time
	Deadline    time.Time
}

// Manager owns the microphone and runs at most one recognition session.
type Manager struct {
	recognizer Recognizer
	mic        Microphone
	config     Config
	logger     *log.Logger
	observer   Observer

	op sync.Mutex // serializes start, stop and cancel

	mu      sync.Mutex
	current *session
}

// NewManager creates a recognition manager.
func NewManager(recognizer Recognizer, mic Microphone, config Config, logger *log.Logger) *Manager {
	def := DefaultConfig()
	if config.Grace <= 0 {
		config.Grace = def.Grace
	}
	if config.PartialPenalty <= 0 || config.PartialPenalty > 1 {
		config.PartialPenalty = def.PartialPenalty
	}
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = def.DefaultDuration
	}
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if logger == nil {
		logger = log.WithPrefix("stt")
	}

	return &Manager{
		recognizer: recognizer,
		mic:        mic,
		config:     config,
		logger:     logger,
	}
}

// SetObserver installs an outcome observer. Call before listening.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// Recognizer returns the recognizer in use.
func (m *Manager) Recognizer() Recognizer {
	return m.recognizer
}

type session struct {
	id       string
	config   ttypes.RecognitionConfig
	cb       Callbacks
	penalty  float64
	started  time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	capture  Capture
	stream   Stream
	silenced atomic.Bool

	gate      sync.Mutex // held while a callback runs
	finalSent bool       // guarded by gate

	mu       sync.Mutex
	state    ttypes.RecognitionState
	partial  ttypes.RecognitionResult
	finals   []ttypes.RecognitionResult
	deadline time.Time
	timedOut bool
	outcome  string

	releaseOnce sync.Once
	done        chan struct{}
}

// StartListening opens the microphone and starts a session, stopping any
// session already listening first. It fails fast with ErrRecognizerUnavailable
// or ErrPermissionDenied before the microphone is opened.
func (m *Manager) StartListening(ctx context.Context, config ttypes.RecognitionConfig, cb Callbacks) (string, error) {
	s, err := m.start(ctx, config, cb)
	if err != nil {
		return "", err
	}
	return s.id, nil
}

func (m *Manager) start(ctx context.Context, config ttypes.RecognitionConfig, cb Callbacks) (*session, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if cur := m.active(); cur != nil {
		m.logger.Debug("Stopping previous session", "session", cur.id)
		m.stop(cur)
	}

	if config.Locale == "" {
		config.Locale = ttypes.DefaultLocale
	}
	config.MaxAlternatives = max(config.MaxAlternatives, 1)

	if !m.recognizer.IsAvailable(ctx) {
		m.observe(OutcomeRejected, 0)
		return nil, ttypes.NewSpeechError(
			fmt.Errorf("%w: %s", ttypes.ErrRecognizerUnavailable, m.recognizer.Name()), "stt", "start")
	}
	if err := m.mic.CheckPermission(ctx); err != nil {
		m.observe(OutcomeRejected, 0)
		return nil, ttypes.NewSpeechError(permissionError(err), "stt", "start")
	}

	capture, err := m.mic.Open(ctx, m.config.SampleRate)
	if err != nil {
		m.observe(OutcomeRejected, 0)
		return nil, ttypes.NewSpeechError(permissionError(err), "stt", "open microphone")
	}

	sctx, cancel := context.WithCancel(ctx)
	stream, err := m.recognizer.Recognize(sctx, config, capture)
	if err != nil {
		cancel()
		_ = capture.Close()
		m.observe(OutcomeError, 0)
		return nil, ttypes.NewSpeechError(
			fmt.Errorf("%w: %v", ttypes.ErrRecognizerUnavailable, err), "stt", "recognize")
	}

	s := &session{
		id:      uuid.NewString(),
		config:  config,
		cb:      cb,
		penalty: m.config.PartialPenalty,
		started: time.Now(),
		ctx:     sctx,
		cancel:  cancel,
		capture: capture,
		stream:  stream,
		state:   ttypes.RecognitionListening,
		outcome: OutcomeFinal,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.logger.Debug("Listening", "session", s.id, "recognizer", m.recognizer.Name(), "locale", config.Locale)
	go m.run(s)
	return s, nil
}

func permissionError(err error) error {
	if errors.Is(err, ttypes.ErrPermissionDenied) {
		return err
	}
	return fmt.Errorf("%w: %v", ttypes.ErrPermissionDenied, err)
}

func (m *Manager) active() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// run consumes recognizer results until the stream ends.
func (m *Manager) run(s *session) {
	defer m.release(s)

	for res := range s.stream.Results() {
		if !res.IsFinal {
			s.mu.Lock()
			s.partial = res
			s.mu.Unlock()
			if s.config.PartialResults {
				s.deliverPartial(res)
			}
			continue
		}

		s.mu.Lock()
		s.finals = append(s.finals, res)
		s.partial = ttypes.RecognitionResult{}
		s.mu.Unlock()

		if !s.config.Continuous {
			s.deliverFinal(s.best(), false)
			return
		}
		if s.config.PartialResults {
			// running transcript of everything finalized so far
			running := s.best()
			running.IsFinal = false
			s.deliverPartial(running)
		}
	}

	s.mu.Lock()
	finishing := s.state == ttypes.RecognitionFinalizing
	s.mu.Unlock()

	// cancelled by the caller's context rather than finished
	if s.ctx.Err() != nil && !finishing {
		s.mu.Lock()
		s.outcome = OutcomeCancelled
		s.mu.Unlock()
		return
	}

	if err := s.stream.Err(); err != nil && !s.silenced.Load() {
		s.mu.Lock()
		s.state = ttypes.RecognitionError
		s.outcome = OutcomeError
		s.mu.Unlock()

		m.logger.Error("Recognition failed", "session", s.id, "error", err)
		s.deliverError(ttypes.NewSpeechError(err, "stt", "recognize"))
		return
	}

	s.deliverFinal(s.best(), false)
}

// release frees the microphone and clears the session. Idempotent.
func (m *Manager) release(s *session) {
	s.releaseOnce.Do(func() {
		s.cancel()
		_ = s.capture.Close()

		m.mu.Lock()
		if m.current == s {
			m.current = nil
		}
		m.mu.Unlock()

		s.mu.Lock()
		if s.state != ttypes.RecognitionError {
			s.state = ttypes.RecognitionDone
		}
		outcome := s.outcome
		s.mu.Unlock()

		elapsed := time.Since(s.started)
		m.logger.Debug("Recognition ended", "session", s.id, "outcome", outcome, "elapsed", elapsed)
		m.observe(outcome, elapsed)
		close(s.done)
	})
}

func (m *Manager) observe(outcome string, elapsed time.Duration) {
	if m.observer != nil {
		m.observer.ObserveRecognition(outcome, elapsed)
	}
}

// stop asks the recognizer for a final result and waits up to the grace
// period; after that the best result so far is delivered and the session
// torn down.
func (m *Manager) stop(s *session) {
	s.mu.Lock()
	if s.state == ttypes.RecognitionListening {
		s.state = ttypes.RecognitionFinalizing
	}
	s.mu.Unlock()

	s.stream.Finish()

	timer := time.NewTimer(m.config.Grace)
	defer timer.Stop()

	select {
	case <-s.done:
		return
	case <-timer.C:
	}

	s.deliverFinal(s.best(), true)
	m.release(s)
}

// abort silences callbacks and tears the session down. A callback already
// running is waited for.
func (m *Manager) abort(s *session, outcome string) {
	s.silence()
	s.mu.Lock()
	s.outcome = outcome
	s.mu.Unlock()
	m.release(s)
}

// StopListening ends the current session, delivering its final result
// through OnFinal. Safe to call when idle.
func (m *Manager) StopListening() {
	m.op.Lock()
	defer m.op.Unlock()

	if s := m.active(); s != nil {
		m.stop(s)
	}
}

// CancelListening discards the current session. No callback fires after
// it returns. Safe to call when idle.
func (m *Manager) CancelListening() {
	m.op.Lock()
	defer m.op.Unlock()

	if s := m.active(); s != nil {
		m.abort(s, OutcomeCancelled)
	}
}

// RecognizeForDuration listens for at most d and returns the best result.
// At the deadline the recognizer gets the grace period to deliver a final
// result; otherwise the last partial is returned with reduced confidence
// and TimedOut set. It never blocks past d plus the grace period.
func (m *Manager) RecognizeForDuration(ctx context.Context, config ttypes.RecognitionConfig, d time.Duration) (ttypes.RecognitionResult, error) {
	if d <= 0 {
		d = config.Duration
	}
	if d <= 0 {
		d = m.config.DefaultDuration
	}

	finals := make(chan ttypes.RecognitionResult, 1)
	errs := make(chan error, 1)
	cb := Callbacks{
		OnFinal: func(r ttypes.RecognitionResult) {
			select {
			case finals <- r:
			default:
			}
		},
		OnError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	}

	s, err := m.start(ctx, config, cb)
	if err != nil {
		return ttypes.RecognitionResult{}, err
	}
	s.mu.Lock()
	s.deadline = s.started.Add(d)
	s.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-finals:
		return r, nil
	case err := <-errs:
		return ttypes.RecognitionResult{}, err
	case <-ctx.Done():
		m.abort(s, OutcomeCancelled)
		return ttypes.RecognitionResult{}, ctx.Err()
	case <-s.done:
		return ended(ctx, finals, errs)
	case <-timer.C:
	}

	s.mu.Lock()
	s.timedOut = true
	s.outcome = OutcomeTimeout
	if s.state == ttypes.RecognitionListening {
		s.state = ttypes.RecognitionFinalizing
	}
	s.mu.Unlock()
	s.stream.Finish()

	grace := time.NewTimer(m.config.Grace)
	defer grace.Stop()

	select {
	case r := <-finals:
		return r, nil
	case err := <-errs:
		return ttypes.RecognitionResult{}, err
	case <-s.done:
		return ended(ctx, finals, errs)
	case <-grace.C:
	}

	// best-effort result; the session is torn down without waiting on the
	// recognizer
	r := s.best()
	m.abort(s, OutcomeTimeout)
	m.logger.Debug("Recognition deadline reached", "session", s.id, "transcript", r.Transcript)
	return r, nil
}

// ended collects the outcome of a session that finished on its own, or
// was cancelled or replaced by another caller.
func ended(ctx context.Context, finals <-chan ttypes.RecognitionResult, errs <-chan error) (ttypes.RecognitionResult, error) {
	select {
	case r := <-finals:
		return r, nil
	case err := <-errs:
		return ttypes.RecognitionResult{}, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return ttypes.RecognitionResult{}, err
	}
	return ttypes.RecognitionResult{}, ttypes.NewSpeechError(context.Canceled, "stt", "recognize")
}

// Session returns a snapshot of the current session, or an idle snapshot.
func (m *Manager) Session() SessionInfo {
	s := m.active()
	if s == nil {
		return SessionInfo{State: ttypes.RecognitionIdle}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		ID:          s.id,
		State:       s.state,
		PartialText: s.partial.Transcript,
		StartedAt:   s.started,
		Deadline:    s.deadline,
	}
	if len(s.finals) > 0 {
		info.FinalText = joinFinals(s.finals).Transcript
	}
	return info
}

// Close cancels any session.
func (m *Manager) Close() error {
	m.CancelListening()
	return nil
}

func (s *session) deliverPartial(r ttypes.RecognitionResult) {
	if s.cb.OnPartial == nil {
		return
	}
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.silenced.Load() {
		return
	}
	s.cb.OnPartial(capAlternatives(r, s.config.MaxAlternatives))
}

// deliverFinal delivers r unless a final was already sent. With last set
// the session is silenced in the same step, so nothing follows the final.
func (s *session) deliverFinal(r ttypes.RecognitionResult, last bool) {
	s.gate.Lock()
	defer s.gate.Unlock()
	if last {
		defer s.silenced.Store(true)
	}
	if s.silenced.Load() || s.finalSent {
		return
	}
	s.finalSent = true
	if s.cb.OnFinal != nil {
		s.cb.OnFinal(r)
	}
}

func (s *session) deliverError(err error) {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.silenced.Load() || s.cb.OnError == nil {
		return
	}
	s.cb.OnError(err)
}

// silence stops further callbacks once any callback in progress returns.
func (s *session) silence() {
	s.gate.Lock()
	s.silenced.Store(true)
	s.gate.Unlock()
}

// best returns the joined finals, or the last partial with its confidence
// reduced when no final arrived.
func (s *session) best() ttypes.RecognitionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r ttypes.RecognitionResult
	switch {
	case len(s.finals) > 0:
		r = joinFinals(s.finals)
	case s.partial.Transcript != "":
		r = s.partial
		r.Confidence *= s.penalty
		r.IsFinal = false
		r.TimedOut = s.timedOut
	default:
		r.TimedOut = s.timedOut
	}
	return capAlternatives(r, s.config.MaxAlternatives)
}

// joinFinals concatenates final results. Confidence is the mean; the
// alternatives are those of the single final when there is only one.
func joinFinals(finals []ttypes.RecognitionResult) ttypes.RecognitionResult {
	if len(finals) == 1 {
		return finals[0]
	}

	var b strings.Builder
	var conf float64
	for _, f := range finals {
		appendTranscript(&b, f.Transcript)
		conf += f.Confidence
	}
	text := b.String()
	return ttypes.RecognitionResult{
		Transcript:   text,
		Confidence:   conf / float64(len(finals)),
		Alternatives: []ttypes.Alternative{{Transcript: text, Confidence: conf / float64(len(finals))}},
		IsFinal:      true,
	}
}

// appendTranscript joins with a space except between ideographs.
func appendTranscript(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.Len() > 0 {
		last, _ := utf8.DecodeLastRuneInString(b.String())
		first, _ := utf8.DecodeRuneInString(text)
		if !unicode.Is(unicode.Han, last) || !unicode.Is(unicode.Han, first) {
			b.WriteByte(' ')
		}
	}
	b.WriteString(text)
}

func capAlternatives(r ttypes.RecognitionResult, n int) ttypes.RecognitionResult {
	if n > 0 && len(r.Alternatives) > n {
		r.Alternatives = r.Alternatives[:n:n]
	}
	return r
}
