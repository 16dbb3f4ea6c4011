package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// MockEvent is one scripted recognizer event, delivered After the
// previous one.
type MockEvent struct {
	After  time.Duration
	Result ttypes.RecognitionResult
	Err    error // ends the stream with this error
}

// MockRecognizer replays a script of results.
type MockRecognizer struct {
	mu           sync.Mutex
	name         string
	available    bool
	script       []MockEvent
	startErr     error
	ignoreFinish bool
	calls        int
	lastConfig   ttypes.RecognitionConfig
}

// NewMockRecognizer creates an available mock that plays events.
func NewMockRecognizer(events ...MockEvent) *MockRecognizer {
	return &MockRecognizer{name: "mock", available: true, script: events}
}

func (m *MockRecognizer) Name() string { return m.name }

func (m *MockRecognizer) IsAvailable(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Recognize starts replaying the script.
func (m *MockRecognizer) Recognize(ctx context.Context, config ttypes.RecognitionConfig, _ Capture) (Stream, error) {
	m.mu.Lock()
	m.calls++
	m.lastConfig = config
	script := append([]MockEvent(nil), m.script...)
	startErr := m.startErr
	ignoreFinish := m.ignoreFinish
	m.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}

	s := &mockStream{
		results: make(chan ttypes.RecognitionResult),
		finish:  make(chan struct{}),
	}
	go s.run(ctx, script, ignoreFinish)
	return s, nil
}

// Test control methods

// SetScript replaces the events played by later sessions.
func (m *MockRecognizer) SetScript(events ...MockEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = events
}

// SetAvailable controls IsAvailable.
func (m *MockRecognizer) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// SetStartError makes Recognize fail.
func (m *MockRecognizer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetIgnoreFinish makes streams ignore Finish and end only on cancellation,
// like a provider that never delivers a final result.
func (m *MockRecognizer) SetIgnoreFinish(ignore bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoreFinish = ignore
}

// Calls returns how many sessions were started.
func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastConfig returns the config of the latest session.
func (m *MockRecognizer) LastConfig() ttypes.RecognitionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConfig
}

type mockStream struct {
	results    chan ttypes.RecognitionResult
	finish     chan struct{}
	finishOnce sync.Once

	mu  sync.Mutex
	err error
}

func (s *mockStream) Results() <-chan ttypes.RecognitionResult { return s.results }

func (s *mockStream) Finish() {
	s.finishOnce.Do(func() { close(s.finish) })
}

func (s *mockStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *mockStream) run(ctx context.Context, script []MockEvent, ignoreFinish bool) {
	defer close(s.results)

	finish := s.finish
	if ignoreFinish {
		finish = nil
	}

	for _, ev := range script {
		timer := time.NewTimer(ev.After)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-finish:
			timer.Stop()
			return
		case <-timer.C:
		}

		if ev.Err != nil {
			s.mu.Lock()
			s.err = ev.Err
			s.mu.Unlock()
			return
		}

		select {
		case s.results <- ev.Result:
		case <-ctx.Done():
			return
		}
	}

	select {
	case <-ctx.Done():
	case <-finish:
	}
}

// MockMicrophone is an exclusive fake capture device.
type MockMicrophone struct {
	mu      sync.Mutex
	denied  error
	openErr error
	active  bool
	opened  int
	closed  int
}

// NewMockMicrophone creates a permitted mock microphone.
func NewMockMicrophone() *MockMicrophone {
	return &MockMicrophone{}
}

func (m *MockMicrophone) CheckPermission(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.denied
}

// Open fails while another capture is still open.
func (m *MockMicrophone) Open(_ context.Context, sampleRate int) (Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.active {
		return nil, errors.New("microphone busy")
	}
	m.active = true
	m.opened++
	return &mockCapture{mic: m, frames: make(chan []byte), sampleRate: sampleRate}, nil
}

// Test control methods

// SetDenied makes CheckPermission fail.
func (m *MockMicrophone) SetDenied(denied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied = nil
	if denied {
		m.denied = fmt.Errorf("%w: denied by user", ttypes.ErrPermissionDenied)
	}
}

// SetOpenError makes Open fail.
func (m *MockMicrophone) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// Active reports whether a capture is open.
func (m *MockMicrophone) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Counts returns open and close counts.
func (m *MockMicrophone) Counts() (opened, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

type mockCapture struct {
	mic        *MockMicrophone
	frames     chan []byte
	sampleRate int
	once       sync.Once
}

func (c *mockCapture) Frames() <-chan []byte { return c.frames }

func (c *mockCapture) SampleRate() int { return c.sampleRate }

func (c *mockCapture) Close() error {
	c.once.Do(func() {
		close(c.frames)
		c.mic.mu.Lock()
		c.mic.active = false
		c.mic.closed++
		c.mic.mu.Unlock()
	})
	return nil
}
