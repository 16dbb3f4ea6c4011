package engines

import (
	"context"
	"sync"
	"time"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// MockProvider implements ttypes.Provider for tests. It is byte-returning
// or play-only depending on construction, and can be told to fail, stall
// or report itself unavailable.
type MockProvider struct {
	mu sync.Mutex

	name     string
	priority int
	caps     ttypes.Capabilities

	// Simulated processing delay
	delay time.Duration

	// Control for testing
	failureError error
	available    bool
	payload      ttypes.AudioPayload
	speakFor     time.Duration

	// State
	callCount int
	requests  []ttypes.SynthesisRequest
}

// NewMockProvider creates a mock adapter with all locales and wide ranges.
func NewMockProvider(name string, priority int, returnsBytes bool) *MockProvider {
	return &MockProvider{
		name:     name,
		priority: priority,
		caps: ttypes.Capabilities{
			ReturnsBytes: returnsBytes,
			Locales:      allLocales,
			RateRange:    ttypes.Range{Min: ttypes.MinRate, Max: ttypes.MaxRate},
			PitchRange:   ttypes.Range{Min: ttypes.MinPitch, Max: ttypes.MaxPitch},
			VolumeRange:  ttypes.Range{Min: ttypes.MinVolume, Max: ttypes.MaxVolume},
		},
		available: true,
		speakFor:  20 * time.Millisecond,
	}
}

// Descriptor returns the adapter's static configuration.
func (m *MockProvider) Descriptor() ttypes.ProviderDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ttypes.ProviderDescriptor{Name: m.name, Priority: m.priority, Capabilities: m.caps}
}

// IsAvailable returns the mock availability state.
func (m *MockProvider) IsAvailable(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Synthesize records the call and returns the configured payload, or a
// generated silent clip.
func (m *MockProvider) Synthesize(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.AudioPayload, error) {
	delay, ok, failure := m.record(req, true)
	if !ok {
		return ttypes.AudioPayload{}, ttypes.ErrUnsupported
	}
	if err := sleep(ctx, delay); err != nil {
		return ttypes.AudioPayload{}, err
	}
	if failure != nil {
		return ttypes.AudioPayload{}, failure
	}

	m.mu.Lock()
	payload := m.payload
	m.mu.Unlock()

	if payload.Empty() {
		return silence(req.Text), nil
	}
	payload.Data = append([]byte(nil), payload.Data...)
	return payload, nil
}

// Speak records the call and returns an utterance that finishes after a
// short simulated speaking time.
func (m *MockProvider) Speak(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.Utterance, error) {
	delay, ok, failure := m.record(req, false)
	if !ok {
		return nil, ttypes.ErrUnsupported
	}
	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}

	m.mu.Lock()
	d := m.speakFor
	m.mu.Unlock()
	return newTimedUtterance(ctx, d), nil
}

// record counts a call and reports whether the mode matches the capability.
func (m *MockProvider) record(req ttypes.SynthesisRequest, wantBytes bool) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.requests = append(m.requests, req)
	return m.delay, m.caps.ReturnsBytes == wantBytes, m.failureError
}

// Close marks the mock unavailable.
func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = false
	return nil
}

// Test control methods

// SetDelay sets the simulated processing delay.
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetFailure configures the adapter to fail with the given error.
func (m *MockProvider) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureError = err
}

// ClearFailure resets the adapter to normal operation.
func (m *MockProvider) ClearFailure() {
	m.SetFailure(nil)
}

// SetAvailable sets the availability state.
func (m *MockProvider) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// SetPayload sets the audio returned by Synthesize.
func (m *MockProvider) SetPayload(p ttypes.AudioPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = p
}

// SetSpeakDuration sets how long a play-only utterance lasts.
func (m *MockProvider) SetSpeakDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speakFor = d
}

// SetCapabilities replaces the advertised capabilities.
func (m *MockProvider) SetCapabilities(c ttypes.Capabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps = c
}

// CallCount returns the number of Synthesize and Speak calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest returns the most recent request, if any.
func (m *MockProvider) LastRequest() (ttypes.SynthesisRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ttypes.SynthesisRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// silence generates 16-bit mono PCM of roughly the spoken length of text.
func silence(text string) ttypes.AudioPayload {
	const sampleRate = 22050
	d := time.Duration(len([]rune(text))) * 80 * time.Millisecond
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	samples := int(d.Seconds() * sampleRate)
	return ttypes.AudioPayload{
		Data:       make([]byte, samples*2),
		Format:     ttypes.FormatPCM,
		SampleRate: sampleRate,
		Channels:   1,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timedUtterance finishes after a fixed duration, on Stop, or when ctx ends.
type timedUtterance struct {
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func newTimedUtterance(ctx context.Context, d time.Duration) *timedUtterance {
	u := &timedUtterance{done: make(chan struct{}), stop: make(chan struct{})}
	go func() {
		defer close(u.done)
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-u.stop:
		case <-ctx.Done():
			u.mu.Lock()
			u.err = ctx.Err()
			u.mu.Unlock()
		}
	}()
	return u
}

func (u *timedUtterance) Done() <-chan struct{} { return u.done }

func (u *timedUtterance) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

func (u *timedUtterance) Stop() error {
	u.stopOnce.Do(func() { close(u.stop) })
	<-u.done
	return nil
}

var _ ttypes.Provider = (*MockProvider)(nil)
