package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// MockDevice is a Device that produces no sound. Outputs advance on the
// wall clock, scaled by rate and by the device speed factor, so tests can
// play long clips quickly.
type MockDevice struct {
	sampleRate int

	mu      sync.Mutex
	speed   float64
	openErr error
	outputs []*MockOutput
	closed  bool

	// Metrics for testing
	openCount  atomic.Int64
	closeCount atomic.Int64
}

// NewMockDevice creates a mock device. A low sample rate keeps decoding in
// tests cheap.
func NewMockDevice(sampleRate int) *MockDevice {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	return &MockDevice{sampleRate: sampleRate, speed: 1.0}
}

// SampleRate returns the device rate.
func (d *MockDevice) SampleRate() int {
	return d.sampleRate
}

// Open returns a paused mock output, or the configured open error.
func (d *MockDevice) Open(clip *Clip) (Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("device is closed")
	}
	if d.openErr != nil {
		return nil, d.openErr
	}

	out := &MockOutput{
		device:   d,
		duration: clip.Duration(),
		volume:   1.0,
		rate:     1.0,
	}
	d.outputs = append(d.outputs, out)
	d.openCount.Add(1)
	return out, nil
}

// Close marks the device closed.
func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Test control methods

// SetSpeed makes simulated playback run factor times faster than real time.
func (d *MockDevice) SetSpeed(factor float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speed = factor
}

// SetOpenError makes subsequent Open calls fail.
func (d *MockDevice) SetOpenError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// Outputs returns every output opened so far.
func (d *MockDevice) Outputs() []*MockOutput {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockOutput(nil), d.outputs...)
}

// Metrics returns open and close counts.
func (d *MockDevice) Metrics() (opened, closed int64) {
	return d.openCount.Load(), d.closeCount.Load()
}

func (d *MockDevice) speedFactor() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speed
}

// MockOutput simulates one stream.
type MockOutput struct {
	device   *MockDevice
	duration time.Duration

	mu      sync.Mutex
	playing bool
	closed  bool
	base    time.Duration
	since   time.Time
	volume  float64
	rate    float64
	err     error
}

func (o *MockOutput) Play() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.playing || o.closed {
		return
	}
	o.playing = true
	o.since = time.Now()
}

func (o *MockOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.playing {
		return
	}
	o.base = o.positionLocked()
	o.playing = false
}

func (o *MockOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = v
}

func (o *MockOutput) SetRate(r float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rebaseLocked()
	o.rate = r
}

func (o *MockOutput) Seek(d time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.base = min(max(d, 0), o.duration)
	o.since = time.Now()
	return nil
}

func (o *MockOutput) Position() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.positionLocked()
}

func (o *MockOutput) Finished() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.positionLocked() >= o.duration
}

func (o *MockOutput) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *MockOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.base = o.positionLocked()
	o.playing = false
	o.closed = true
	o.device.closeCount.Add(1)
	return nil
}

// Test helper methods

// Volume returns the last volume set.
func (o *MockOutput) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Rate returns the last rate set.
func (o *MockOutput) Rate() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rate
}

// Playing reports whether the output is playing.
func (o *MockOutput) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

// Closed reports whether the output was released.
func (o *MockOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Fail injects an asynchronous device error.
func (o *MockOutput) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *MockOutput) rebaseLocked() {
	o.base = o.positionLocked()
	o.since = time.Now()
}

func (o *MockOutput) positionLocked() time.Duration {
	if !o.playing {
		return o.base
	}
	elapsed := time.Since(o.since)
	pos := o.base + time.Duration(float64(elapsed)*o.rate*o.device.speedFactor())
	return min(pos, o.duration)
}
