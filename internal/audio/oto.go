package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/faiface/beep"
)

// OtoDevice plays clips through the system audio output using oto. oto
// allows one context per process, so a program holds one OtoDevice.
type OtoDevice struct {
	context *oto.Context
	config  DeviceConfig
	mu      sync.Mutex
	closed  bool
}

// NewOtoDevice opens the system audio output.
func NewOtoDevice(config DeviceConfig) (*OtoDevice, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE, // 16-bit little endian
		BufferSize:   time.Duration(config.BufferSize) * time.Second / time.Duration(config.SampleRate*config.Channels*2),
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for context to be ready
	<-readyChan

	return &OtoDevice{context: ctx, config: config}, nil
}

// SampleRate returns the device rate.
func (d *OtoDevice) SampleRate() int {
	return d.config.SampleRate
}

// Open creates a paused oto player over the clip.
func (d *OtoDevice) Open(clip *Clip) (Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("device is closed")
	}

	out := &otoOutput{clip: clip, seeker: clip.Streamer()}
	out.resampler = beep.ResampleRatio(resampleQuality, 1.0, out.seeker)
	out.reader = &sampleReader{mu: &out.mu, s: out.resampler, channels: d.config.Channels}

	out.player = d.context.NewPlayer(out.reader)
	if out.player == nil {
		return nil, fmt.Errorf("failed to create oto player")
	}
	return out, nil
}

// Close marks the device closed. oto v3 contexts cannot be closed; the
// context is released with the process.
func (d *OtoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// otoOutput keeps the clip alive while oto pulls samples from it.
type otoOutput struct {
	mu        sync.Mutex
	clip      *Clip
	seeker    beep.StreamSeeker
	resampler *beep.Resampler
	reader    *sampleReader
	player    *oto.Player
}

func (o *otoOutput) Play()  { o.player.Play() }
func (o *otoOutput) Pause() { o.player.Pause() }

func (o *otoOutput) SetVolume(v float64) {
	o.player.SetVolume(v)
}

// SetRate changes speed by resampling, which also shifts pitch.
func (o *otoOutput) SetRate(r float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resampler.SetRatio(r)
}

func (o *otoOutput) Seek(d time.Duration) error {
	o.mu.Lock()
	n := min(o.clip.SampleRate().N(d), o.clip.Len())
	err := o.seeker.Seek(n)
	o.reader.eof = false
	o.mu.Unlock()
	if err != nil {
		return err
	}

	// Drop what oto already buffered from the old position.
	_, err = o.player.Seek(0, io.SeekCurrent)
	return err
}

func (o *otoOutput) Position() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clip.SampleRate().D(o.seeker.Position())
}

func (o *otoOutput) Finished() bool {
	o.mu.Lock()
	eof := o.reader.eof
	o.mu.Unlock()
	return eof && !o.player.IsPlaying()
}

func (o *otoOutput) Err() error {
	return o.player.Err()
}

func (o *otoOutput) Close() error {
	o.player.Pause()
	return o.player.Close()
}

// sampleReader encodes beep samples as signed 16-bit little-endian frames
// for oto.
type sampleReader struct {
	mu       *sync.Mutex
	s        beep.Streamer
	channels int
	buf      [][2]float64
	eof      bool
}

func (r *sampleReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eof {
		return 0, io.EOF
	}

	frameSize := 2 * r.channels
	frames := len(p) / frameSize
	if frames == 0 {
		return 0, nil
	}
	if cap(r.buf) < frames {
		r.buf = make([][2]float64, frames)
	}
	buf := r.buf[:frames]

	n, ok := r.s.Stream(buf)
	off := 0
	for i := 0; i < n; i++ {
		if r.channels == 1 {
			putSample(p[off:], (buf[i][0]+buf[i][1])/2)
			off += 2
			continue
		}
		putSample(p[off:], buf[i][0])
		putSample(p[off+2:], buf[i][1])
		off += 4
	}

	if !ok || n == 0 {
		r.eof = true
		if off == 0 {
			return 0, io.EOF
		}
	}
	return off, nil
}

// Seek satisfies io.Seeker so that oto.Player.Seek flushes its buffer. The
// position itself is moved on the beep streamer.
func (r *sampleReader) Seek(int64, int) (int64, error) {
	return 0, nil
}

func putSample(p []byte, v float64) {
	v = math.Max(-1, math.Min(1, v))
	binary.LittleEndian.PutUint16(p, uint16(int16(v*32767)))
}
