package stt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// frameQueue is how many callback buffers may wait for the recognizer
// before new audio is dropped.
const frameQueue = 64

// MalgoMicrophone captures from the default input device through miniaudio.
type MalgoMicrophone struct {
	logger *log.Logger
}

// NewMalgoMicrophone creates a microphone on the default capture device.
func NewMalgoMicrophone(logger *log.Logger) *MalgoMicrophone {
	if logger == nil {
		logger = log.WithPrefix("stt")
	}
	return &MalgoMicrophone{logger: logger}
}

// CheckPermission initializes a miniaudio context and requires at least
// one capture device. Platforms that gate microphone access fail here.
func (m *MalgoMicrophone) CheckPermission(_ context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ttypes.ErrPermissionDenied, err)
	}
	defer func() { _ = mctx.Uninit(); mctx.Free() }()

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("%w: list capture devices: %v", ttypes.ErrPermissionDenied, err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no capture device", ttypes.ErrPermissionDenied)
	}
	return nil
}

// Open starts capturing mono 16-bit audio at sampleRate.
func (m *MalgoMicrophone) Open(_ context.Context, sampleRate int) (Capture, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.Alsa.NoMMap = 1

	c := &malgoCapture{
		ctx:        mctx,
		frames:     make(chan []byte, frameQueue),
		sampleRate: sampleRate,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_ []byte, raw []byte, _ uint32) {
			if len(raw) == 0 {
				return
			}
			frame := make([]byte, len(raw))
			copy(frame, raw)
			select {
			case c.frames <- frame:
			default:
				c.drops.Add(1)
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	c.device = device

	if err := device.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("start capture: %w", err)
	}

	m.logger.Debug("Microphone opened", "sample_rate", sampleRate)
	c.logger = m.logger
	return c, nil
}

type malgoCapture struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	frames     chan []byte
	sampleRate int
	drops      atomic.Int64
	logger     *log.Logger
	closeOnce  sync.Once
}

func (c *malgoCapture) Frames() <-chan []byte { return c.frames }

func (c *malgoCapture) SampleRate() int { return c.sampleRate }

func (c *malgoCapture) Close() error {
	c.closeOnce.Do(func() {
		if c.device != nil {
			_ = c.device.Stop()
			c.device.Uninit()
		}
		_ = c.ctx.Uninit()
		c.ctx.Free()

		// no callbacks run after Uninit
		close(c.frames)

		if n := c.drops.Load(); n > 0 && c.logger != nil {
			c.logger.Warn("Dropped microphone frames", "count", n)
		}
	})
	return nil
}
