package audio

import (
	"errors"
	"fmt"
	"time"
)

// Device opens output streams on an audio device.
type Device interface {
	// Open prepares a paused output for the clip.
	Open(clip *Clip) (Output, error)

	// SampleRate is the rate clips must be decoded at.
	SampleRate() int

	Close() error
}

// Output is one stream on a device.
type Output interface {
	Play()
	Pause()
	SetVolume(v float64)
	SetRate(r float64)
	Seek(d time.Duration) error

	// Position is how far into the clip playback has progressed.
	Position() time.Duration

	// Finished reports whether the clip played to its end.
	Finished() bool

	// Err reports an asynchronous device failure.
	Err() error

	Close() error
}

// DeviceConfig contains configuration for the audio device.
type DeviceConfig struct {
	SampleRate int // 44100 or 48000 Hz only
	Channels   int // 1 = mono, 2 = stereo
	BitDepth   int // 16 bits per sample
	BufferSize int // bytes buffered by the device
}

// DefaultDeviceConfig returns the default device configuration.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		SampleRate: 44100, // CD quality
		Channels:   2,
		BitDepth:   16,
		BufferSize: 8192,
	}
}

// validateConfig validates the device configuration.
func validateConfig(config DeviceConfig) error {
	// oto only supports specific sample rates reliably
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}

	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}

	if config.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 16, got %d", config.BitDepth)
	}

	if config.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}

	return nil
}
