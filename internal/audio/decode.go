package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// resampleQuality trades CPU for fidelity; 4 is plenty for speech.
const resampleQuality = 4

// Defaults for raw PCM payloads that do not say otherwise.
const (
	DefaultPCMRate     = 22050
	DefaultPCMChannels = 1
)

// Clip is a decoded payload held in memory as stereo samples at the
// device sample rate.
type Clip struct {
	buf *beep.Buffer
}

// Decode turns a payload into a clip at sampleRate. MP3 and WAV are decoded
// with beep; raw PCM is 16-bit little endian. A payload without a format tag
// is sniffed.
func Decode(p ttypes.AudioPayload, sampleRate int) (*Clip, error) {
	if p.Empty() {
		return nil, fmt.Errorf("empty payload: %w", ttypes.ErrInvalidAudio)
	}

	format := p.Format
	if format == "" {
		format = Sniff(p.Data)
	}

	var (
		s   beep.Streamer
		f   beep.Format
		err error
	)
	switch format {
	case ttypes.FormatMP3:
		var sc beep.StreamSeekCloser
		sc, f, err = mp3.Decode(io.NopCloser(bytes.NewReader(p.Data)))
		if err == nil {
			defer sc.Close()
			s = sc
		}
	case ttypes.FormatWAV:
		var sc beep.StreamSeekCloser
		sc, f, err = wav.Decode(bytes.NewReader(p.Data))
		if err == nil {
			defer sc.Close()
			s = sc
		}
	case ttypes.FormatPCM:
		s, f = newPCMStreamer(p)
	default:
		return nil, fmt.Errorf("unknown format %q: %w", format, ttypes.ErrInvalidAudio)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", format, err, ttypes.ErrInvalidAudio)
	}

	target := beep.SampleRate(sampleRate)
	if f.SampleRate != target {
		s = beep.Resample(resampleQuality, f.SampleRate, target, s)
	}

	buf := beep.NewBuffer(beep.Format{SampleRate: target, NumChannels: 2, Precision: 2})
	buf.Append(s)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", format, err, ttypes.ErrInvalidAudio)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("decode %s: no samples: %w", format, ttypes.ErrInvalidAudio)
	}

	return &Clip{buf: buf}, nil
}

// Sniff guesses the format from magic bytes, falling back to raw PCM.
func Sniff(data []byte) ttypes.AudioFormat {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return ttypes.FormatWAV
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return ttypes.FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return ttypes.FormatMP3
	default:
		return ttypes.FormatPCM
	}
}

// Len returns the clip length in samples.
func (c *Clip) Len() int {
	return c.buf.Len()
}

// SampleRate returns the clip sample rate.
func (c *Clip) SampleRate() beep.SampleRate {
	return c.buf.Format().SampleRate
}

// Duration returns the clip length.
func (c *Clip) Duration() time.Duration {
	return c.SampleRate().D(c.buf.Len())
}

// Streamer returns a fresh seekable streamer over the whole clip.
func (c *Clip) Streamer() beep.StreamSeeker {
	return c.buf.Streamer(0, c.buf.Len())
}

// pcmStreamer streams signed 16-bit little-endian PCM.
type pcmStreamer struct {
	data     []byte
	channels int
	pos      int
}

func newPCMStreamer(p ttypes.AudioPayload) (beep.Streamer, beep.Format) {
	rate := p.SampleRate
	if rate <= 0 {
		rate = DefaultPCMRate
	}
	ch := p.Channels
	if ch != 2 {
		ch = DefaultPCMChannels
	}
	return &pcmStreamer{data: p.Data, channels: ch}, beep.Format{
		SampleRate:  beep.SampleRate(rate),
		NumChannels: ch,
		Precision:   2,
	}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	frame := 2 * s.channels
	n := 0
	for n < len(samples) && s.pos+frame <= len(s.data) {
		left := float64(int16(binary.LittleEndian.Uint16(s.data[s.pos:]))) / 32768
		right := left
		if s.channels == 2 {
			right = float64(int16(binary.LittleEndian.Uint16(s.data[s.pos+2:]))) / 32768
		}
		samples[n] = [2]float64{left, right}
		s.pos += frame
		n++
	}
	return n, n > 0
}

func (s *pcmStreamer) Err() error {
	return nil
}
