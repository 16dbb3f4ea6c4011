package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// pcmPayload returns ms milliseconds of mono 16-bit silence at rate.
func pcmPayload(ms, rate int) ttypes.AudioPayload {
	samples := rate * ms / 1000
	return ttypes.AudioPayload{
		Data:       make([]byte, samples*2),
		Format:     ttypes.FormatPCM,
		SampleRate: rate,
		Channels:   1,
	}
}

func TestDecode_PCM(t *testing.T) {
	clip, err := Decode(pcmPayload(500, 8000), 8000)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if clip.Len() != 4000 {
		t.Errorf("Len() = %d, want 4000", clip.Len())
	}
	if clip.Duration() != 500*time.Millisecond {
		t.Errorf("Duration() = %v, want 500ms", clip.Duration())
	}
}

func TestDecode_Resamples(t *testing.T) {
	clip, err := Decode(pcmPayload(1000, 22050), 44100)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if int(clip.SampleRate()) != 44100 {
		t.Errorf("SampleRate() = %d, want 44100", clip.SampleRate())
	}
	// Resampling may drop a few edge samples
	if d := clip.Duration(); d < 990*time.Millisecond || d > 1010*time.Millisecond {
		t.Errorf("Duration() = %v, want about 1s", d)
	}
}

func TestDecode_WAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	format := beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2}
	silence := beep.Take(format.SampleRate.N(250*time.Millisecond), beep.Silence(-1))
	if err := wav.Encode(f, silence, format); err != nil {
		t.Fatalf("wav.Encode failed: %v", err)
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := Sniff(data); got != ttypes.FormatWAV {
		t.Errorf("Sniff() = %q, want wav", got)
	}

	// Format left empty: Decode sniffs it
	clip, err := Decode(ttypes.AudioPayload{Data: data}, 8000)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if clip.Duration() != 250*time.Millisecond {
		t.Errorf("Duration() = %v, want 250ms", clip.Duration())
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload ttypes.AudioPayload
	}{
		{"empty", ttypes.AudioPayload{Format: ttypes.FormatMP3}},
		{"garbage mp3", ttypes.AudioPayload{Data: []byte("definitely not audio"), Format: ttypes.FormatMP3}},
		{"garbage wav", ttypes.AudioPayload{Data: []byte("RIFF....WAVEjunk"), Format: ttypes.FormatWAV}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload, 8000)
			if !errors.Is(err, ttypes.ErrInvalidAudio) {
				t.Errorf("Decode() error = %v, want ErrInvalidAudio", err)
			}
		})
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want ttypes.AudioFormat
	}{
		{"id3", []byte("ID3\x04\x00\x00"), ttypes.FormatMP3},
		{"mpeg frame", []byte{0xFF, 0xFB, 0x90, 0x00}, ttypes.FormatMP3},
		{"riff", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), ttypes.FormatWAV},
		{"raw", []byte{0x00, 0x01, 0x02, 0x03}, ttypes.FormatPCM},
	}

	for _, tt := range tests {
		if got := Sniff(tt.data); got != tt.want {
			t.Errorf("%s: Sniff() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
