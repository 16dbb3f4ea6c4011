package stt

import (
	"context"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Capture is an open microphone stream of 16-bit little-endian mono PCM.
type Capture interface {
	// Frames delivers captured audio. It is closed when the capture closes.
	Frames() <-chan []byte
	SampleRate() int

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Microphone is the exclusive capture device.
type Microphone interface {
	// CheckPermission reports whether capture may start, without opening
	// the device.
	CheckPermission(ctx context.Context) error

	Open(ctx context.Context, sampleRate int) (Capture, error)
}

// Stream is one running recognition.
type Stream interface {
	// Results delivers partial and final results. It is closed when the
	// recognition ends, after Finish or when the context is cancelled.
	Results() <-chan ttypes.RecognitionResult

	// Finish stops feeding audio and asks for the remaining results.
	Finish()

	// Err reports why the stream ended early, if it did.
	Err() error
}

// Recognizer turns captured audio into transcripts.
type Recognizer interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Recognize(ctx context.Context, config ttypes.RecognitionConfig, capture Capture) (Stream, error)
}
