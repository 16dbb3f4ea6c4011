package stt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

func TestCleanTranscription(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  你好  ", "你好"},
		{"[BLANK_AUDIO]", ""},
		{"(keyboard clicking) xin chào\nbạn", "xin chào bạn"},
		{"hello [music] world", "hello world"},
	}
	for _, tt := range tests {
		if got := cleanTranscription(tt.in); got != tt.want {
			t.Errorf("cleanTranscription(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWhisperRecognizer_IsAvailable(t *testing.T) {
	model := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := os.WriteFile(model, []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewWhisperRecognizer(WhisperConfig{Model: model}, nil)
	r.lookPath = func(string) (string, error) { return "/usr/bin/whisper-cli", nil }
	if !r.IsAvailable(context.Background()) {
		t.Error("expected available with binary and model")
	}

	r.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if r.IsAvailable(context.Background()) {
		t.Error("expected unavailable without binary")
	}

	missing := NewWhisperRecognizer(WhisperConfig{Model: filepath.Join(t.TempDir(), "nope.bin")}, nil)
	missing.lookPath = func(string) (string, error) { return "/usr/bin/whisper-cli", nil }
	if missing.IsAvailable(context.Background()) {
		t.Error("expected unavailable without model")
	}
}

func TestWhisperRecognizer_FinalAfterFinish(t *testing.T) {
	r := NewWhisperRecognizer(WhisperConfig{Model: "m"}, nil)
	r.start = func(onText func(string)) (func(), error) {
		return func() { onText("[BLANK_AUDIO] 你好 (music)") }, nil
	}

	stream, err := r.Recognize(context.Background(), ttypes.RecognitionConfig{}, nil)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	stream.Finish()

	select {
	case res, ok := <-stream.Results():
		if !ok {
			t.Fatal("results closed without a transcript")
		}
		if res.Transcript != "你好" || !res.IsFinal {
			t.Errorf("result = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("no result after Finish")
	}
}

func TestWhisperRecognizer_CancelStops(t *testing.T) {
	stopped := make(chan struct{})
	r := NewWhisperRecognizer(WhisperConfig{Model: "m"}, nil)
	r.start = func(func(string)) (func(), error) {
		return func() { close(stopped) }, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := r.Recognize(ctx, ttypes.RecognitionConfig{}, nil)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("transcriber not stopped on cancel")
	}
	if _, ok := <-stream.Results(); ok {
		t.Error("expected results closed without a transcript")
	}
}
