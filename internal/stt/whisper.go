package stt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	audiotranscriber "github.com/sklyt/whisper/pkg"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// WhisperConfig configures the on-device recognizer.
type WhisperConfig struct {
	Binary  string // whisper.cpp CLI, "whisper-cli" by default
	Model   string // GGML model file
	TempDir string // scratch directory for recorded WAV files
	Verbose bool
}

// WhisperRecognizer transcribes on device with whisper.cpp. The transcriber
// records through its own capture path, so the manager's capture frames go
// unread; the manager still holds the microphone for exclusivity. Whisper
// produces a single final result after Finish and reports no partials.
type WhisperRecognizer struct {
	config WhisperConfig
	logger *log.Logger

	lookPath func(string) (string, error)
	start    func(onText func(string)) (stop func(), err error)
}

// NewWhisperRecognizer creates a whisper recognizer.
func NewWhisperRecognizer(config WhisperConfig, logger *log.Logger) *WhisperRecognizer {
	if config.Binary == "" {
		config.Binary = "whisper-cli"
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	if logger == nil {
		logger = log.WithPrefix("stt")
	}

	r := &WhisperRecognizer{
		config:   config,
		logger:   logger,
		lookPath: exec.LookPath,
	}
	r.start = r.startTranscriber
	return r
}

// Name returns "whisper".
func (r *WhisperRecognizer) Name() string { return "whisper" }

// IsAvailable requires the CLI on PATH and the model on disk.
func (r *WhisperRecognizer) IsAvailable(_ context.Context) bool {
	if _, err := r.lookPath(r.config.Binary); err != nil {
		return false
	}
	if r.config.Model == "" {
		return false
	}
	_, err := os.Stat(r.config.Model)
	return err == nil
}

// Recognize starts recording. The transcript arrives after Finish.
func (r *WhisperRecognizer) Recognize(ctx context.Context, config ttypes.RecognitionConfig, _ Capture) (Stream, error) {
	s := &whisperStream{
		results: make(chan ttypes.RecognitionResult, 1),
		text:    make(chan string, 1),
		finish:  make(chan struct{}),
	}

	stop, err := r.start(func(text string) {
		select {
		case s.text <- text:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start whisper: %w", err)
	}
	s.stop = stop

	go s.run(ctx, r.logger)
	return s, nil
}

func (r *WhisperRecognizer) startTranscriber(onText func(string)) (func(), error) {
	if err := os.MkdirAll(r.config.TempDir, 0o755); err != nil {
		return nil, err
	}

	t, err := audiotranscriber.NewTranscriber(
		r.config.Binary,
		r.config.Model,
		r.config.TempDir,
		"wav",
		onText,
		r.config.Verbose,
	)
	if err != nil {
		return nil, err
	}
	if err := t.Start(); err != nil {
		return nil, err
	}

	return func() { t.Stop() }, nil
}

type whisperStream struct {
	results chan ttypes.RecognitionResult
	text    chan string
	stop    func()

	finish     chan struct{}
	finishOnce sync.Once
}

func (s *whisperStream) Results() <-chan ttypes.RecognitionResult { return s.results }

func (s *whisperStream) Finish() {
	s.finishOnce.Do(func() { close(s.finish) })
}

func (s *whisperStream) Err() error { return nil }

func (s *whisperStream) run(ctx context.Context, logger *log.Logger) {
	defer close(s.results)

	select {
	case <-ctx.Done():
		s.stop()
		return
	case <-s.finish:
	}

	// Stop blocks until the recording is transcribed
	stopped := make(chan struct{})
	go func() {
		s.stop()
		close(stopped)
	}()

	var text string
	select {
	case <-ctx.Done():
		return
	case text = <-s.text:
	case <-stopped:
		select {
		case text = <-s.text:
		default:
		}
	}

	text = cleanTranscription(text)
	logger.Debug("Whisper transcript", "text", text)
	if text == "" {
		return
	}
	s.results <- ttypes.RecognitionResult{
		Transcript:   text,
		Confidence:   1.0, // whisper reports no confidence
		Alternatives: []ttypes.Alternative{{Transcript: text, Confidence: 1.0}},
		IsFinal:      true,
	}
}

// envAnnotation matches whisper annotations like "(keyboard clicking)" or "[music]".
var envAnnotation = regexp.MustCompile(`[\(\[][\p{L}\s_]*[\)\]]`)

// cleanTranscription collapses whitespace and strips whisper artifacts
// such as "[BLANK_AUDIO]" and sound annotations.
func cleanTranscription(s string) string {
	s = envAnnotation.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}
