package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// DefaultStreamingEndpoint is the Deepgram live transcription endpoint.
const DefaultStreamingEndpoint = "wss://api.deepgram.com/v1/listen"

// StreamingConfig configures the cloud streaming recognizer.
type StreamingConfig struct {
	APIKey      string
	Endpoint    string
	Model       string
	DialTimeout time.Duration
}

// StreamingRecognizer streams microphone audio to a Deepgram-compatible
// websocket endpoint and reads interim and final transcripts back.
type StreamingRecognizer struct {
	config StreamingConfig
	dialer *websocket.Dialer
	logger *log.Logger
}

// NewStreamingRecognizer creates a streaming recognizer.
func NewStreamingRecognizer(config StreamingConfig, logger *log.Logger) *StreamingRecognizer {
	if config.Endpoint == "" {
		config.Endpoint = DefaultStreamingEndpoint
	}
	if config.Model == "" {
		config.Model = "nova-2"
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.WithPrefix("stt")
	}

	return &StreamingRecognizer{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.DialTimeout,
		},
		logger: logger,
	}
}

// Name returns "deepgram".
func (r *StreamingRecognizer) Name() string { return "deepgram" }

// IsAvailable reports whether an API key is configured.
func (r *StreamingRecognizer) IsAvailable(_ context.Context) bool {
	return r.config.APIKey != ""
}

// Recognize dials the endpoint and starts streaming capture frames.
func (r *StreamingRecognizer) Recognize(ctx context.Context, config ttypes.RecognitionConfig, capture Capture) (Stream, error) {
	u, err := r.listenURL(config, capture.SampleRate())
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+r.config.APIKey)

	conn, resp, err := r.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", r.Name(), resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", r.Name(), err)
	}

	s := &wsStream{
		conn:       conn,
		results:    make(chan ttypes.RecognitionResult, 16),
		finish:     make(chan struct{}),
		readerDone: make(chan struct{}),
		maxAlts:    max(config.MaxAlternatives, 1),
		logger:     r.logger,
	}

	go s.write(ctx, capture.Frames())
	go s.read(ctx)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-s.readerDone:
		}
	}()

	return s, nil
}

func (r *StreamingRecognizer) listenURL(config ttypes.RecognitionConfig, sampleRate int) (string, error) {
	u, err := url.Parse(r.config.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}

	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("model", r.config.Model)
	q.Set("language", streamingLanguage(config.Locale))
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(config.PartialResults))
	if config.MaxAlternatives > 1 {
		q.Set("alternatives", strconv.Itoa(config.MaxAlternatives))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// streamingLanguage maps a locale to the endpoint's language code.
func streamingLanguage(l ttypes.Locale) string {
	switch l {
	case "":
		return string(ttypes.DefaultLocale)
	case ttypes.LocaleViVN:
		return "vi"
	default:
		return string(l)
	}
}

// streamingMessage is the subset of a live transcription message we read.
type streamingMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type wsStream struct {
	conn       *websocket.Conn
	results    chan ttypes.RecognitionResult
	finish     chan struct{}
	finishOnce sync.Once
	readerDone chan struct{}
	maxAlts    int
	logger     *log.Logger

	mu       sync.Mutex
	err      error
	finished bool
}

func (s *wsStream) Results() <-chan ttypes.RecognitionResult { return s.results }

func (s *wsStream) Finish() {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.finished = true
		s.mu.Unlock()
		close(s.finish)
	})
}

func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// write is the only goroutine writing to the connection.
func (s *wsStream) write(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.readerDone:
			return
		case <-s.finish:
			s.closeStream()
			return
		case frame, ok := <-frames:
			if !ok {
				s.closeStream()
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debug("Streaming write failed", "error", err)
				return
			}
		}
	}
}

// closeStream asks the server to flush final results and close.
func (s *wsStream) closeStream() {
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.logger.Debug("CloseStream failed", "error", err)
	}
}

func (s *wsStream) read(ctx context.Context) {
	defer close(s.results)
	defer close(s.readerDone)
	defer s.conn.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			finished := s.finished
			s.mu.Unlock()

			normal := websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
				errors.Is(err, net.ErrClosed) || ctx.Err() != nil
			if !normal && !finished {
				s.mu.Lock()
				s.err = fmt.Errorf("streaming recognition: %w", err)
				s.mu.Unlock()
			}
			return
		}

		var msg streamingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("Ignoring malformed message", "error", err)
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}

		best := msg.Channel.Alternatives[0]
		if best.Transcript == "" {
			continue
		}

		res := ttypes.RecognitionResult{
			Transcript: best.Transcript,
			Confidence: best.Confidence,
			IsFinal:    msg.IsFinal,
		}
		for i, alt := range msg.Channel.Alternatives {
			if i >= s.maxAlts {
				break
			}
			res.Alternatives = append(res.Alternatives, ttypes.Alternative{
				Transcript: alt.Transcript,
				Confidence: alt.Confidence,
			})
		}

		select {
		case s.results <- res:
		case <-ctx.Done():
			return
		}
	}
}
