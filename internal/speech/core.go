package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dacbuione/chinese-learning-sub000/internal/audio"
	"github.com/dacbuione/chinese-learning-sub000/internal/cache"
	"github.com/dacbuione/chinese-learning-sub000/internal/metrics"
	"github.com/dacbuione/chinese-learning-sub000/internal/queue"
	"github.com/dacbuione/chinese-learning-sub000/internal/stt"
	"github.com/dacbuione/chinese-learning-sub000/internal/tone"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts/engines"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Parts are the components a Core is assembled from. Player and
// Recognition may be nil when the caller only synthesizes.
type Parts struct {
	Synthesis   *tts.Orchestrator
	Player      *audio.Manager
	Recognition *stt.Manager
	Scorer      stt.Scorer
	Metrics     *metrics.Collector
	Logger      *log.Logger

	// Loggers are the component loggers that follow SetLogLevel.
	Loggers []*log.Logger

	// Closers are released by Close after the components, in order.
	Closers []io.Closer
}

// Core is the context object for the speech subsystem, built once at
// start-up and shared by every screen.
type Core struct {
	synth   *tts.Orchestrator
	player  *audio.Manager
	recog   *stt.Manager
	scorer  stt.Scorer
	metrics *metrics.Collector
	logger  *log.Logger
	loggers []*log.Logger
	closers []io.Closer
}

// New wires the parts together and installs the metrics observers.
func New(p Parts) *Core {
	if p.Logger == nil {
		p.Logger = log.WithPrefix("speech")
	}
	if p.Metrics == nil {
		p.Metrics = metrics.New()
	}

	c := &Core{
		synth:   p.Synthesis,
		player:  p.Player,
		recog:   p.Recognition,
		scorer:  p.Scorer,
		metrics: p.Metrics,
		logger:  p.Logger,
		loggers: p.Loggers,
		closers: p.Closers,
	}

	if c.synth != nil {
		c.synth.SetObserver(c.metrics)
		if store := c.synth.Cache(); store != nil {
			c.metrics.WatchCache(store)
		}
	}
	if c.player != nil {
		c.player.SetObserver(c.metrics)
	}
	if c.recog != nil {
		c.recog.SetObserver(c.metrics)
	}
	return c
}

// Player returns the playback manager for direct control (pause, seek,
// progress subscriptions). It is nil when playback was not built.
func (c *Core) Player() *audio.Manager { return c.player }

// Recognition returns the recognition manager, nil when not built.
func (c *Core) Recognition() *stt.Manager { return c.recog }

// Metrics returns the collector every component reports to.
func (c *Core) Metrics() *metrics.Collector { return c.metrics }

// Cache returns the cache store, nil when caching is off.
func (c *Core) Cache() *cache.Store { return c.synth.Cache() }

// Providers reports the fallback chain in order with each provider's health.
func (c *Core) Providers(ctx context.Context) []engines.ProviderStatus {
	return c.synth.Chain().Status(ctx)
}

// Synthesize resolves text to audio bytes through the cache and the
// byte-returning providers.
func (c *Core) Synthesize(ctx context.Context, req ttypes.SynthesisRequest) (tts.Result, error) {
	return c.synth.Synthesize(ctx, req)
}

// Playback is the outcome of Speak.
type Playback struct {
	Source      string // "cache" or the provider name
	Fingerprint string
	PlayerID    string
	Session     *audio.Session
}

// Speak synthesizes the request and starts it on playerID, replacing any
// session already there. Play-only providers are tracked as external
// sessions so exclusivity and progress reporting still hold.
func (c *Core) Speak(ctx context.Context, playerID string, req ttypes.SynthesisRequest, opts audio.Options) (Playback, error) {
	if c.player == nil {
		return Playback{}, ttypes.NewSpeechError(fmt.Errorf("%w: playback is disabled", ttypes.ErrPlaybackDevice), "speech", "speak")
	}

	res, err := c.synth.Speak(ctx, req)
	if err != nil {
		return Playback{}, err
	}

	pb := Playback{Source: res.Source, Fingerprint: res.Fingerprint, PlayerID: playerID}
	if res.Utterance != nil {
		pb.Session, err = c.player.PlayExternal(ctx, playerID, res.Utterance)
		if err != nil {
			_ = res.Utterance.Stop()
			return pb, err
		}
		return pb, nil
	}

	// cached and shared results are volume-neutral, the caller's volume
	// applies here
	if opts.Volume == nil {
		opts.Volume = audio.Volume(req.Volume)
	}
	pb.Session, err = c.player.PlayFromBytes(ctx, playerID, res.Payload, opts)
	if err != nil {
		if errors.Is(err, ttypes.ErrInvalidAudio) && res.Source == tts.SourceCache {
			// a cached payload that no longer decodes must not be served again
			_ = c.synth.Cache().Delete(ctx, res.Fingerprint)
		}
		return pb, err
	}
	c.logger.Debug("Speaking", "player", playerID, "source", res.Source)
	return pb, nil
}

// Stop stops playback on playerID. It is a no-op when nothing plays there.
func (c *Core) Stop(playerID string) {
	if c.player != nil {
		_ = c.player.Stop(playerID)
	}
}

// Recognize captures one spoken attempt bounded by d (the config duration
// or the manager default when zero). A deadline yields the best partial
// result with TimedOut set, not an error.
func (c *Core) Recognize(ctx context.Context, cfg ttypes.RecognitionConfig, d time.Duration) (ttypes.RecognitionResult, error) {
	if c.recog == nil {
		return ttypes.RecognitionResult{}, ttypes.NewSpeechError(ttypes.ErrRecognizerUnavailable, "speech", "recognize")
	}
	return c.recog.RecognizeForDuration(ctx, cfg, d)
}

// Assessment is a recognized attempt and its score.
type Assessment struct {
	Recognition   ttypes.RecognitionResult
	Pronunciation ttypes.PronunciationResult
}

// Assess listens for one attempt at expected and scores it. The best
// alternative is the one scoring highest, so a recognizer's second guess
// can still credit the learner.
func (c *Core) Assess(ctx context.Context, expected string, cfg ttypes.RecognitionConfig, d time.Duration) (Assessment, error) {
	res, err := c.Recognize(ctx, cfg, d)
	if err != nil {
		return Assessment{}, err
	}

	best := c.scorer.Score(expected, res.Transcript)
	for _, alt := range res.Alternatives {
		if pr := c.scorer.Score(expected, alt.Transcript); pr.Accuracy > best.Accuracy {
			best = pr
		}
	}

	locale := cfg.Locale
	if locale == "" {
		locale = ttypes.DefaultLocale
	}
	c.metrics.ObserveAccuracy(locale, best.Accuracy)
	c.logger.Debug("Assessed attempt", "expected", expected, "spoken", best.SpokenText, "accuracy", best.Accuracy)

	return Assessment{Recognition: res, Pronunciation: best}, nil
}

// Score compares an attempt with the expected text without listening.
func (c *Core) Score(expected, spoken string) ttypes.PronunciationResult {
	return c.scorer.Score(expected, spoken)
}

// WarmResult summarizes a cache warm-up.
type WarmResult struct {
	Requested int
	Cached    int
	Failed    int
}

// Warm splits text into sentences and synthesizes each one into the cache
// with a pool of workers. It returns when every sentence was tried or ctx
// is done.
func (c *Core) Warm(ctx context.Context, text string, template ttypes.SynthesisRequest, workers int) (WarmResult, error) {
	var reqs []ttypes.SynthesisRequest
	for _, s := range tone.Sentences(tone.PlainText(text)) {
		r := template
		r.Text = s
		reqs = append(reqs, r)
	}
	if len(reqs) == 0 {
		return WarmResult{}, ttypes.ErrEmptyText
	}

	q := queue.New(func(ctx context.Context, r ttypes.SynthesisRequest) error {
		_, err := c.synth.Synthesize(ctx, r)
		return err
	}, queue.Config{MaxSize: len(reqs), Workers: workers}, c.logger.WithPrefix("warm"))

	qctx, cancel := context.WithCancel(ctx)
	defer cancel()
	q.Start(qctx)

	if _, err := q.EnqueueBatch(reqs, false); err != nil {
		return WarmResult{}, err
	}
	waitErr := q.Wait(ctx)
	_ = q.Close()

	st := q.Stats()
	out := WarmResult{Requested: len(reqs), Cached: int(st.Completed), Failed: int(st.Failed)}
	if waitErr != nil {
		return out, waitErr
	}
	if out.Cached == 0 && st.LastError != nil {
		return out, st.LastError
	}
	return out, nil
}

// SetLogLevel changes the level of the component loggers. They copied
// their level when derived, so a change to the parent does not reach them.
func (c *Core) SetLogLevel(level log.Level) {
	c.logger.SetLevel(level)
	for _, l := range c.loggers {
		l.SetLevel(level)
	}
}

// Close stops every session and releases devices, providers and the cache.
func (c *Core) Close() error {
	var errs []error
	if c.recog != nil {
		errs = append(errs, c.recog.Close())
	}
	if c.player != nil {
		errs = append(errs, c.player.Close())
	}
	if c.synth != nil {
		errs = append(errs, c.synth.Close())
	}
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
