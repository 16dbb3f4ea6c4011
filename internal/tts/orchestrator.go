package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-runewidth"
	"golang.org/x/sync/singleflight"

	"github.com/dacbuione/chinese-learning-sub000/internal/cache"
	"github.com/dacbuione/chinese-learning-sub000/internal/tts/engines"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// SourceCache is the source tag of results served from the Cache Store.
const SourceCache = "cache"

// Outcomes reported to an Observer.
const (
	OutcomeHit      = "hit"
	OutcomeSuccess  = "success"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
)

// Observer receives synthesis events. The metrics package implements it.
type Observer interface {
	ObserveSynthesis(source, outcome string, elapsed time.Duration)
	ObserveProviderFailure(provider string, err error)
}

// Config controls the orchestrator.
type Config struct {
	// ProviderTimeout bounds each byte-returning provider call (default 20s)
	ProviderTimeout time.Duration
}

// Result is the resolved audio for one request. Exactly one of Payload and
// Utterance is set: byte-returning sources yield a payload for the
// playback manager, play-only adapters yield an utterance that is already
// speaking.
type Result struct {
	Source      string
	Fingerprint string
	Payload     ttypes.AudioPayload
	Utterance   ttypes.Utterance

	// Request is the request as dispatched, after clamping.
	Request ttypes.SynthesisRequest

	// Attempts lists adapters that failed or were skipped before Source.
	Attempts []ttypes.Attempt

	// Shared is set when the result was fanned out from another caller's
	// identical in-flight request.
	Shared bool
}

// Stats are cumulative orchestrator counters.
type Stats struct {
	Requests  int64
	CacheHits int64
	Deduped   int64
	Fallbacks int64
	Failures  int64
	BySource  map[string]int64
}

type mode int

const (
	modeBytes mode = iota
	modeSpeak
)

func (m mode) String() string {
	if m == modeSpeak {
		return "speak"
	}
	return "bytes"
}

// Orchestrator resolves synthesis requests: cache lookup, then the provider
// fallback chain, then a best-effort cache write. Concurrent identical
// requests collapse into one resolution whose result fans out to every
// caller.
type Orchestrator struct {
	chain    *engines.Chain
	cache    *cache.Store
	config   Config
	logger   *log.Logger
	observer Observer

	flights singleflight.Group

	statsMu sync.Mutex
	stats   Stats
}

// NewOrchestrator wires a chain and an optional cache store.
func NewOrchestrator(chain *engines.Chain, store *cache.Store, config Config, logger *log.Logger) *Orchestrator {
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = log.WithPrefix("tts")
	}
	return &Orchestrator{
		chain:  chain,
		cache:  store,
		config: config,
		logger: logger,
		stats:  Stats{BySource: make(map[string]int64)},
	}
}

// SetObserver installs an observer. Call before use.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// Chain returns the provider chain.
func (o *Orchestrator) Chain() *engines.Chain {
	return o.chain
}

// Cache returns the cache store, which may be nil.
func (o *Orchestrator) Cache() *cache.Store {
	return o.cache
}

// Synthesize resolves the request to audio bytes. Play-only adapters are
// skipped.
func (o *Orchestrator) Synthesize(ctx context.Context, req ttypes.SynthesisRequest) (Result, error) {
	return o.do(ctx, req, modeBytes)
}

// Speak resolves the request to something playable: cached or synthesized
// bytes, or an utterance from the first play-only adapter reached in
// priority order. The caller owns a returned utterance and must Stop it or
// wait for Done.
func (o *Orchestrator) Speak(ctx context.Context, req ttypes.SynthesisRequest) (Result, error) {
	return o.do(ctx, req, modeSpeak)
}

func (o *Orchestrator) do(ctx context.Context, req ttypes.SynthesisRequest, m mode) (Result, error) {
	start := time.Now()

	req, err := Prepare(req)
	if err != nil {
		return Result{}, err
	}
	fp := cache.RequestFingerprint(req)

	o.count(func(s *Stats) { s.Requests++ })

	// Pitch is outside the fingerprint, so pitched requests only share a
	// flight with the same pitch.
	key := m.String() + ":" + fp
	if req.Pitch != 0 {
		key += fmt.Sprintf(":%+.1f", req.Pitch)
	}

	ch := o.flights.DoChan(key, func() (any, error) {
		return o.resolve(context.WithoutCancel(ctx), req, fp, m)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if res.Err != nil {
		o.count(func(s *Stats) { s.Failures++ })
		o.observe(OutcomeFailed, "", start)
		return Result{}, res.Err
	}

	result := res.Val.(Result)
	if res.Shared {
		result.Shared = true
		o.count(func(s *Stats) { s.Deduped++ })
	}

	switch {
	case result.Source == SourceCache:
		o.observe(OutcomeHit, result.Source, start)
	case len(result.Attempts) > 0:
		o.observe(OutcomeFallback, result.Source, start)
	default:
		o.observe(OutcomeSuccess, result.Source, start)
	}

	if ctx.Err() != nil && result.Utterance != nil && !res.Shared {
		_ = result.Utterance.Stop()
		return Result{}, ctx.Err()
	}
	return result, nil
}

// resolve runs once per in-flight fingerprint.
func (o *Orchestrator) resolve(ctx context.Context, req ttypes.SynthesisRequest, fp string, m mode) (Result, error) {
	logger := o.logger.With("fingerprint", fp[:12], "text", clip(req.Text))

	if o.cache != nil && cacheable(req) {
		if e, ok := o.cache.Get(ctx, fp); ok {
			logger.Debug("Cache hit")
			o.count(func(s *Stats) {
				s.CacheHits++
				s.BySource[SourceCache]++
			})
			payload := e.Payload
			payload.Data = bytes.Clone(payload.Data)
			return Result{Source: SourceCache, Fingerprint: fp, Payload: payload, Request: req}, nil
		}
		logger.Debug("Cache miss")
	}

	var attempts []ttypes.Attempt
	for _, p := range o.chain.Providers() {
		d := p.Descriptor()
		caps := d.Capabilities

		if skip := o.skipReason(ctx, p, req, m); skip != nil {
			attempts = append(attempts, ttypes.Attempt{Provider: d.Name, Err: skip})
			logger.Debug("Provider skipped", "provider", d.Name, "reason", skip)
			continue
		}

		preq := ForProvider(req, caps)
		result, err := o.attempt(ctx, p, preq)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			o.chain.ReportFailure(d.Name, err)
			if o.observer != nil {
				o.observer.ObserveProviderFailure(d.Name, err)
			}
			attempts = append(attempts, ttypes.Attempt{Provider: d.Name, Err: err})
			continue
		}
		o.chain.ReportSuccess(d.Name)

		result.Source = d.Name
		result.Fingerprint = fp
		result.Request = preq
		result.Attempts = attempts

		if len(attempts) > 0 {
			o.count(func(s *Stats) { s.Fallbacks++ })
			logger.Info("Synthesized by fallback provider", "provider", d.Name, "skipped", len(attempts))
		}
		o.count(func(s *Stats) { s.BySource[d.Name]++ })

		if caps.ReturnsBytes && o.cache != nil && cacheable(req) {
			meta := cache.Meta{Locale: req.Locale, VoiceID: req.VoiceID, Source: d.Name}
			if err := o.cache.Put(ctx, fp, result.Payload, meta); err != nil {
				logger.Warn("Cache write failed, continuing", "err", err)
			}
		}
		return result, nil
	}

	err := &ttypes.SynthesisUnavailableError{Fingerprint: fp, Attempts: attempts}
	logger.Error("All providers failed", "attempted", len(attempts), "err", err)
	return Result{}, err
}

// skipReason returns why a provider cannot be tried for this request, or nil.
func (o *Orchestrator) skipReason(ctx context.Context, p ttypes.Provider, req ttypes.SynthesisRequest, m mode) error {
	d := p.Descriptor()
	caps := d.Capabilities

	switch {
	case m == modeBytes && !caps.ReturnsBytes:
		return fmt.Errorf("play-only: %w", ttypes.ErrUnsupported)
	case !caps.SupportsLocale(req.Locale):
		return fmt.Errorf("locale %s: %w", req.Locale, ttypes.ErrUnsupported)
	case !o.chain.Ready(d.Name):
		return fmt.Errorf("cooling down: %w", ttypes.ErrProviderUnavailable)
	case !p.IsAvailable(ctx):
		return ttypes.ErrProviderUnavailable
	}
	return nil
}

// attempt calls one provider in the mode its capabilities allow.
func (o *Orchestrator) attempt(ctx context.Context, p ttypes.Provider, req ttypes.SynthesisRequest) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	if !p.Descriptor().Capabilities.ReturnsBytes {
		u, err := p.Speak(ctx, req)
		if err != nil {
			return Result{}, err
		}
		if u == nil {
			return Result{}, errors.New("provider returned no utterance")
		}
		return Result{Utterance: u}, nil
	}

	actx, cancel := context.WithTimeout(ctx, o.config.ProviderTimeout)
	defer cancel()

	payload, err := p.Synthesize(actx, req)
	if err != nil {
		return Result{}, err
	}
	if payload.Empty() {
		return Result{}, fmt.Errorf("empty payload: %w", ttypes.ErrInvalidAudio)
	}
	return Result{Payload: payload}, nil
}

// Stats returns a copy of the counters.
func (o *Orchestrator) Stats() Stats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()

	s := o.stats
	s.BySource = make(map[string]int64, len(o.stats.BySource))
	for k, v := range o.stats.BySource {
		s.BySource[k] = v
	}
	return s
}

// Close shuts down the providers and the cache.
func (o *Orchestrator) Close() error {
	errs := []error{o.chain.Close()}
	if o.cache != nil {
		errs = append(errs, o.cache.Close())
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) count(f func(*Stats)) {
	o.statsMu.Lock()
	f(&o.stats)
	o.statsMu.Unlock()
}

func (o *Orchestrator) observe(outcome, source string, start time.Time) {
	if o.observer != nil {
		o.observer.ObserveSynthesis(source, outcome, time.Since(start))
	}
}

// clip shortens lesson text for log lines by display width.
func clip(s string) string {
	return runewidth.Truncate(s, 24, "…")
}
