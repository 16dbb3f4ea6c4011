package engines

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// ChainConfig controls failure tracking in the fallback chain.
type ChainConfig struct {
	// MaxFailures is the number of consecutive failures after which a
	// provider is skipped for Cooldown (default 3)
	MaxFailures int

	// Cooldown is how long a failing provider is skipped (default 30s)
	Cooldown time.Duration
}

// Chain holds the provider adapters in priority order and tracks the health
// of each one. A provider that fails MaxFailures times in a row is skipped
// until its cooldown ends; one success resets it.
type Chain struct {
	providers []ttypes.Provider

	mu          sync.Mutex
	health      map[string]*providerHealth
	maxFailures int
	cooldown    time.Duration
	logger      *log.Logger
	now         func() time.Time
}

type providerHealth struct {
	failures  int
	lastErr   error
	skipUntil time.Time
}

// ProviderStatus is a snapshot of one chain member.
type ProviderStatus struct {
	Name         string
	Priority     int
	Capabilities ttypes.Capabilities
	Available    bool
	Failures     int
	CoolingDown  bool
	LastError    string
}

// NewChain orders providers by priority (stable for equal priorities).
func NewChain(providers []ttypes.Provider, config ChainConfig, logger *log.Logger) *Chain {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = log.WithPrefix("tts")
	}

	ordered := append([]ttypes.Provider(nil), providers...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Descriptor().Priority < ordered[j].Descriptor().Priority
	})

	health := make(map[string]*providerHealth, len(ordered))
	for _, p := range ordered {
		health[p.Descriptor().Name] = &providerHealth{}
	}

	return &Chain{
		providers:   ordered,
		health:      health,
		maxFailures: config.MaxFailures,
		cooldown:    config.Cooldown,
		logger:      logger,
		now:         time.Now,
	}
}

// Providers returns the adapters in fallback order.
func (c *Chain) Providers() []ttypes.Provider {
	return append([]ttypes.Provider(nil), c.providers...)
}

// Len returns the number of adapters.
func (c *Chain) Len() int {
	return len(c.providers)
}

// Ready reports whether the provider is outside its cooldown window.
func (c *Chain) Ready(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.health[name]
	if !ok {
		return true
	}
	return !c.now().Before(h.skipUntil)
}

// ReportSuccess resets the provider's failure counter.
func (c *Chain) ReportSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.health[name]
	if !ok {
		return
	}
	if h.failures > 0 {
		c.logger.Info("provider recovered", "provider", name, "failures", h.failures)
	}
	h.failures = 0
	h.lastErr = nil
	h.skipUntil = time.Time{}
}

// ReportFailure counts a failure and starts the cooldown once MaxFailures
// consecutive failures have been seen. Cancellation is not the provider's
// fault and is not counted.
func (c *Chain) ReportFailure(name string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.health[name]
	if !ok {
		return
	}
	h.failures++
	h.lastErr = err
	c.logger.Warn("provider failed", "provider", name, "attempt", fmt.Sprintf("%d/%d", h.failures, c.maxFailures), "err", err)

	if h.failures >= c.maxFailures {
		h.skipUntil = c.now().Add(c.cooldown)
		c.logger.Warn("provider cooling down", "provider", name, "failures", h.failures, "until", h.skipUntil.Format(time.TimeOnly))
	}
}

// Status returns a snapshot of every provider in fallback order.
func (c *Chain) Status(ctx context.Context) []ProviderStatus {
	out := make([]ProviderStatus, 0, len(c.providers))
	for _, p := range c.providers {
		d := p.Descriptor()
		st := ProviderStatus{
			Name:         d.Name,
			Priority:     d.Priority,
			Capabilities: d.Capabilities,
			Available:    p.IsAvailable(ctx),
		}

		c.mu.Lock()
		if h, ok := c.health[d.Name]; ok {
			st.Failures = h.failures
			st.CoolingDown = c.now().Before(h.skipUntil)
			if h.lastErr != nil {
				st.LastError = h.lastErr.Error()
			}
		}
		c.mu.Unlock()

		out = append(out, st)
	}
	return out
}

// Reset clears all failure counters and cooldowns.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.health {
		*h = providerHealth{}
	}
	c.logger.Info("provider health reset")
}

// Close shuts down every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", p.Descriptor().Name, err))
		}
	}
	return errors.Join(errs...)
}
