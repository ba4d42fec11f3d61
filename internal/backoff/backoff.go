// File: internal/backoff/backoff.go
package backoff

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Dimmmas28/wabe/internal/config"
)

// Controller holds the adaptive delay awaited between task steps. The delay
// stays within [Min, Max]: it grows on rate limits and decays after a run
// of successes.
type Controller struct {
	mu sync.Mutex

	min          time.Duration
	max          time.Duration
	growFactor   float64
	shrinkFactor float64
	shrinkAfter  int

	current   time.Duration
	successes int

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a controller starting at base with Max = base*maxMultiplier.
func New(base time.Duration, maxMultiplier float64) *Controller {
	return NewFromConfig(config.BackoffConfig{
		BaseDelay:     base,
		MaxMultiplier: maxMultiplier,
		GrowFactor:    2,
		ShrinkFactor:  0.8,
		ShrinkAfter:   3,
	})
}

// NewFromConfig builds a controller from configuration.
func NewFromConfig(cfg config.BackoffConfig) *Controller {
	if cfg.MaxMultiplier < 1 {
		cfg.MaxMultiplier = 1
	}
	if cfg.GrowFactor <= 1 {
		cfg.GrowFactor = 2
	}
	if cfg.ShrinkFactor <= 0 || cfg.ShrinkFactor >= 1 {
		cfg.ShrinkFactor = 0.8
	}
	if cfg.ShrinkAfter <= 0 {
		cfg.ShrinkAfter = 3
	}
	return &Controller{
		min:          cfg.BaseDelay,
		max:          scale(cfg.BaseDelay, cfg.MaxMultiplier),
		growFactor:   cfg.GrowFactor,
		shrinkFactor: cfg.ShrinkFactor,
		shrinkAfter:  cfg.ShrinkAfter,
		current:      cfg.BaseDelay,
		sleep:        sleepContext,
	}
}

// Min is the floor of the delay.
func (c *Controller) Min() time.Duration { return c.min }

// Max is the ceiling of the delay.
func (c *Controller) Max() time.Duration { return c.max }

// Current returns the delay to await before the next step.
func (c *Controller) Current() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ConsecutiveSuccesses returns the length of the current success run.
func (c *Controller) ConsecutiveSuccesses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successes
}

// OnRateLimit grows the delay, capped at Max, and resets the success run.
func (c *Controller) OnRateLimit() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successes = 0
	next := scale(c.current, c.growFactor)
	if next > c.max {
		next = c.max
	}
	c.current = next
	return c.current
}

// OnSuccess records a success. Once the run reaches the threshold the delay
// shrinks toward Min; the second return value reports whether it changed.
func (c *Controller) OnSuccess() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successes++
	if c.successes < c.shrinkAfter || c.current <= c.min {
		return c.current, false
	}
	next := scale(c.current, c.shrinkFactor)
	if next < c.min {
		next = c.min
	}
	changed := next != c.current
	c.current = next
	return c.current, changed
}

// Wait sleeps for the current delay or until ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	return c.sleep(ctx, c.Current())
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(math.Round(float64(d) * f))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rateLimitMarkers are matched case-insensitively against error text.
var rateLimitMarkers = []string{
	"429",
	"resource_exhausted",
	"resource exhausted",
	"quota",
	"too many requests",
}

// IsRateLimit reports whether err looks like an upstream rate limit.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl interface{ RateLimited() bool }
	if errors.As(err, &rl) && rl.RateLimited() {
		return true
	}
	return IsRateLimitText(err.Error())
}

// IsRateLimitText applies the rate-limit patterns to raw text.
func IsRateLimitText(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return strings.Contains(lower, "rate") && strings.Contains(lower, "limit")
}
