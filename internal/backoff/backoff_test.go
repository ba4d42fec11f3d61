// File: internal/backoff/backoff_test.go
package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController(t *testing.T) {
	t.Run("should start at the base delay", func(t *testing.T) {
		c := New(time.Second, 8)
		assert.Equal(t, time.Second, c.Current())
		assert.Equal(t, time.Second, c.Min())
		assert.Equal(t, 8*time.Second, c.Max())
	})

	t.Run("should double on rate limit and cap at max", func(t *testing.T) {
		c := New(time.Second, 8)
		var seen []time.Duration
		for i := 0; i < 5; i++ {
			seen = append(seen, c.OnRateLimit())
		}
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}, seen)
	})

	t.Run("should shrink only after three consecutive successes", func(t *testing.T) {
		c := New(time.Second, 8)
		c.OnRateLimit()
		c.OnRateLimit() // 4s

		d, changed := c.OnSuccess()
		assert.False(t, changed)
		assert.Equal(t, 4*time.Second, d)
		_, changed = c.OnSuccess()
		assert.False(t, changed)

		d, changed = c.OnSuccess()
		assert.True(t, changed)
		assert.Equal(t, 3200*time.Millisecond, d)

		// The run continues; each further success keeps shrinking.
		d, changed = c.OnSuccess()
		assert.True(t, changed)
		assert.Equal(t, 2560*time.Millisecond, d)
	})

	t.Run("should reset the success run on rate limit", func(t *testing.T) {
		c := New(time.Second, 8)
		c.OnRateLimit()
		c.OnSuccess()
		c.OnSuccess()
		c.OnRateLimit()
		assert.Equal(t, 0, c.ConsecutiveSuccesses())

		_, changed := c.OnSuccess()
		assert.False(t, changed)
		assert.Equal(t, 4*time.Second, c.Current())
	})

	t.Run("should never go below min", func(t *testing.T) {
		c := New(time.Second, 8)
		c.OnRateLimit() // 2s
		for i := 0; i < 50; i++ {
			c.OnSuccess()
		}
		assert.Equal(t, time.Second, c.Current())
		_, changed := c.OnSuccess()
		assert.False(t, changed)
	})

	t.Run("should keep the delay within bounds under any sequence", func(t *testing.T) {
		c := New(500*time.Millisecond, 8)
		for i := 0; i < 200; i++ {
			if i%7 == 0 || i%11 == 0 {
				c.OnRateLimit()
			} else {
				c.OnSuccess()
			}
			require.GreaterOrEqual(t, c.Current(), c.Min())
			require.LessOrEqual(t, c.Current(), c.Max())
		}
	})
}

func TestControllerWait(t *testing.T) {
	c := New(time.Hour, 8)
	var slept time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, time.Hour, slept)

	live := New(time.Hour, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, live.Wait(ctx), context.Canceled)
}

type limitedErr struct{}

func (limitedErr) Error() string     { return "upstream refused" }
func (limitedErr) RateLimited() bool { return true }

func TestIsRateLimit(t *testing.T) {
	positives := []error{
		errors.New("agent returned status 429"),
		errors.New("RESOURCE_EXHAUSTED: out of tokens"),
		errors.New("Resource exhausted, try later"),
		errors.New("You exceeded your current quota"),
		errors.New("Too Many Requests"),
		errors.New("rate limit reached for model"),
		errors.New("Rate-Limit exceeded"),
		fmt.Errorf("send failed: %w", limitedErr{}),
	}
	for _, err := range positives {
		assert.True(t, IsRateLimit(err), err.Error())
	}

	negatives := []error{
		nil,
		errors.New("connection refused"),
		errors.New("the limit is 5 items"),
		errors.New("accurate results"),
		context.DeadlineExceeded,
	}
	for _, err := range negatives {
		assert.False(t, IsRateLimit(err), "%v", err)
	}
}
