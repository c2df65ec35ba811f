package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	limiter := newFixedWindow(2, time.Minute, func() time.Time { return now })

	allowed, _ := limiter.Allow("10.0.0.1")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("10.0.0.1")
	assert.True(t, allowed)

	allowed, retryAfter := limiter.Allow("10.0.0.1")
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retryAfter)

	allowed, _ = limiter.Allow("10.0.0.2")
	assert.True(t, allowed, "keys are counted separately")

	now = now.Add(40 * time.Second)
	allowed, retryAfter = limiter.Allow("10.0.0.1")
	assert.False(t, allowed)
	assert.Equal(t, 20*time.Second, retryAfter)

	now = now.Add(20 * time.Second)
	allowed, _ = limiter.Allow("10.0.0.1")
	assert.True(t, allowed, "a new window starts after the period")
}

func TestFixedWindow_Sweep(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	limiter := newFixedWindow(1, time.Second, func() time.Time { return now })

	for _, key := range []string{"a", "b", "c"} {
		limiter.Allow(key)
	}
	assert.Len(t, limiter.windows, 3)

	now = now.Add(2 * time.Second)
	limiter.Allow("d")
	assert.Len(t, limiter.windows, 1)
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 100; i++ {
		allowed, _ := l.Allow("x")
		assert.True(t, allowed)
	}
}
