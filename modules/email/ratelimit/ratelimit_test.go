package ratelimit

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNew_SelectsAlgorithm(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.RateLimitConfig
		want any
	}{
		{"default is token bucket", models.RateLimitConfig{RequestsPerSecond: 5}, &TokenBucket{}},
		{"explicit token bucket", models.RateLimitConfig{Algorithm: models.AlgorithmTokenBucket, RequestsPerSecond: 5}, &TokenBucket{}},
		{"sliding window", models.RateLimitConfig{Algorithm: models.AlgorithmSlidingWindow, RequestsPerSecond: 5}, &SlidingWindow{}},
		{"zero rate is unlimited", models.RateLimitConfig{Algorithm: models.AlgorithmSlidingWindow}, &Unlimited{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.IsType(t, tt.want, New(tt.cfg))
		})
	}
}

func TestTokenBucket_DefaultCapacity(t *testing.T) {
	assert.Equal(t, 3, NewTokenBucket(models.RateLimitConfig{RequestsPerSecond: 3}).Capacity())
	assert.Equal(t, 10, NewTokenBucket(models.RateLimitConfig{RequestsPerSecond: 3, BurstSize: 10}).Capacity())
	assert.Equal(t, 1, NewTokenBucket(models.RateLimitConfig{RequestsPerSecond: 0.2}).Capacity())
}

func TestTokenBucket_ConsumeAndRefill(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(models.RateLimitConfig{RequestsPerSecond: 2, BurstSize: 2}, WithClock(clock.Now))

	require.True(t, b.CanSend())
	b.RecordSend()
	b.RecordSend()
	assert.False(t, b.CanSend())
	assert.Equal(t, clock.Now().Add(500*time.Millisecond), b.NextAvailableTime())

	clock.Advance(250 * time.Millisecond)
	assert.False(t, b.CanSend())

	clock.Advance(250 * time.Millisecond)
	assert.True(t, b.CanSend())
	assert.Equal(t, clock.Now(), b.NextAvailableTime())
}

func TestTokenBucket_RecordSendNeverGoesNegative(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(models.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		b.RecordSend()
	}
	assert.GreaterOrEqual(t, b.Tokens(), 0.0)

	clock.Advance(time.Second)
	assert.True(t, b.CanSend())
}

func TestTokenBucket_TokensStayWithinBounds(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(models.RateLimitConfig{RequestsPerSecond: 5, BurstSize: 4}, WithClock(clock.Now))
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		switch rng.Intn(3) {
		case 0:
			b.CanSend()
		case 1:
			b.RecordSend()
		default:
			clock.Advance(time.Duration(rng.Intn(400)) * time.Millisecond)
		}
		tokens := b.Tokens()
		require.GreaterOrEqual(t, tokens, 0.0)
		require.LessOrEqual(t, tokens, float64(b.Capacity()))
	}
}

func TestSlidingWindow_Capacity(t *testing.T) {
	w := NewSlidingWindow(models.RateLimitConfig{RequestsPerSecond: 2, Window: 3 * time.Second})
	assert.Equal(t, 6, w.Capacity())

	w = NewSlidingWindow(models.RateLimitConfig{RequestsPerSecond: 4})
	assert.Equal(t, 4, w.Capacity())
}

func TestSlidingWindow_FullUntilOldestAgesOut(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(models.RateLimitConfig{RequestsPerSecond: 1, Window: 3 * time.Second}, WithClock(clock.Now))
	first := clock.Now()

	for i := 0; i < 3; i++ {
		require.True(t, w.CanSend(), "send %d should be admitted", i)
		w.RecordSend()
		clock.Advance(500 * time.Millisecond)
	}

	assert.False(t, w.CanSend())
	assert.Equal(t, first.Add(3*time.Second), w.NextAvailableTime())

	clock.Advance(first.Add(3*time.Second).Sub(clock.Now()) - time.Millisecond)
	assert.False(t, w.CanSend())

	clock.Advance(time.Millisecond)
	assert.True(t, w.CanSend())
	assert.Equal(t, clock.Now(), w.NextAvailableTime())
}

func TestSlidingWindow_RecordSendIgnoredWhenFull(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(models.RateLimitConfig{RequestsPerSecond: 2}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		w.RecordSend()
	}
	clock.Advance(time.Second)
	assert.True(t, w.CanSend())
	w.RecordSend()
	w.RecordSend()
	assert.False(t, w.CanSend())
}

func TestSlidingWindow_CanSendIffBelowCapacity(t *testing.T) {
	for n := 0; n <= 6; n++ {
		clock := newFakeClock()
		w := NewSlidingWindow(models.RateLimitConfig{RequestsPerSecond: 2, Window: 2 * time.Second}, WithClock(clock.Now))
		for i := 0; i < n; i++ {
			w.RecordSend()
			clock.Advance(100 * time.Millisecond)
		}
		assert.Equal(t, n < 4, w.CanSend(), "after %d sends", n)
	}
}

func TestUnlimited(t *testing.T) {
	clock := newFakeClock()
	u := NewUnlimited(WithClock(clock.Now))
	for i := 0; i < 100; i++ {
		u.RecordSend()
	}
	assert.True(t, u.CanSend())
	assert.Equal(t, clock.Now(), u.NextAvailableTime())
}
