package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// TokenBucket refills continuously at RequestsPerSecond up to BurstSize tokens.
// Refill is lazy: it is computed from elapsed time whenever the bucket is read.
type TokenBucket struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	rps      float64
	capacity int
	now      func() time.Time
}

func NewTokenBucket(cfg models.RateLimitConfig, opts ...Option) *TokenBucket {
	o := buildOptions(opts)
	capacity := cfg.BurstSize
	if capacity <= 0 {
		capacity = int(math.Ceil(cfg.RequestsPerSecond))
	}
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		lim:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), capacity),
		rps:      cfg.RequestsPerSecond,
		capacity: capacity,
		now:      o.now,
	}
}

// Capacity is the maximum number of tokens the bucket holds
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// Tokens returns the token count after refilling up to now
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lim.TokensAt(b.now())
}

func (b *TokenBucket) CanSend() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lim.TokensAt(b.now()) >= 1
}

// RecordSend consumes one token if one is available; it never drives the count negative.
func (b *TokenBucket) RecordSend() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if b.lim.TokensAt(now) >= 1 {
		b.lim.AllowN(now, 1)
	}
}

func (b *TokenBucket) NextAvailableTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	tokens := b.lim.TokensAt(now)
	if tokens >= 1 {
		return now
	}
	wait := time.Duration((1 - tokens) / b.rps * float64(time.Second))
	return now.Add(wait)
}
