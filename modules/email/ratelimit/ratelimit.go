// Package ratelimit decides whether a provider may send right now and when it next may.
//
// Every limiter owns its state behind its own lock; a limiter instance belongs
// to exactly one provider.
package ratelimit

import (
	"time"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// Limiter is the per-provider send budget
type Limiter interface {
	CanSend() bool
	RecordSend()
	NextAvailableTime() time.Time
}

// Option configures a limiter
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the limiter selected by cfg.Algorithm. A non-positive rate disables limiting.
func New(cfg models.RateLimitConfig, opts ...Option) Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return NewUnlimited(opts...)
	}
	switch cfg.Algorithm {
	case models.AlgorithmSlidingWindow:
		return NewSlidingWindow(cfg, opts...)
	default:
		return NewTokenBucket(cfg, opts...)
	}
}

// Unlimited never refuses a send
type Unlimited struct {
	now func() time.Time
}

func NewUnlimited(opts ...Option) *Unlimited {
	return &Unlimited{now: buildOptions(opts).now}
}

func (u *Unlimited) CanSend() bool                { return true }
func (u *Unlimited) RecordSend()                  {}
func (u *Unlimited) NextAvailableTime() time.Time { return u.now() }
