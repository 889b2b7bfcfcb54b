package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/thenasky/mail-delivery/internal/logger"
	"github.com/thenasky/mail-delivery/modules/email/models"
	"github.com/thenasky/mail-delivery/modules/email/ratelimit"
)

// DefaultMaxRateWait bounds how long a send blocks on a saturated rate limiter
const DefaultMaxRateWait = 5 * time.Second

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a Base
type Option func(*Base)

// WithClock replaces time.Now for the provider and its rate limiter
func WithClock(now func() time.Time) Option {
	return func(b *Base) { b.now = now }
}

// WithSleeper replaces the blocking wait used between attempts
func WithSleeper(s Sleeper) Option {
	return func(b *Base) { b.sleep = s }
}

// WithLimiter replaces the limiter built from the rate-limit config
func WithLimiter(l ratelimit.Limiter) Option {
	return func(b *Base) { b.limiter = l }
}

// WithClassifier replaces the default error classification
func WithClassifier(c Classifier) Option {
	return func(b *Base) { b.classify = c }
}

// WithRetryDelay overrides the retry-delay policy
func WithRetryDelay(f RetryDelayFunc) Option {
	return func(b *Base) { b.retryDelay = f }
}

// Base implements the send loop shared by every provider: bounded rate wait,
// optimistic accounting, classification, retries and the exhaustion interval.
type Base struct {
	cfg        models.ProviderConfig
	enabled    atomic.Bool
	transport  Transport
	limiter    ratelimit.Limiter
	classify   Classifier
	retryDelay RetryDelayFunc
	now        func() time.Time
	sleep      Sleeper
	log        *slog.Logger
}

// NewBase builds a provider around a transport
func NewBase(cfg models.ProviderConfig, transport Transport, log *slog.Logger, opts ...Option) *Base {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.MaxRateWait <= 0 {
		cfg.MaxRateWait = DefaultMaxRateWait
	}
	b := &Base{
		cfg:        cfg,
		transport:  transport,
		classify:   Classify,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
		sleep:      sleepContext,
		log:        log.With(logger.Scope("email.provider"), slog.String("provider", cfg.ID)),
	}
	b.enabled.Store(cfg.Enabled)
	for _, opt := range opts {
		opt(b)
	}
	if b.limiter == nil {
		b.limiter = ratelimit.New(cfg.RateLimit, ratelimit.WithClock(b.now))
	}
	return b
}

func (b *Base) ID() string                 { return b.cfg.ID }
func (b *Base) Name() string               { return b.cfg.Name }
func (b *Base) Kind() string               { return b.cfg.Kind }
func (b *Base) Priority() int              { return b.cfg.Priority }
func (b *Base) Enabled() bool              { return b.enabled.Load() }
func (b *Base) SetEnabled(enabled bool)    { b.enabled.Store(enabled) }
func (b *Base) MaxRateWait() time.Duration { return b.cfg.MaxRateWait }
func (b *Base) Config() models.ProviderConfig {
	return b.cfg
}

func (b *Base) CanSendNow() bool {
	return b.limiter.CanSend()
}

func (b *Base) NextAvailableTime() time.Time {
	return b.limiter.NextAvailableTime()
}

func (b *Base) Status() models.ProviderStatus {
	return models.ProviderStatus{
		ID:                b.cfg.ID,
		Name:              b.cfg.Name,
		Kind:              b.cfg.Kind,
		Priority:          b.cfg.Priority,
		Enabled:           b.Enabled(),
		CanSendNow:        b.CanSendNow(),
		NextAvailableTime: b.NextAvailableTime(),
	}
}

// Send dispatches msg, retrying retriable failures according to the retry policy
func (b *Base) Send(ctx context.Context, msg *models.Message) *models.SendResult {
	policy := b.cfg.Retry
	attempts := 0
	var lastErr error

	for {
		if !b.waitForSlot(ctx) {
			next := b.limiter.NextAvailableTime()
			b.log.Warn("rate limit wait too long, deferring",
				slog.Time("next_available", next),
				slog.Int("attempts", attempts))
			return b.failure(fmt.Sprintf("rate limit exceeded for provider %s", b.cfg.ID), attempts, &next)
		}

		// the slot is consumed even if the dispatch fails
		b.limiter.RecordSend()
		attempts++

		// an accepted dispatch runs to completion; cancellation only cuts the waits around it
		id, err := b.transport.Dispatch(context.WithoutCancel(ctx), msg)
		if err == nil {
			b.log.Debug("email dispatched",
				slog.String("message_id", id),
				slog.Int("attempts", attempts))
			return &models.SendResult{
				Success:           true,
				ProviderID:        b.cfg.ID,
				Timestamp:         b.now(),
				ProviderMessageID: id,
				Attempts:          attempts,
			}
		}

		lastErr = err
		class := b.classify(err)
		b.log.Warn("dispatch failed",
			slog.Int("attempt", attempts),
			slog.String("class", class.String()),
			logger.Err(err))

		if !class.Retriable() {
			return b.failure(err.Error(), attempts, nil)
		}

		delay, exhausted := b.retryDelay(policy, attempts, class)
		if exhausted {
			break
		}
		if err := b.sleep(ctx, delay); err != nil {
			next := b.now().Add(delay)
			return b.failure(fmt.Sprintf("%s (interrupted: %v)", lastErr, err), attempts, &next)
		}
	}

	if policy.ExhaustionInterval > 0 {
		next := b.now().Add(policy.ExhaustionInterval)
		b.log.Info("retries exhausted, rescheduling",
			slog.Int("attempts", attempts),
			slog.Time("next_retry_at", next))
		return b.failure(lastErr.Error(), attempts, &next)
	}
	return b.failure(lastErr.Error(), attempts, nil)
}

// waitForSlot blocks until the limiter admits a send, for at most MaxRateWait.
func (b *Base) waitForSlot(ctx context.Context) bool {
	deadline := b.now().Add(b.cfg.MaxRateWait)
	for !b.limiter.CanSend() {
		next := b.limiter.NextAvailableTime()
		if next.After(deadline) {
			return false
		}
		wait := next.Sub(b.now())
		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := b.sleep(ctx, wait); err != nil {
			return false
		}
	}
	return true
}

func (b *Base) failure(msg string, attempts int, next *time.Time) *models.SendResult {
	return &models.SendResult{
		Success:     false,
		ProviderID:  b.cfg.ID,
		Timestamp:   b.now(),
		Error:       msg,
		Attempts:    attempts,
		NextRetryAt: next,
	}
}
