// Package delivery orchestrates providers and the queue: failover in priority
// order, queue processing passes and the self-rearming wake-up timer.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thenasky/mail-delivery/internal/logger"
	"github.com/thenasky/mail-delivery/modules/email/models"
	"github.com/thenasky/mail-delivery/modules/email/providers"
	"github.com/thenasky/mail-delivery/modules/email/queue"
)

var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrDuplicateProvider = errors.New("provider already registered")
)

// interruptedRetryDelay is how far out an item interrupted by Stop is rescheduled
const interruptedRetryDelay = time.Second

// Config tunes the manager
type Config struct {
	// SkipWaitThreshold is the longest rate-limit wait accepted before a provider is skipped
	SkipWaitThreshold time.Duration
	// CleanupSchedule is a cron spec for removing old terminal items; empty disables it
	CleanupSchedule string
	CleanupAfter    time.Duration
}

// DefaultConfig returns the defaults used when fields are left zero
func DefaultConfig() Config {
	return Config{
		SkipWaitThreshold: 5 * time.Second,
		CleanupSchedule:   "@every 1h",
		CleanupAfter:      24 * time.Hour,
	}
}

// Option configures a Manager
type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager holds the provider registry and drives the queue
type Manager struct {
	mu        sync.RWMutex
	providers map[string]providers.Provider

	queue *queue.EmailQueue
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
	cron  *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	// lifecycle guards the timer and the started/stopped flags
	lifecycle sync.Mutex
	timer     *time.Timer
	wakeAt    time.Time
	started   bool
	stopped   bool
	passes    sync.WaitGroup
}

// NewManager builds a manager around q. Providers are registered separately.
func NewManager(q *queue.EmailQueue, cfg Config, log *slog.Logger, opts ...Option) (*Manager, error) {
	def := DefaultConfig()
	if cfg.SkipWaitThreshold <= 0 {
		cfg.SkipWaitThreshold = def.SkipWaitThreshold
	}
	if cfg.CleanupAfter <= 0 {
		cfg.CleanupAfter = def.CleanupAfter
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		providers: make(map[string]providers.Provider),
		queue:     q,
		cfg:       cfg,
		log:       log.With(logger.Scope("email.delivery")),
		now:       time.Now,
		cron:      cron.New(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.CleanupSchedule != "" {
		if _, err := m.cron.AddFunc(cfg.CleanupSchedule, m.runCleanup); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.CleanupSchedule, err)
		}
	}
	return m, nil
}

// RegisterProvider adds a provider to the registry
func (m *Manager) RegisterProvider(p providers.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.ID())
	}
	m.providers[p.ID()] = p
	m.log.Info("provider registered",
		slog.String("provider", p.ID()),
		slog.Int("priority", p.Priority()),
		slog.Bool("enabled", p.Enabled()))
	return nil
}

// RegisterProviderConfig builds the provider variant named by cfg.Kind and registers it
func (m *Manager) RegisterProviderConfig(cfg models.ProviderConfig) error {
	p, err := providers.New(cfg, m.log)
	if err != nil {
		return err
	}
	return m.RegisterProvider(p)
}

func (m *Manager) UnregisterProvider(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	delete(m.providers, id)
	return nil
}

// Provider looks up a registered provider, enabled or not
func (m *Manager) Provider(id string) (providers.Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	return p, ok
}

// Providers returns the enabled providers, lowest priority value first
func (m *Manager) Providers() []providers.Provider {
	return m.sortedProviders(true)
}

func (m *Manager) sortedProviders(enabledOnly bool) []providers.Provider {
	m.mu.RLock()
	out := make([]providers.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if !enabledOnly || p.Enabled() {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() < out[j].Priority()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// SetProviderEnabled toggles a provider at runtime
func (m *Manager) SetProviderEnabled(id string, enabled bool) error {
	p, ok := m.Provider(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	p.SetEnabled(enabled)
	m.log.Info("provider toggled", slog.String("provider", id), slog.Bool("enabled", enabled))
	return nil
}

// SendEmail delivers msg synchronously without touching the queue. The error
// is only for invalid input; delivery outcomes are in the result.
func (m *Manager) SendEmail(ctx context.Context, msg *models.Message, preferredProviderID string) (*models.SendResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return m.deliver(ctx, msg, preferredProviderID), nil
}

// deliver tries the preferred provider first, then every enabled provider by priority
func (m *Manager) deliver(ctx context.Context, msg *models.Message, preferredProviderID string) *models.SendResult {
	candidates := m.Providers()
	if preferredProviderID != "" {
		if p, ok := m.Provider(preferredProviderID); ok && p.Enabled() {
			ordered := []providers.Provider{p}
			for _, c := range candidates {
				if c.ID() != p.ID() {
					ordered = append(ordered, c)
				}
			}
			candidates = ordered
		}
	}

	if len(candidates) == 0 {
		return &models.SendResult{
			Success:    false,
			ProviderID: models.ProviderIDNone,
			Timestamp:  m.now(),
			Error:      "no email providers available",
		}
	}

	var (
		attempts  int
		lastError string
		nextRetry *time.Time
	)
	for _, p := range candidates {
		res := m.attemptSend(ctx, p, msg)
		attempts += res.Attempts
		if res.Attempts > 0 {
			ProviderAttempts.WithLabelValues(p.ID()).Add(float64(res.Attempts))
		}
		if res.Success {
			res.Attempts = attempts
			return res
		}

		lastError = fmt.Sprintf("%s: %s", p.ID(), res.Error)
		if res.NextRetryAt != nil && (nextRetry == nil || res.NextRetryAt.Before(*nextRetry)) {
			next := *res.NextRetryAt
			nextRetry = &next
		}
		m.log.Warn("provider failed, trying next",
			slog.String("provider", p.ID()),
			slog.String("error", res.Error))
	}

	return &models.SendResult{
		Success:     false,
		ProviderID:  models.ProviderIDFailed,
		Timestamp:   m.now(),
		Error:       lastError,
		Attempts:    attempts,
		NextRetryAt: nextRetry,
	}
}

// attemptSend runs one provider. A long rate-limit wait skips the provider and
// a panic inside it counts as that provider's failure.
func (m *Manager) attemptSend(ctx context.Context, p providers.Provider, msg *models.Message) (res *models.SendResult) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("provider panicked", slog.String("provider", p.ID()), slog.Any("panic", r))
			res = &models.SendResult{
				Success:    false,
				ProviderID: p.ID(),
				Timestamp:  m.now(),
				Error:      fmt.Sprintf("provider panicked: %v", r),
			}
		}
	}()

	if !p.CanSendNow() {
		next := p.NextAvailableTime()
		if wait := next.Sub(m.now()); wait > m.cfg.SkipWaitThreshold {
			ProviderSkips.WithLabelValues(p.ID()).Inc()
			return &models.SendResult{
				Success:     false,
				ProviderID:  p.ID(),
				Timestamp:   m.now(),
				Error:       fmt.Sprintf("rate limited for %s", wait.Round(time.Millisecond)),
				NextRetryAt: &next,
			}
		}
	}
	return p.Send(ctx, msg)
}

// QueueEmail enqueues msg for immediate delivery and starts a processing pass
func (m *Manager) QueueEmail(ctx context.Context, msg *models.Message, preferredProviderID string) (string, error) {
	id, err := m.queue.Enqueue(ctx, msg, preferredProviderID)
	if err != nil {
		return "", err
	}
	m.trigger()
	return id, nil
}

// QueueEmailAt schedules msg for runAt; the schedule survives restarts
func (m *Manager) QueueEmailAt(ctx context.Context, msg *models.Message, runAt time.Time, preferredProviderID string) (string, error) {
	id, err := m.queue.EnqueueAt(ctx, msg, runAt, preferredProviderID)
	if err != nil {
		return "", err
	}
	m.rearm()
	return id, nil
}

// PassResult summarizes one processing pass
type PassResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// ProcessQueue attempts every ready item once, oldest first, then rearms the
// wake-up timer. Items claimed by a concurrent pass are skipped.
func (m *Manager) ProcessQueue(ctx context.Context) PassResult {
	var out PassResult
	for _, item := range m.queue.GetReady() {
		if ctx.Err() != nil {
			break
		}
		claimed, ok := m.queue.Claim(item.ID)
		if !ok {
			continue
		}
		out.Processed++

		res := m.deliver(ctx, claimed.Message, claimed.PreferredProviderID)
		m.queue.RecordAttempts(claimed.ID, res.Attempts)

		// the outcome must reach the store even when the pass was cancelled
		markCtx := context.WithoutCancel(ctx)

		if res.Success {
			out.Sent++
			EmailsSent.WithLabelValues(res.ProviderID).Inc()
			if err := m.queue.MarkAsSent(markCtx, claimed.ID, res); err != nil {
				m.log.Warn("mark as sent", slog.String("id", claimed.ID), logger.Err(err))
			}
			continue
		}

		next := res.NextRetryAt
		if ctx.Err() != nil && (next == nil || !next.After(m.now())) {
			// interrupted by Stop: keep the item for the next run instead of failing it
			at := m.now().Add(interruptedRetryDelay)
			next = &at
		}
		if err := m.queue.MarkAsFailed(markCtx, claimed.ID, res.Error, next); err != nil {
			m.log.Warn("mark as failed", slog.String("id", claimed.ID), logger.Err(err))
			continue
		}
		if next != nil && next.After(m.now()) {
			out.Retrying++
			EmailsFailed.WithLabelValues(res.ProviderID, "retrying").Inc()
		} else {
			out.Failed++
			EmailsFailed.WithLabelValues(res.ProviderID, "terminal").Inc()
		}
	}

	observeQueue(m.queue.GetQueueStatus())
	m.rearm()

	if out.Processed > 0 {
		m.log.Info("queue pass finished",
			slog.Int("processed", out.Processed),
			slog.Int("sent", out.Sent),
			slog.Int("retrying", out.Retrying),
			slog.Int("failed", out.Failed))
	}
	return out
}

// trigger starts a processing pass in the background unless the manager is stopped
func (m *Manager) trigger() {
	m.lifecycle.Lock()
	if m.stopped {
		m.lifecycle.Unlock()
		return
	}
	m.passes.Add(1)
	m.lifecycle.Unlock()

	go func() {
		defer m.passes.Done()
		m.ProcessQueue(m.ctx)
	}()
}

// rearm points the single wake-up timer at the earliest retry time, or cancels it
func (m *Manager) rearm() {
	at, ok := m.queue.NextWakeUp()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.stopped {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
		m.wakeAt = time.Time{}
	}
	if !ok {
		return
	}
	delay := at.Sub(m.now())
	if delay < 0 {
		delay = 0
	}
	m.wakeAt = at
	m.timer = time.AfterFunc(delay, m.trigger)
}

// NextWakeUp reports when the timer will fire
func (m *Manager) NextWakeUp() (time.Time, bool) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.wakeAt, m.timer != nil
}

func (m *Manager) runCleanup() {
	removed := m.queue.Cleanup(m.ctx, m.cfg.CleanupAfter)
	m.log.Debug("scheduled cleanup finished", slog.Int("removed", removed))
	observeQueue(m.queue.GetQueueStatus())
}

// Start restores persisted items, starts the cleanup schedule and runs a first pass
func (m *Manager) Start(ctx context.Context) {
	m.lifecycle.Lock()
	if m.started || m.stopped {
		m.lifecycle.Unlock()
		return
	}
	m.started = true
	m.lifecycle.Unlock()

	if n, err := m.queue.Initialize(ctx); err != nil {
		m.log.Error("failed to restore scheduled emails", logger.Err(err))
	} else if n > 0 {
		m.log.Info("restored scheduled emails", slog.Int("count", n))
	}

	m.cron.Start()
	m.trigger()
	m.log.Info("delivery manager started", slog.Int("providers", len(m.Providers())))
}

// Stop halts the timer and the cleanup schedule and waits for running passes.
// Provider calls already in flight finish; pending rate-limit and backoff waits
// are interrupted and the affected items stay retrying. Memory-only items
// still queued are dropped. Safe to call twice.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	if m.stopped {
		m.lifecycle.Unlock()
		return
	}
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.lifecycle.Unlock()

	<-m.cron.Stop().Done()
	m.cancel()
	m.passes.Wait()
	m.log.Info("delivery manager stopped")
}

// Running reports whether Start was called and Stop was not
func (m *Manager) Running() bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.started && !m.stopped
}

// Queue exposes the underlying queue
func (m *Manager) Queue() *queue.EmailQueue {
	return m.queue
}

// GetEmailStatus returns a copy of one queue item
func (m *Manager) GetEmailStatus(id string) (*models.QueuedEmail, error) {
	return m.queue.Get(id)
}

func (m *Manager) GetQueueStatus() models.QueueStatus {
	return m.queue.GetQueueStatus()
}

// RemoveQueuedEmail deletes an item that is not being processed
func (m *Manager) RemoveQueuedEmail(ctx context.Context, id string) error {
	if err := m.queue.Remove(ctx, id); err != nil {
		return err
	}
	m.rearm()
	return nil
}

// UpdateQueuedEmail changes the message or retry time of a waiting item
func (m *Manager) UpdateQueuedEmail(ctx context.Context, id string, req models.UpdateRequest) (*models.QueuedEmail, error) {
	item, err := m.queue.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	m.rearm()
	return item, nil
}

// CleanupOldEmails removes terminal items older than olderThan
func (m *Manager) CleanupOldEmails(ctx context.Context, olderThan time.Duration) int {
	removed := m.queue.Cleanup(ctx, olderThan)
	observeQueue(m.queue.GetQueueStatus())
	return removed
}

// HealthCheck is healthy while at least one enabled provider is registered
func (m *Manager) HealthCheck() models.HealthReport {
	enabled := m.Providers()
	statuses := make([]models.ProviderStatus, 0, len(enabled))
	for _, p := range enabled {
		statuses = append(statuses, p.Status())
	}
	return models.HealthReport{
		Healthy:   len(enabled) > 0,
		Providers: statuses,
		Queue:     m.queue.GetQueueStatus(),
		CheckedAt: m.now(),
	}
}

// Status lists every registered provider, enabled or not
func (m *Manager) Status() models.DeliveryStatus {
	all := m.sortedProviders(false)
	statuses := make([]models.ProviderStatus, 0, len(all))
	for _, p := range all {
		statuses = append(statuses, p.Status())
	}
	out := models.DeliveryStatus{
		Running:   m.Running(),
		Providers: statuses,
		Queue:     m.queue.GetQueueStatus(),
	}
	if at, ok := m.NextWakeUp(); ok {
		out.NextWakeUp = &at
	}
	return out
}
