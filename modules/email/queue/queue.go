// Package queue holds the in-memory email queue and its persisted mirror.
//
// The in-memory index is authoritative while the process runs. Only items created
// through EnqueueAt are mirrored to the Store; mirroring is best-effort and a
// failed write never rolls back the in-memory transition.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thenasky/mail-delivery/internal/logger"
	"github.com/thenasky/mail-delivery/modules/email/models"
)

var (
	ErrNotFound   = errors.New("queued email not found")
	ErrInProgress = errors.New("queued email is being processed")
	ErrTerminal   = errors.New("queued email already reached a final state")
)

type entry struct {
	item *models.QueuedEmail
	seq  uint64
}

// EmailQueue is the keyed container of queue items plus the set of items
// currently claimed by a processing pass.
type EmailQueue struct {
	mu         sync.Mutex
	items      map[string]*entry
	processing map[string]struct{}
	seq        uint64

	// persistMu serializes store writes so the last write for an id reflects its latest state
	persistMu sync.Mutex
	store     Store

	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// Option configures an EmailQueue
type Option func(*EmailQueue)

func WithClock(now func() time.Time) Option {
	return func(q *EmailQueue) { q.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(q *EmailQueue) { q.newID = gen }
}

// New creates a queue. A nil store disables persistence.
func New(store Store, log *slog.Logger, opts ...Option) *EmailQueue {
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = slog.Default()
	}
	q := &EmailQueue{
		items:      make(map[string]*entry),
		processing: make(map[string]struct{}),
		store:      store,
		now:        time.Now,
		newID:      uuid.NewString,
		log:        log.With(logger.Scope("email.queue")),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Initialize loads persisted pending/retrying items into the index. It is the
// only recovery path after a restart and returns the number of items restored.
func (q *EmailQueue) Initialize(ctx context.Context) (int, error) {
	records, err := q.store.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load scheduled emails: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	restored := 0
	for _, rec := range records {
		if rec.Status != models.StatusPending && rec.Status != models.StatusRetrying {
			continue
		}
		if _, ok := q.items[rec.ID]; ok {
			continue
		}
		item, err := rec.ToQueuedEmail()
		if err != nil {
			q.log.Error("skipping unreadable scheduled email", slog.String("id", rec.ID), logger.Err(err))
			continue
		}
		q.insertLocked(item)
		restored++
	}

	q.log.Info("queue initialized", slog.Int("restored", restored))
	return restored, nil
}

// Enqueue adds an immediate, memory-only item
func (q *EmailQueue) Enqueue(ctx context.Context, msg *models.Message, preferredProviderID string) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	now := q.now()
	item := &models.QueuedEmail{
		ID:                  q.newID(),
		Message:             msg.Clone(),
		PreferredProviderID: preferredProviderID,
		Status:              models.StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	q.mu.Lock()
	q.insertLocked(item)
	q.mu.Unlock()

	q.log.Debug("email enqueued", slog.String("id", item.ID))
	return item.ID, nil
}

// EnqueueAt adds a scheduled item that becomes ready at runAt. Scheduled items are persisted.
func (q *EmailQueue) EnqueueAt(ctx context.Context, msg *models.Message, runAt time.Time, preferredProviderID string) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	now := q.now()
	scheduled := runAt
	next := runAt
	item := &models.QueuedEmail{
		ID:                  q.newID(),
		Message:             msg.Clone(),
		PreferredProviderID: preferredProviderID,
		Status:              models.StatusRetrying,
		CreatedAt:           now,
		UpdatedAt:           now,
		NextRetryAt:         &next,
		ScheduledAt:         &scheduled,
		Persisted:           true,
	}

	q.mu.Lock()
	q.insertLocked(item)
	q.mu.Unlock()

	q.mirror(ctx, item.ID)

	q.log.Debug("email scheduled", slog.String("id", item.ID), slog.Time("run_at", runAt))
	return item.ID, nil
}

func (q *EmailQueue) insertLocked(item *models.QueuedEmail) {
	q.seq++
	q.items[item.ID] = &entry{item: item, seq: q.seq}
}

// GetQueueStatus counts items by status
func (q *EmailQueue) GetQueueStatus() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s models.QueueStatus
	for _, e := range q.items {
		s.Total++
		switch e.item.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusProcessing:
			s.Processing++
		case models.StatusRetrying:
			s.Retrying++
		case models.StatusSent:
			s.Sent++
		case models.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// GetAll returns copies of every item, oldest first
func (q *EmailQueue) GetAll() []*models.QueuedEmail {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.collectLocked(func(*entry) bool { return true })
}

// Get returns a copy of one item
func (q *EmailQueue) Get(id string) (*models.QueuedEmail, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.item.Clone(), nil
}

// GetReady returns the items a processing pass may claim now, oldest-created first
func (q *EmailQueue) GetReady() []*models.QueuedEmail {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	return q.collectLocked(func(e *entry) bool {
		return q.claimableLocked(e, now)
	})
}

// GetForProvider returns the ready items that prefer providerID or have no preference
func (q *EmailQueue) GetForProvider(providerID string) []*models.QueuedEmail {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	return q.collectLocked(func(e *entry) bool {
		pref := e.item.PreferredProviderID
		return (pref == "" || pref == providerID) && q.claimableLocked(e, now)
	})
}

func (q *EmailQueue) claimableLocked(e *entry, now time.Time) bool {
	if _, busy := q.processing[e.item.ID]; busy {
		return false
	}
	return e.item.IsReady(now)
}

func (q *EmailQueue) collectLocked(keep func(*entry) bool) []*models.QueuedEmail {
	entries := make([]*entry, 0, len(q.items))
	for _, e := range q.items {
		if keep(e) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].item, entries[j].item
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]*models.QueuedEmail, len(entries))
	for i, e := range entries {
		out[i] = e.item.Clone()
	}
	return out
}

// Claim moves a ready item to processing. It returns false when the item is
// missing, not ready, or already held by another pass.
func (q *EmailQueue) Claim(id string) (*models.QueuedEmail, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[id]
	if !ok || !q.claimableLocked(e, q.now()) {
		return nil, false
	}
	q.processing[id] = struct{}{}
	e.item.Status = models.StatusProcessing
	e.item.UpdatedAt = q.now()
	return e.item.Clone(), true
}

// IsProcessing reports whether id is held by a processing pass
func (q *EmailQueue) IsProcessing(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.processing[id]
	return ok
}

// RecordAttempts adds n physical send attempts to the item
func (q *EmailQueue) RecordAttempts(id string, n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.items[id]
	if !ok {
		return
	}
	now := q.now()
	e.item.AttemptCount += n
	e.item.LastAttemptAt = &now
}

// MarkAsSent records a successful delivery. The persisted row, if any, is deleted.
func (q *EmailQueue) MarkAsSent(ctx context.Context, id string, result *models.SendResult) error {
	q.mu.Lock()
	e, ok := q.items[id]
	if !ok {
		delete(q.processing, id)
		q.mu.Unlock()
		return ErrNotFound
	}
	now := q.now()
	item := e.item
	item.Status = models.StatusSent
	item.NextRetryAt = nil
	item.LastError = ""
	item.UpdatedAt = now
	item.CompletedAt = &now
	if result != nil {
		item.ProviderID = result.ProviderID
		item.ProviderMessageID = result.ProviderMessageID
	}
	delete(q.processing, id)
	persisted := item.Persisted
	q.mu.Unlock()

	if persisted {
		q.mirror(ctx, id)
	}
	return nil
}

// MarkAsFailed records a failed delivery. A future nextRetryAt puts the item
// back into retrying; anything else is a terminal failure kept for inspection.
func (q *EmailQueue) MarkAsFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) error {
	q.mu.Lock()
	e, ok := q.items[id]
	if !ok {
		delete(q.processing, id)
		q.mu.Unlock()
		return ErrNotFound
	}
	now := q.now()
	item := e.item
	item.LastError = errMsg
	item.UpdatedAt = now
	if nextRetryAt != nil && nextRetryAt.After(now) {
		next := *nextRetryAt
		item.Status = models.StatusRetrying
		item.NextRetryAt = &next
	} else {
		item.Status = models.StatusFailed
		item.NextRetryAt = nil
		item.CompletedAt = &now
	}
	delete(q.processing, id)
	persisted := item.Persisted
	status := item.Status
	q.mu.Unlock()

	if persisted {
		q.mirror(ctx, id)
	}
	q.log.Debug("email failed", slog.String("id", id), slog.String("status", string(status)), slog.String("error", errMsg))
	return nil
}

// Remove deletes an item that is not currently being processed
func (q *EmailQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	e, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}
	if _, busy := q.processing[id]; busy {
		q.mu.Unlock()
		return ErrInProgress
	}
	delete(q.items, id)
	persisted := e.item.Persisted
	q.mu.Unlock()

	if persisted {
		q.mirror(ctx, id)
	}
	return nil
}

// Update replaces the message and/or the next retry time of a waiting item.
// Setting a retry time on a memory-only item turns it into a scheduled one,
// mirrored to storage from then on.
func (q *EmailQueue) Update(ctx context.Context, id string, req models.UpdateRequest) (*models.QueuedEmail, error) {
	if req.Message != nil {
		if err := req.Message.Validate(); err != nil {
			return nil, err
		}
	}

	q.mu.Lock()
	e, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return nil, ErrNotFound
	}
	if _, busy := q.processing[id]; busy {
		q.mu.Unlock()
		return nil, ErrInProgress
	}
	item := e.item
	if item.Status.IsTerminal() {
		q.mu.Unlock()
		return nil, ErrTerminal
	}
	if req.Message != nil {
		item.Message = req.Message.Clone()
	}
	if req.NextRetryAt != nil {
		next := *req.NextRetryAt
		item.NextRetryAt = &next
		item.Status = models.StatusRetrying
		if !item.Persisted {
			scheduled := next
			item.ScheduledAt = &scheduled
			item.Persisted = true
		}
	}
	item.UpdatedAt = q.now()
	persisted := item.Persisted
	out := item.Clone()
	q.mu.Unlock()

	if persisted {
		q.mirror(ctx, id)
	}
	return out, nil
}

// Cleanup removes terminal items that completed at least olderThan ago.
// Pending, retrying and processing items are never removed.
func (q *EmailQueue) Cleanup(ctx context.Context, olderThan time.Duration) int {
	q.mu.Lock()
	cutoff := q.now().Add(-olderThan)
	var removedPersisted []string
	removed := 0
	for id, e := range q.items {
		item := e.item
		if !item.Status.IsTerminal() {
			continue
		}
		if _, busy := q.processing[id]; busy {
			continue
		}
		completed := item.UpdatedAt
		if item.CompletedAt != nil {
			completed = *item.CompletedAt
		}
		if completed.After(cutoff) {
			continue
		}
		delete(q.items, id)
		removed++
		if item.Persisted {
			removedPersisted = append(removedPersisted, id)
		}
	}
	q.mu.Unlock()

	for _, id := range removedPersisted {
		q.mirror(ctx, id)
	}
	if removed > 0 {
		q.log.Info("cleaned up queued emails", slog.Int("removed", removed))
	}
	return removed
}

// NextWakeUp returns the earliest retry time among waiting retrying items
func (q *EmailQueue) NextWakeUp() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var earliest time.Time
	found := false
	for id, e := range q.items {
		if e.item.Status != models.StatusRetrying {
			continue
		}
		if _, busy := q.processing[id]; busy {
			continue
		}
		at := q.now()
		if e.item.NextRetryAt != nil {
			at = *e.item.NextRetryAt
		}
		if !found || at.Before(earliest) {
			earliest = at
			found = true
		}
	}
	return earliest, found
}

// mirror writes the current state of id to the store: an upsert while the item
// is waiting or failed, a delete once it is sent or gone.
func (q *EmailQueue) mirror(ctx context.Context, id string) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	var rec *models.ScheduledEmailRecord
	var err error
	e, ok := q.items[id]
	remove := !ok || e.item.Status == models.StatusSent
	if !remove {
		rec, err = models.NewScheduledEmailRecord(e.item)
	}
	q.mu.Unlock()

	if err != nil {
		q.log.Error("failed to serialize scheduled email", slog.String("id", id), logger.Err(err))
		return
	}

	if remove {
		if err := q.store.Delete(ctx, id); err != nil {
			q.log.Error("failed to delete scheduled email", slog.String("id", id), logger.Err(err))
		}
		return
	}
	if err := q.store.Upsert(ctx, rec); err != nil {
		q.log.Error("failed to persist scheduled email", slog.String("id", id), logger.Err(err))
	}
}
