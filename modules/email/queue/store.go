package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// Store is the persistence collaborator of the queue
type Store interface {
	// Upsert writes the row keyed by rec.ID
	Upsert(ctx context.Context, rec *models.ScheduledEmailRecord) error
	// Delete removes the row; deleting a missing row is not an error
	Delete(ctx context.Context, id string) error
	// LoadActive returns every row whose status is pending or retrying
	LoadActive(ctx context.Context) ([]*models.ScheduledEmailRecord, error)
}

// MemoryStore keeps rows in process memory. It survives queue re-creation but not a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]models.ScheduledEmailRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]models.ScheduledEmailRecord)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec *models.ScheduledEmailRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *MemoryStore) LoadActive(_ context.Context) ([]*models.ScheduledEmailRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ScheduledEmailRecord
	for _, r := range s.rows {
		if isActive(r.Status) {
			rec := r
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Get returns a copy of a stored row
func (s *MemoryStore) Get(id string) (*models.ScheduledEmailRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	return &r, true
}

// Truncate drops every row
func (s *MemoryStore) Truncate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]models.ScheduledEmailRecord)
	return nil
}

// Len is the number of stored rows
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func isActive(status models.Status) bool {
	return status == models.StatusPending || status == models.StatusRetrying
}

var activeStatuses = []string{string(models.StatusPending), string(models.StatusRetrying)}
