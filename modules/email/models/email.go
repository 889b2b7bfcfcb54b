package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a queued email
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Metadata keys carrying tenant/contact linkage
const (
	MetaTenantID  = "tenantId"
	MetaContactID = "contactId"
)

// ErrInvalidMessage is returned when a message is missing required fields
var ErrInvalidMessage = errors.New("invalid message")

// Attachment is a file attached to a message
type Attachment struct {
	Filename    string `json:"filename" bson:"filename"`
	Content     []byte `json:"content" bson:"content"`
	ContentType string `json:"content_type,omitempty" bson:"content_type,omitempty"`
}

// Message is an outbound email. It is treated as immutable once built.
type Message struct {
	To          []string          `json:"to"`
	From        string            `json:"from"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html"`
	Text        string            `json:"text,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks the required fields and address formats
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidMessage)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidMessage)
	}
	for _, to := range m.To {
		if err := ValidateAddress(to); err != nil {
			return fmt.Errorf("%w: invalid recipient %q: %v", ErrInvalidMessage, to, err)
		}
	}
	if m.From == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidMessage)
	}
	if err := ValidateAddress(ExtractAddress(m.From)); err != nil {
		return fmt.Errorf("%w: invalid sender: %v", ErrInvalidMessage, err)
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if m.HTML == "" {
		return fmt.Errorf("%w: HTML content is required", ErrInvalidMessage)
	}
	return nil
}

// TenantID returns the tenant linkage carried in the metadata
func (m *Message) TenantID() string {
	return m.Metadata[MetaTenantID]
}

// ContactID returns the contact linkage carried in the metadata
func (m *Message) ContactID() string {
	return m.Metadata[MetaContactID]
}

// Clone returns a deep copy so queue entries never share slices or maps with callers
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.To = append([]string(nil), m.To...)
	if m.Attachments != nil {
		c.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Content = append([]byte(nil), a.Content...)
			c.Attachments[i] = a
		}
	}
	c.Headers = cloneMap(m.Headers)
	c.Metadata = cloneMap(m.Metadata)
	return &c
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ExtractAddress extracts just the address from a "Display Name <email@domain.com>" form
func ExtractAddress(from string) string {
	start := strings.Index(from, "<")
	end := strings.Index(from, ">")
	if start != -1 && end > start {
		return from[start+1 : end]
	}
	return from
}

// ValidateAddress validates an email address format
func ValidateAddress(email string) error {
	if email == "" {
		return fmt.Errorf("email address is empty")
	}

	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email format: missing @ symbol")
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return fmt.Errorf("invalid email format: multiple @ symbols")
	}

	if parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid email format: empty local or domain part")
	}

	if !strings.Contains(parts[1], ".") {
		return fmt.Errorf("invalid email format: domain must contain a dot")
	}

	return nil
}

// QueuedEmail is one message's delivery lifecycle record
type QueuedEmail struct {
	ID                  string     `json:"id"`
	Message             *Message   `json:"message"`
	PreferredProviderID string     `json:"preferred_provider_id,omitempty"`
	Status              Status     `json:"status"`
	AttemptCount        int        `json:"attempt_count"`
	CreatedAt           time.Time  `json:"created_at"`
	LastAttemptAt       *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ProviderID          string     `json:"provider_id,omitempty"`
	ProviderMessageID   string     `json:"provider_message_id,omitempty"`
	ScheduledAt         *time.Time `json:"scheduled_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`

	// Persisted is set for items created through EnqueueAt or rescheduled through Update;
	// only those are mirrored to storage.
	Persisted bool `json:"persisted"`
}

// IsReady reports whether the item may be claimed at instant now
func (q *QueuedEmail) IsReady(now time.Time) bool {
	switch q.Status {
	case StatusPending:
		return true
	case StatusRetrying:
		return q.NextRetryAt == nil || !q.NextRetryAt.After(now)
	default:
		return false
	}
}

// Clone returns a copy safe to hand out of the queue
func (q *QueuedEmail) Clone() *QueuedEmail {
	if q == nil {
		return nil
	}
	c := *q
	c.Message = q.Message.Clone()
	c.LastAttemptAt = cloneTime(q.LastAttemptAt)
	c.NextRetryAt = cloneTime(q.NextRetryAt)
	c.ScheduledAt = cloneTime(q.ScheduledAt)
	c.CompletedAt = cloneTime(q.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SendResult is the outcome of a delivery attempt through one or more providers
type SendResult struct {
	Success           bool       `json:"success"`
	ProviderID        string     `json:"provider_id"`
	Timestamp         time.Time  `json:"timestamp"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	Attempts          int        `json:"attempts"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
}

// Synthetic provider ids used when no provider produced the result
const (
	ProviderIDNone   = "none"
	ProviderIDFailed = "failed"
)

// QueueStatus holds item counts by status
type QueueStatus struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Retrying   int `json:"retrying"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// UpdateRequest is a partial update of a queued email
type UpdateRequest struct {
	Message     *Message   `json:"message,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}
