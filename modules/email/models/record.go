package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledEmailRecord is the durable mirror of a scheduled or retry-pending QueuedEmail
type ScheduledEmailRecord struct {
	ID                string     `json:"id" bson:"_id" db:"id"`
	TenantID          string     `json:"tenant_id" bson:"tenant_id" db:"tenant_id"`
	ContactID         string     `json:"contact_id,omitempty" bson:"contact_id,omitempty" db:"contact_id"`
	Sender            string     `json:"sender" bson:"sender" db:"sender"`
	Recipients        string     `json:"recipients" bson:"recipients" db:"recipients"`
	Subject           string     `json:"subject" bson:"subject" db:"subject"`
	HTML              string     `json:"html" bson:"html" db:"html_body"`
	Text              string     `json:"text,omitempty" bson:"text,omitempty" db:"text_body"`
	Headers           string     `json:"headers,omitempty" bson:"headers,omitempty" db:"headers"`
	Attachments       string     `json:"attachments,omitempty" bson:"attachments,omitempty" db:"attachments"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty" bson:"scheduled_at,omitempty" db:"scheduled_at"`
	Status            Status     `json:"status" bson:"status" db:"status"`
	ProviderID        string     `json:"provider_id,omitempty" bson:"provider_id,omitempty" db:"provider_id"`
	AttemptCount      int        `json:"attempt_count" bson:"attempt_count" db:"attempt_count"`
	LastAttemptAt     *time.Time `json:"last_attempt_at,omitempty" bson:"last_attempt_at,omitempty" db:"last_attempt_at"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty" bson:"next_retry_at,omitempty" db:"next_retry_at"`
	LastError         string     `json:"last_error,omitempty" bson:"last_error,omitempty" db:"last_error"`
	Metadata          string     `json:"metadata,omitempty" bson:"metadata,omitempty" db:"metadata"`
	CreatedAt         time.Time  `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// NewScheduledEmailRecord serializes a queue item into its storage row
func NewScheduledEmailRecord(item *QueuedEmail) (*ScheduledEmailRecord, error) {
	msg := item.Message
	recipients, err := json.Marshal(msg.To)
	if err != nil {
		return nil, fmt.Errorf("marshal recipients: %w", err)
	}
	rec := &ScheduledEmailRecord{
		ID:            item.ID,
		TenantID:      msg.TenantID(),
		ContactID:     msg.ContactID(),
		Sender:        msg.From,
		Recipients:    string(recipients),
		Subject:       msg.Subject,
		HTML:          msg.HTML,
		Text:          msg.Text,
		ScheduledAt:   utcPtr(item.ScheduledAt),
		Status:        item.Status,
		ProviderID:    item.PreferredProviderID,
		AttemptCount:  item.AttemptCount,
		LastAttemptAt: utcPtr(item.LastAttemptAt),
		NextRetryAt:   utcPtr(item.NextRetryAt),
		LastError:     item.LastError,
		CreatedAt:     item.CreatedAt.UTC(),
		UpdatedAt:     item.UpdatedAt.UTC(),
	}
	if rec.Headers, err = marshalOptional(msg.Headers, len(msg.Headers)); err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}
	if rec.Attachments, err = marshalOptional(msg.Attachments, len(msg.Attachments)); err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	if rec.Metadata, err = marshalOptional(msg.Metadata, len(msg.Metadata)); err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return rec, nil
}

// ToQueuedEmail rebuilds the in-memory queue item from a storage row
func (r *ScheduledEmailRecord) ToQueuedEmail() (*QueuedEmail, error) {
	msg := &Message{
		From:    r.Sender,
		Subject: r.Subject,
		HTML:    r.HTML,
		Text:    r.Text,
	}
	if err := json.Unmarshal([]byte(r.Recipients), &msg.To); err != nil {
		return nil, fmt.Errorf("unmarshal recipients of %s: %w", r.ID, err)
	}
	if err := unmarshalOptional(r.Headers, &msg.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers of %s: %w", r.ID, err)
	}
	if err := unmarshalOptional(r.Attachments, &msg.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments of %s: %w", r.ID, err)
	}
	if err := unmarshalOptional(r.Metadata, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata of %s: %w", r.ID, err)
	}
	if r.TenantID != "" || r.ContactID != "" {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]string, 2)
		}
		if r.TenantID != "" {
			msg.Metadata[MetaTenantID] = r.TenantID
		}
		if r.ContactID != "" {
			msg.Metadata[MetaContactID] = r.ContactID
		}
	}

	return &QueuedEmail{
		ID:                  r.ID,
		Message:             msg,
		PreferredProviderID: r.ProviderID,
		Status:              r.Status,
		AttemptCount:        r.AttemptCount,
		CreatedAt:           r.CreatedAt,
		LastAttemptAt:       r.LastAttemptAt,
		NextRetryAt:         r.NextRetryAt,
		LastError:           r.LastError,
		ScheduledAt:         r.ScheduledAt,
		UpdatedAt:           r.UpdatedAt,
		Persisted:           true,
	}, nil
}

func marshalOptional(v any, n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalOptional(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
