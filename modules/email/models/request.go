package models

import "time"

// SendEmailRequest is the body of POST /send and POST /queue
type SendEmailRequest struct {
	Message
	ProviderID string `json:"provider_id,omitempty"`
}

// ScheduleEmailRequest is the body of POST /schedule
type ScheduleEmailRequest struct {
	Message
	ProviderID string    `json:"provider_id,omitempty"`
	RunAt      time.Time `json:"run_at"`
}

// EmailResponse is returned when an email is accepted into the queue
type EmailResponse struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	QueuedAt    time.Time  `json:"queued_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// EmailStatus is the public view of a queued email
type EmailStatus struct {
	ID            string     `json:"id"`
	Status        Status     `json:"status"`
	To            []string   `json:"to"`
	Subject       string     `json:"subject"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Provider      string     `json:"provider,omitempty"`
	ProviderMsgID string     `json:"provider_message_id,omitempty"`
}

// NewEmailStatus builds the public view of item
func NewEmailStatus(item *QueuedEmail) *EmailStatus {
	s := &EmailStatus{
		ID:            item.ID,
		Status:        item.Status,
		Attempts:      item.AttemptCount,
		CreatedAt:     item.CreatedAt,
		ScheduledAt:   item.ScheduledAt,
		NextRetryAt:   item.NextRetryAt,
		ProcessedAt:   item.CompletedAt,
		ErrorMessage:  item.LastError,
		Provider:      item.ProviderID,
		ProviderMsgID: item.ProviderMessageID,
	}
	if item.Message != nil {
		s.To = item.Message.To
		s.Subject = item.Message.Subject
	}
	return s
}

// CleanupRequest is the body of POST /cleanup
type CleanupRequest struct {
	OlderThanHours int `json:"older_than_hours"`
}

// ProviderToggleRequest is the body of PATCH /providers/{id}
type ProviderToggleRequest struct {
	Enabled *bool `json:"enabled"`
}
