package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// SQLStore persists scheduled emails in PostgreSQL or SQLite. Both drivers accept
// the numbered $N placeholders and ON CONFLICT upserts used here.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS scheduled_emails (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT '',
	contact_id TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL,
	recipients TEXT NOT NULL,
	subject TEXT NOT NULL,
	html_body TEXT NOT NULL,
	text_body TEXT NOT NULL DEFAULT '',
	headers TEXT NOT NULL DEFAULT '',
	attachments TEXT NOT NULL DEFAULT '',
	scheduled_at TIMESTAMP NULL,
	status TEXT NOT NULL,
	provider_id TEXT NOT NULL DEFAULT '',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMP NULL,
	next_retry_at TIMESTAMP NULL,
	last_error TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_status ON scheduled_emails (status)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_tenant ON scheduled_emails (tenant_id)`,
}

// Migrate creates the table and indexes if they do not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate scheduled_emails: %w", err)
		}
	}
	return nil
}

const upsertScheduledEmail = `
INSERT INTO scheduled_emails (
	id, tenant_id, contact_id, sender, recipients, subject, html_body, text_body,
	headers, attachments, scheduled_at, status, provider_id, attempt_count,
	last_attempt_at, next_retry_at, last_error, metadata, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (id) DO UPDATE SET
	tenant_id = excluded.tenant_id,
	contact_id = excluded.contact_id,
	sender = excluded.sender,
	recipients = excluded.recipients,
	subject = excluded.subject,
	html_body = excluded.html_body,
	text_body = excluded.text_body,
	headers = excluded.headers,
	attachments = excluded.attachments,
	scheduled_at = excluded.scheduled_at,
	status = excluded.status,
	provider_id = excluded.provider_id,
	attempt_count = excluded.attempt_count,
	last_attempt_at = excluded.last_attempt_at,
	next_retry_at = excluded.next_retry_at,
	last_error = excluded.last_error,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at`

func (s *SQLStore) Upsert(ctx context.Context, rec *models.ScheduledEmailRecord) error {
	_, err := s.db.ExecContext(ctx, upsertScheduledEmail,
		rec.ID, rec.TenantID, rec.ContactID, rec.Sender, rec.Recipients, rec.Subject,
		rec.HTML, rec.Text, rec.Headers, rec.Attachments, nullTime(rec.ScheduledAt),
		string(rec.Status), rec.ProviderID, rec.AttemptCount, nullTime(rec.LastAttemptAt),
		nullTime(rec.NextRetryAt), rec.LastError, rec.Metadata,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert scheduled email %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_emails WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete scheduled email %s: %w", id, err)
	}
	return nil
}

const selectActive = `
SELECT id, tenant_id, contact_id, sender, recipients, subject, html_body, text_body,
	headers, attachments, scheduled_at, status, provider_id, attempt_count,
	last_attempt_at, next_retry_at, last_error, metadata, created_at, updated_at
FROM scheduled_emails
WHERE status IN ($1, $2)
ORDER BY created_at`

func (s *SQLStore) LoadActive(ctx context.Context) ([]*models.ScheduledEmailRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectActive, activeStatuses[0], activeStatuses[1])
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled emails: %w", err)
	}
	defer rows.Close()

	var out []*models.ScheduledEmailRecord
	for rows.Next() {
		var (
			rec                              models.ScheduledEmailRecord
			status                           string
			scheduledAt, lastAttempt, nextAt sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.ContactID, &rec.Sender, &rec.Recipients, &rec.Subject,
			&rec.HTML, &rec.Text, &rec.Headers, &rec.Attachments, &scheduledAt,
			&status, &rec.ProviderID, &rec.AttemptCount, &lastAttempt,
			&nextAt, &rec.LastError, &rec.Metadata, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled email: %w", err)
		}
		rec.Status = models.Status(status)
		rec.ScheduledAt = timePtr(scheduledAt)
		rec.LastAttemptAt = timePtr(lastAttempt)
		rec.NextRetryAt = timePtr(nextAt)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scheduled emails: %w", err)
	}
	return out, nil
}

// Truncate drops every row; used by tests
func (s *SQLStore) Truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_emails`)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
