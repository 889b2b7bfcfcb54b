package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thenasky/mail-delivery/internal/logger"
	"github.com/thenasky/mail-delivery/modules/email/delivery"
	"github.com/thenasky/mail-delivery/modules/email/models"
)

// ErrInvalidRequest is returned for malformed input that is not a message problem
var ErrInvalidRequest = errors.New("invalid request")

// EmailService is the inbound API of the delivery subsystem
type EmailService struct {
	manager *delivery.Manager
	log     *slog.Logger
}

// NewEmailService creates a new email service
func NewEmailService(manager *delivery.Manager, log *slog.Logger) *EmailService {
	return &EmailService{
		manager: manager,
		log:     log.With(logger.Scope("email.service")),
	}
}

// QueueEmail accepts a message for immediate, memory-only delivery
func (s *EmailService) QueueEmail(ctx context.Context, req *models.SendEmailRequest) (*models.EmailResponse, error) {
	id, err := s.manager.QueueEmail(ctx, &req.Message, req.ProviderID)
	if err != nil {
		return nil, err
	}
	return s.response(id)
}

// QueueEmailAt accepts a message for delivery at req.RunAt. Scheduled emails survive a restart.
func (s *EmailService) QueueEmailAt(ctx context.Context, req *models.ScheduleEmailRequest) (*models.EmailResponse, error) {
	if req.RunAt.IsZero() {
		return nil, fmt.Errorf("%w: run_at is required", ErrInvalidRequest)
	}
	id, err := s.manager.QueueEmailAt(ctx, &req.Message, req.RunAt, req.ProviderID)
	if err != nil {
		return nil, err
	}
	return s.response(id)
}

func (s *EmailService) response(id string) (*models.EmailResponse, error) {
	item, err := s.manager.GetEmailStatus(id)
	if err != nil {
		// a fast pass may already have completed and the item been cleaned up
		return &models.EmailResponse{ID: id, Status: models.StatusPending, QueuedAt: time.Now()}, nil
	}
	return &models.EmailResponse{
		ID:          item.ID,
		Status:      item.Status,
		QueuedAt:    item.CreatedAt,
		ScheduledAt: item.ScheduledAt,
	}, nil
}

// SendEmail delivers synchronously, bypassing the queue
func (s *EmailService) SendEmail(ctx context.Context, req *models.SendEmailRequest) (*models.SendResult, error) {
	res, err := s.manager.SendEmail(ctx, &req.Message, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		s.log.Warn("immediate send failed", slog.String("provider", res.ProviderID), slog.String("error", res.Error))
	}
	return res, nil
}

func (s *EmailService) GetQueueStatus() models.QueueStatus {
	return s.manager.GetQueueStatus()
}

// ListQueue returns every queued email, optionally filtered by status
func (s *EmailService) ListQueue(status string) []*models.EmailStatus {
	items := s.manager.Queue().GetAll()
	out := make([]*models.EmailStatus, 0, len(items))
	for _, item := range items {
		if status != "" && string(item.Status) != status {
			continue
		}
		out = append(out, models.NewEmailStatus(item))
	}
	return out
}

// GetEmailStatus returns the status of an email
func (s *EmailService) GetEmailStatus(id string) (*models.EmailStatus, error) {
	item, err := s.manager.GetEmailStatus(id)
	if err != nil {
		return nil, err
	}
	return models.NewEmailStatus(item), nil
}

func (s *EmailService) RemoveQueuedEmail(ctx context.Context, id string) error {
	return s.manager.RemoveQueuedEmail(ctx, id)
}

func (s *EmailService) UpdateQueuedEmail(ctx context.Context, id string, req models.UpdateRequest) (*models.EmailStatus, error) {
	if req.Message == nil && req.NextRetryAt == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}
	item, err := s.manager.UpdateQueuedEmail(ctx, id, req)
	if err != nil {
		return nil, err
	}
	return models.NewEmailStatus(item), nil
}

// CleanupOldEmails removes sent and failed emails completed more than hours ago.
// Zero removes every terminal email.
func (s *EmailService) CleanupOldEmails(ctx context.Context, hours int) (int, error) {
	if hours < 0 {
		return 0, fmt.Errorf("%w: older_than_hours must not be negative", ErrInvalidRequest)
	}
	removed := s.manager.CleanupOldEmails(ctx, time.Duration(hours)*time.Hour)
	s.log.Info("cleanup finished", slog.Int("removed", removed), slog.Int("older_than_hours", hours))
	return removed, nil
}

func (s *EmailService) HealthCheck() models.HealthReport {
	return s.manager.HealthCheck()
}

func (s *EmailService) Status() models.DeliveryStatus {
	return s.manager.Status()
}

func (s *EmailService) SetProviderEnabled(id string, enabled bool) (models.ProviderStatus, error) {
	if err := s.manager.SetProviderEnabled(id, enabled); err != nil {
		return models.ProviderStatus{}, err
	}
	p, _ := s.manager.Provider(id)
	return p.Status(), nil
}
