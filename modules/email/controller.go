package email

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/thenasky/mail-delivery/internal/router"
	"github.com/thenasky/mail-delivery/modules/email/delivery"
	"github.com/thenasky/mail-delivery/modules/email/models"
	"github.com/thenasky/mail-delivery/modules/email/queue"
)

// Controller handles HTTP requests for email operations
type Controller struct {
	service *EmailService
}

// NewController creates a new email controller
func NewController(service *EmailService) *Controller {
	return &Controller{service: service}
}

// writeError maps service errors onto the response envelope
func writeError(res *router.Res, message string, err error) {
	details := map[string]string{"error": err.Error()}
	switch {
	case errors.Is(err, models.ErrInvalidMessage), errors.Is(err, ErrInvalidRequest):
		res.BadRequest(message, details)
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, delivery.ErrProviderNotFound):
		res.NotFound(message, details)
	case errors.Is(err, queue.ErrInProgress), errors.Is(err, queue.ErrTerminal):
		res.Conflict(message, details)
	default:
		res.Error(message, details)
	}
}

// SendEmail handles POST /api/v1/emails/send
func (c *Controller) SendEmail(req *router.Req, res *router.Res) {
	var body models.SendEmailRequest
	if err := req.JSON(&body); err != nil {
		res.BadRequest("Invalid request body", map[string]string{"error": err.Error()})
		return
	}

	result, err := c.service.SendEmail(req.Context(), &body)
	if err != nil {
		writeError(res, "Failed to send email", err)
		return
	}
	if !result.Success {
		retryAfter := 0
		if result.NextRetryAt != nil {
			retryAfter = int(math.Ceil(time.Until(*result.NextRetryAt).Seconds()))
		}
		res.ExternalError("Email delivery failed", result, retryAfter)
		return
	}
	res.Success("Email sent successfully", result)
}

// QueueEmail handles POST /api/v1/emails/queue
func (c *Controller) QueueEmail(req *router.Req, res *router.Res) {
	var body models.SendEmailRequest
	if err := req.JSON(&body); err != nil {
		res.BadRequest("Invalid request body", map[string]string{"error": err.Error()})
		return
	}

	response, err := c.service.QueueEmail(req.Context(), &body)
	if err != nil {
		writeError(res, "Failed to queue email", err)
		return
	}
	res.Created("Email queued successfully", response)
}

// ScheduleEmail handles POST /api/v1/emails/schedule
func (c *Controller) ScheduleEmail(req *router.Req, res *router.Res) {
	var body models.ScheduleEmailRequest
	if err := req.JSON(&body); err != nil {
		res.BadRequest("Invalid request body", map[string]string{"error": err.Error()})
		return
	}

	response, err := c.service.QueueEmailAt(req.Context(), &body)
	if err != nil {
		writeError(res, "Failed to schedule email", err)
		return
	}
	res.Created("Email scheduled successfully", response)
}

// ListQueue handles GET /api/v1/emails/queue?status=
func (c *Controller) ListQueue(req *router.Req, res *router.Res) {
	res.Success("Queue retrieved successfully", c.service.ListQueue(req.QueryParam("status")))
}

// GetQueueStatus handles GET /api/v1/emails/queue/status
func (c *Controller) GetQueueStatus(req *router.Req, res *router.Res) {
	res.Success("Queue status retrieved successfully", c.service.GetQueueStatus())
}

// GetEmailStatus handles GET /api/v1/emails/{id}/status
func (c *Controller) GetEmailStatus(req *router.Req, res *router.Res) {
	status, err := c.service.GetEmailStatus(req.Param("id"))
	if err != nil {
		writeError(res, "Email not found", err)
		return
	}
	res.Success("Email status retrieved successfully", status)
}

// UpdateEmail handles PATCH /api/v1/emails/{id}
func (c *Controller) UpdateEmail(req *router.Req, res *router.Res) {
	var body models.UpdateRequest
	if err := req.JSON(&body); err != nil {
		res.BadRequest("Invalid request body", map[string]string{"error": err.Error()})
		return
	}

	status, err := c.service.UpdateQueuedEmail(req.Context(), req.Param("id"), body)
	if err != nil {
		writeError(res, "Failed to update email", err)
		return
	}
	res.Success("Email updated successfully", status)
}

// RemoveEmail handles DELETE /api/v1/emails/{id}
func (c *Controller) RemoveEmail(req *router.Req, res *router.Res) {
	if err := c.service.RemoveQueuedEmail(req.Context(), req.Param("id")); err != nil {
		writeError(res, "Failed to remove email", err)
		return
	}
	res.Success("Email removed successfully", nil)
}

// Cleanup handles POST /api/v1/emails/cleanup
func (c *Controller) Cleanup(req *router.Req, res *router.Res) {
	body := models.CleanupRequest{OlderThanHours: req.QueryInt("older_than_hours", 24)}
	if req.ContentLength > 0 {
		if err := req.JSON(&body); err != nil {
			res.BadRequest("Invalid request body", map[string]string{"error": err.Error()})
			return
		}
	}

	removed, err := c.service.CleanupOldEmails(req.Context(), body.OlderThanHours)
	if err != nil {
		writeError(res, "Failed to clean up emails", err)
		return
	}
	res.Success("Cleanup finished", map[string]int{"removed": removed})
}

// Health handles GET /api/v1/emails/health
func (c *Controller) Health(req *router.Req, res *router.Res) {
	health := c.service.HealthCheck()
	if !health.Healthy {
		res.Custom(http.StatusServiceUnavailable, "fail", "No email providers available", health)
		return
	}
	res.Success("Email service is healthy", health)
}

// Status handles GET /api/v1/emails/status
func (c *Controller) Status(req *router.Req, res *router.Res) {
	res.Success("Status retrieved successfully", c.service.Status())
}

// Providers handles GET /api/v1/emails/providers
func (c *Controller) Providers(req *router.Req, res *router.Res) {
	res.Success("Providers retrieved successfully", c.service.Status().Providers)
}

// ToggleProvider handles PATCH /api/v1/emails/providers/{id}
func (c *Controller) ToggleProvider(req *router.Req, res *router.Res) {
	var body models.ProviderToggleRequest
	if err := req.JSON(&body); err != nil {
		res.BadRequest("Invalid request body", map[string]string{"error": err.Error()})
		return
	}
	if body.Enabled == nil {
		res.ValidationErrorSingle("enabled", "Field 'enabled' is required")
		return
	}

	status, err := c.service.SetProviderEnabled(req.Param("id"), *body.Enabled)
	if err != nil {
		writeError(res, "Failed to update provider", err)
		return
	}
	res.Success("Provider updated successfully", status)
}
