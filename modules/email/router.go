package email

import (
	"github.com/thenasky/mail-delivery/internal/router"

	"github.com/gorilla/mux"
)

// Module represents the email module
type Module struct {
	controller *Controller
}

// NewModule creates a new email module
func NewModule(service *EmailService) *Module {
	return &Module{
		controller: NewController(service),
	}
}

// Name implements core.ModuleRegistrar
func (m *Module) Name() string {
	return "email"
}

// RegisterRoutes implements core.ModuleRegistrar
func (m *Module) RegisterRoutes(r *mux.Router) {
	router.Router(r, "/api/v1/emails").
		// Delivery
		Post("/send", m.controller.SendEmail).
		Post("/queue", m.controller.QueueEmail).
		Post("/schedule", m.controller.ScheduleEmail).
		// Queue inspection and management
		Get("/queue", m.controller.ListQueue).
		Get("/queue/status", m.controller.GetQueueStatus).
		Post("/cleanup", m.controller.Cleanup).
		// Providers and health
		Get("/health", m.controller.Health).
		Get("/status", m.controller.Status).
		Get("/providers", m.controller.Providers).
		Patch("/providers/{id}", m.controller.ToggleProvider).
		// Single email
		Get("/{id}/status", m.controller.GetEmailStatus).
		Patch("/{id}", m.controller.UpdateEmail).
		Delete("/{id}", m.controller.RemoveEmail)
}
