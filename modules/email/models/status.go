package models

import "time"

// HealthReport is the result of a delivery health check
type HealthReport struct {
	Healthy   bool             `json:"healthy"`
	Providers []ProviderStatus `json:"providers"`
	Queue     QueueStatus      `json:"queue"`
	CheckedAt time.Time        `json:"checked_at"`
}

// DeliveryStatus describes the manager, every registered provider and the queue
type DeliveryStatus struct {
	Running    bool             `json:"running"`
	Providers  []ProviderStatus `json:"providers"`
	Queue      QueueStatus      `json:"queue"`
	NextWakeUp *time.Time       `json:"next_wake_up,omitempty"`
}
