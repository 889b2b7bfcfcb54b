package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

var (
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sent_total",
		Help: "Emails delivered, by provider",
	}, []string{"provider"})

	EmailsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_failed_total",
		Help: "Delivery failures, by provider and outcome (retrying or terminal)",
	}, []string{"provider", "outcome"})

	ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_provider_attempts_total",
		Help: "Physical dispatch attempts, by provider",
	}, []string{"provider"})

	ProviderSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_provider_skipped_total",
		Help: "Sends that skipped a provider because its rate limit wait was too long",
	}, []string{"provider"})

	QueueItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "email_queue_items",
		Help: "Queued emails, by status",
	}, []string{"status"})
)

func observeQueue(s models.QueueStatus) {
	QueueItems.WithLabelValues(string(models.StatusPending)).Set(float64(s.Pending))
	QueueItems.WithLabelValues(string(models.StatusProcessing)).Set(float64(s.Processing))
	QueueItems.WithLabelValues(string(models.StatusRetrying)).Set(float64(s.Retrying))
	QueueItems.WithLabelValues(string(models.StatusSent)).Set(float64(s.Sent))
	QueueItems.WithLabelValues(string(models.StatusFailed)).Set(float64(s.Failed))
}
