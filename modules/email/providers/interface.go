package providers

import (
	"context"
	"errors"
	"time"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// ErrUnsupportedProvider is returned by New for an unknown provider kind
var ErrUnsupportedProvider = errors.New("unsupported provider")

// Provider wraps one third-party email integration together with its rate limiter
// and retry policy. Send never returns an error: every outcome is a SendResult.
type Provider interface {
	ID() string
	Name() string
	Kind() string
	Priority() int
	Enabled() bool
	SetEnabled(enabled bool)

	CanSendNow() bool
	NextAvailableTime() time.Time
	// MaxRateWait is how long Send is willing to block on the rate limiter
	MaxRateWait() time.Duration

	Send(ctx context.Context, msg *models.Message) *models.SendResult
	Status() models.ProviderStatus
}

// Transport performs a single physical dispatch. Failures should be *SendError
// when the remote API reports a status.
type Transport interface {
	Dispatch(ctx context.Context, msg *models.Message) (messageID string, err error)
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context, msg *models.Message) (string, error)

func (f TransportFunc) Dispatch(ctx context.Context, msg *models.Message) (string, error) {
	return f(ctx, msg)
}
