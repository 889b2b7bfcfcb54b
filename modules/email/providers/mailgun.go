package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// MailgunRateLimitDelay is the fixed wait after Mailgun answers 429
const MailgunRateLimitDelay = 2 * time.Second

const mailgunSendTimeout = 30 * time.Second

// MailgunProvider sends through the Mailgun HTTP API
type MailgunProvider struct {
	*Base
	client *mailgun.MailgunImpl
}

// NewMailgunProvider creates a Mailgun provider. Domain and API key are required.
func NewMailgunProvider(cfg models.ProviderConfig, log *slog.Logger, opts ...Option) (*MailgunProvider, error) {
	if cfg.Credentials.Domain == "" {
		return nil, fmt.Errorf("mailgun provider %s: domain is required", cfg.ID)
	}
	if cfg.Credentials.APIKey == "" {
		return nil, fmt.Errorf("mailgun provider %s: api key is required", cfg.ID)
	}

	client := mailgun.NewMailgun(cfg.Credentials.Domain, cfg.Credentials.APIKey)
	if cfg.Credentials.APIBase != "" {
		client.SetAPIBase(cfg.Credentials.APIBase)
	}

	p := &MailgunProvider{client: client}
	opts = append([]Option{WithRetryDelay(mailgunRetryDelay)}, opts...)
	p.Base = NewBase(cfg, p, log, opts...)
	return p, nil
}

// Dispatch sends one message through the Mailgun API
func (p *MailgunProvider) Dispatch(ctx context.Context, msg *models.Message) (string, error) {
	m := p.client.NewMessage(msg.From, msg.Subject, msg.Text, msg.To...)
	m.SetHtml(msg.HTML)
	for k, v := range msg.Headers {
		m.AddHeader(k, v)
	}
	for _, a := range msg.Attachments {
		m.AddBufferAttachment(a.Filename, a.Content)
	}
	for k, v := range msg.Metadata {
		if err := m.AddVariable(k, v); err != nil {
			return "", fmt.Errorf("mailgun variable %s: %w", k, err)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, mailgunSendTimeout)
	defer cancel()

	_, id, err := p.client.Send(sendCtx, m)
	if err != nil {
		return "", wrapMailgunError(err)
	}
	return id, nil
}

func wrapMailgunError(err error) error {
	var ure *mailgun.UnexpectedResponseError
	if errors.As(err, &ure) {
		return &SendError{
			StatusCode: ure.Actual,
			Code:       "mailgun",
			Message:    string(ure.Data),
			Err:        err,
		}
	}
	return err
}

// mailgunRetryDelay waits a fixed short delay on 429 instead of the exponential curve
func mailgunRetryDelay(policy models.RetryPolicy, attempt int, class ErrorClass) (time.Duration, bool) {
	if class == ClassRateLimited {
		if attempt > policy.MaxRetries {
			return 0, true
		}
		return MailgunRateLimitDelay, false
	}
	return ComputeRetryDelay(policy, attempt)
}
