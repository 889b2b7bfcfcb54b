package providers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/thenasky/mail-delivery/internal/logger"
	"github.com/thenasky/mail-delivery/modules/email/models"
)

// LogProvider logs messages instead of sending them. Used in development and
// as the fallback when no real provider is configured.
type LogProvider struct {
	*Base
	log *slog.Logger
}

func NewLogProvider(cfg models.ProviderConfig, log *slog.Logger, opts ...Option) *LogProvider {
	if log == nil {
		log = slog.Default()
	}
	p := &LogProvider{log: log.With(logger.Scope("email.provider.log"))}
	p.Base = NewBase(cfg, p, log, opts...)
	return p
}

func (p *LogProvider) Dispatch(ctx context.Context, msg *models.Message) (string, error) {
	id := uuid.NewString()
	p.log.InfoContext(ctx, "email logged",
		slog.String("message_id", id),
		slog.String("from", msg.From),
		slog.String("to", strings.Join(msg.To, ", ")),
		slog.String("subject", msg.Subject),
		slog.Int("attachments", len(msg.Attachments)))
	return id, nil
}
