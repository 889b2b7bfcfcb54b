package providers

import (
	"fmt"
	"log/slog"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// New builds the provider variant named by cfg.Kind
func New(cfg models.ProviderConfig, log *slog.Logger, opts ...Option) (Provider, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	switch cfg.Kind {
	case models.KindMailgun:
		p, err := NewMailgunProvider(cfg, log, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case models.KindSMTP:
		p, err := NewSMTPProvider(cfg, log, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case models.KindLog:
		return NewLogProvider(cfg, log, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Kind)
	}
}
