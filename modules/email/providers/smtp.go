package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

const smtpTimeout = 30 * time.Second

// SMTPProvider sends through an SMTP relay
type SMTPProvider struct {
	*Base
	client *mail.Client
}

// NewSMTPProvider creates an SMTP provider. Port 465 uses implicit TLS,
// every other port negotiates STARTTLS when the server offers it.
func NewSMTPProvider(cfg models.ProviderConfig, log *slog.Logger, opts ...Option) (*SMTPProvider, error) {
	creds := cfg.Credentials
	if creds.Host == "" {
		return nil, fmt.Errorf("smtp provider %s: host is required", cfg.ID)
	}
	port := creds.Port
	if port == 0 {
		port = 587
	}

	clientOpts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(smtpTimeout),
	}
	if port == 465 {
		clientOpts = append(clientOpts, mail.WithSSL())
	} else {
		clientOpts = append(clientOpts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if creds.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(creds.Username),
			mail.WithPassword(creds.Password),
		)
	}

	client, err := mail.NewClient(creds.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("smtp provider %s: %w", cfg.ID, err)
	}

	p := &SMTPProvider{client: client}
	opts = append([]Option{WithClassifier(ClassifySMTP)}, opts...)
	p.Base = NewBase(cfg, p, log, opts...)
	return p, nil
}

// Dispatch builds the MIME message and delivers it in one SMTP session
func (p *SMTPProvider) Dispatch(ctx context.Context, msg *models.Message) (string, error) {
	m, err := buildSMTPMessage(msg)
	if err != nil {
		return "", err
	}
	if err := p.client.DialAndSendWithContext(ctx, m); err != nil {
		return "", err
	}
	return m.GetMessageID(), nil
}

func buildSMTPMessage(msg *models.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, &SendError{StatusCode: 400, Code: "invalid_sender", Message: err.Error(), Err: err}
	}
	if err := m.To(msg.To...); err != nil {
		return nil, &SendError{StatusCode: 400, Code: "invalid_recipient", Message: err.Error(), Err: err}
	}
	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	if msg.Text != "" {
		m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
	}
	for k, v := range msg.Headers {
		m.SetGenHeader(mail.Header(k), v)
	}
	for _, a := range msg.Attachments {
		var fileOpts []mail.FileOption
		if a.ContentType != "" {
			fileOpts = append(fileOpts, mail.WithFileContentType(mail.ContentType(a.ContentType)))
		}
		m.AttachReadSeeker(a.Filename, bytes.NewReader(a.Content), fileOpts...)
	}
	return m, nil
}

// ClassifySMTP maps SMTP reply codes: 421/450/451/452 are rate or capacity
// signals, other 4xx are transient and 5xx are permanent.
func ClassifySMTP(err error) ErrorClass {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		if code := sendErr.ErrorCode(); code > 0 {
			return classifySMTPCode(code)
		}
		if sendErr.IsTemp() {
			return ClassTransient
		}
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return classifySMTPCode(tpErr.Code)
	}

	return Classify(err)
}

func classifySMTPCode(code int) ErrorClass {
	switch {
	case code == 421 || code == 450 || code == 451 || code == 452:
		return ClassRateLimited
	case code >= 400 && code < 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}
