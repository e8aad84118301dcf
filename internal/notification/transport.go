package notification

import (
	"context"
	"fmt"
	"time"

	"terraintake/internal/config"
	apperrors "terraintake/pkg/errors"

	"github.com/sirupsen/logrus"
	gomail "github.com/wneessen/go-mail"
	"golang.org/x/time/rate"
)

// Email is one outbound message handed to a Transport.
type Email struct {
	To      string
	From    string
	Subject string
	HTML    string
	Text    string
}

// Transport delivers a single email. Implementations return an error coded
// ErrCodeTransportUnconfigured when they can never succeed as configured;
// any other error is treated as transient.
type Transport interface {
	Send(ctx context.Context, email Email) error
}

// NewTransport builds the transport selected by cfg.Provider. It returns a nil
// Transport when no provider is configured, in which case the queue fails
// every delivery permanently.
func NewTransport(cfg config.EmailConfig, fromName string, log logrus.FieldLogger) (Transport, error) {
	switch cfg.Provider {
	case config.EmailProviderSMTP:
		return NewSMTPTransport(SMTPConfig{
			Host:          cfg.SMTPHost,
			Port:          cfg.SMTPPort,
			Username:      cfg.Username,
			Password:      cfg.Password,
			FromName:      fromName,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
		}), nil
	case config.EmailProviderLog:
		return NewLogTransport(log), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// SMTPConfig configures an SMTPTransport.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	FromName      string
	Timeout       time.Duration
	RatePerSecond float64
}

// SMTPTransport sends mail through an SMTP relay with go-mail.
type SMTPTransport struct {
	cfg     SMTPConfig
	limiter *rate.Limiter
}

// NewSMTPTransport creates an SMTP transport. A non-positive rate disables
// throttling.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &SMTPTransport{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (t *SMTPTransport) Send(ctx context.Context, email Email) error {
	if t.cfg.Host == "" {
		return apperrors.New(apperrors.ErrCodeTransportUnconfigured, "SMTP_HOST not configured")
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(t.cfg.FromName, email.From); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeTransportUnconfigured, "invalid sender address", err)
	}
	if err := msg.To(email.To); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(email.Subject)
	switch {
	case email.HTML != "" && email.Text != "":
		msg.SetBodyString(gomail.TypeTextPlain, email.Text)
		msg.AddAlternativeString(gomail.TypeTextHTML, email.HTML)
	case email.HTML != "":
		msg.SetBodyString(gomail.TypeTextHTML, email.HTML)
	default:
		msg.SetBodyString(gomail.TypeTextPlain, email.Text)
	}

	opts := []gomail.Option{
		gomail.WithPort(t.cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(t.cfg.Timeout),
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(t.cfg.Username),
			gomail.WithPassword(t.cfg.Password),
		)
	}
	client, err := gomail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeTransportUnconfigured, "invalid SMTP client settings", err)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("smtp rate limit: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeTransportTransient, "smtp send failed", err)
	}
	return nil
}

// LogTransport writes emails to the log instead of sending them. Used in
// development.
type LogTransport struct {
	log *logrus.Entry
}

func NewLogTransport(log logrus.FieldLogger) *LogTransport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogTransport{log: log.WithField("component", "EMAIL")}
}

func (t *LogTransport) Send(ctx context.Context, email Email) error {
	t.log.WithFields(logrus.Fields{
		"to":      email.To,
		"from":    email.From,
		"subject": email.Subject,
	}).Info("Email would be sent")
	return nil
}
