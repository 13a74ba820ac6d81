// Package alert delivers failure notifications.
package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"

	"github.com/Sternrassler/api-fetcher/pkg/config"
)

var alertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetch_alerts_total",
	Help: "Failure alerts by delivery result",
}, []string{"result"})

// ErrIncompleteConfig is returned when email alerts lack sender, recipients
// or server.
var ErrIncompleteConfig = errors.New("incomplete email alert config")

// Notifier sends a notification.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Nop discards every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, string) error { return nil }

// Sender delivers a composed message. It is satisfied by *mail.Client.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier sends plain text mail over SMTP.
type EmailNotifier struct {
	cfg    config.EmailAlertConfig
	sender Sender
	logger zerolog.Logger
}

// New returns an EmailNotifier when email alerts are enabled, otherwise Nop.
func New(cfg config.EmailAlertConfig) (Notifier, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewEmailNotifier(cfg)
}

// NewEmailNotifier creates an SMTP notifier. STARTTLS is required when
// UseTLS is set; authentication is used only when both user and password
// are configured.
func NewEmailNotifier(cfg config.EmailAlertConfig) (*EmailNotifier, error) {
	if cfg.From == "" || len(cfg.To) == 0 || cfg.SMTPServer == "" {
		return nil, ErrIncompleteConfig
	}

	port := cfg.SMTPPort
	if port == 0 {
		port = 25
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.NoTLS),
	}
	if cfg.UseTLS {
		opts[1] = mail.WithTLSPolicy(mail.TLSMandatory)
	}
	if cfg.SMTPUser != "" && cfg.SMTPPassword != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUser),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}

	client, err := mail.NewClient(cfg.SMTPServer, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return NewEmailNotifierWithSender(cfg, client), nil
}

// NewEmailNotifierWithSender creates a notifier delivering through sender.
func NewEmailNotifierWithSender(cfg config.EmailAlertConfig, sender Sender) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		sender: sender,
		logger: log.With().Str("component", "alert").Logger(),
	}
}

// Message composes the alert mail.
func (n *EmailNotifier) Message(subject, body string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(n.cfg.To...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

// Notify sends one mail to all recipients.
func (n *EmailNotifier) Notify(ctx context.Context, subject, body string) error {
	m, err := n.Message(subject, body)
	if err != nil {
		alertsSentTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := n.sender.DialAndSendWithContext(ctx, m); err != nil {
		alertsSentTotal.WithLabelValues("error").Inc()
		n.logger.Error().Err(err).Msg("Failed to send alert email")
		return fmt.Errorf("send alert: %w", err)
	}
	alertsSentTotal.WithLabelValues("sent").Inc()
	n.logger.Info().Strs("to", n.cfg.To).Str("subject", subject).Msg("Alert email sent")
	return nil
}
