package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"github.com/rileyhilliard/ntpwatch/internal/util"
)

// Default mail relay: Amazon SES over implicit TLS.
const (
	DefaultSMTPHost = "email-smtp.us-east-1.amazonaws.com"
	DefaultSMTPPort = 465
)

// SMTPOptions configure the mail channel.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// Recipients returns the non-empty addresses in To.
func (o SMTPOptions) Recipients() []string {
	var out []string
	for _, to := range o.To {
		if to = strings.TrimSpace(to); to != "" {
			out = append(out, to)
		}
	}
	return out
}

// Missing names the settings that must be filled in before mail can be sent.
func (o SMTPOptions) Missing() []string {
	var missing []string
	if o.From == "" {
		missing = append(missing, "EMAIL_SENDER")
	}
	if len(o.Recipients()) == 0 {
		missing = append(missing, "EMAIL_RECEIVER1")
	}
	if o.Username == "" {
		missing = append(missing, "SMTP_USERNAME")
	}
	if o.Password == "" {
		missing = append(missing, "SMTP_PASSWORD")
	}
	return missing
}

// Configured reports whether any mail setting was provided.
func (o SMTPOptions) Configured() bool {
	return o.From != "" || len(o.Recipients()) > 0 || o.Username != "" || o.Password != ""
}

// SMTP mails alerts over an implicit-TLS connection with PLAIN auth.
type SMTP struct {
	opts SMTPOptions
	log  logger.Logger
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTP creates the mail channel. Settings are checked on every Send so an
// incomplete configuration is reported each time an alert is lost.
func NewSMTP(opts SMTPOptions, log logger.Logger) *SMTP {
	if opts.Host == "" {
		opts.Host = DefaultSMTPHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultSMTPPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Noop()
	}
	s := &SMTP{opts: opts, log: log}
	s.send = s.dialAndSend
	return s
}

// Send implements Notifier.
func (s *SMTP) Send(ctx context.Context, subject, body string) error {
	if missing := s.opts.Missing(); len(missing) > 0 {
		s.log.Error("Email not sent, missing %s", strings.Join(missing, ", "))
		return errors.New(errors.ErrNotify,
			"Email alert not sent: mail settings incomplete",
			"Set "+strings.Join(missing, ", "))
	}

	msg, err := s.message(subject, body)
	if err != nil {
		return err
	}

	if err := s.send(ctx, msg); err != nil {
		s.log.Error("Failed to send alert email via %s:%d: %v", s.opts.Host, s.opts.Port, err)
		return errors.WrapWithCode(err, errors.ErrNotify,
			fmt.Sprintf("Failed to send alert email via %s:%d", s.opts.Host, s.opts.Port),
			"Check SMTP_USERNAME/SMTP_PASSWORD and that the sender address is verified with the relay")
	}

	s.log.Info("Alert email sent to %s", util.JoinOrNone(s.opts.Recipients()))
	return nil
}

func (s *SMTP) message(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.opts.From); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrNotify,
			fmt.Sprintf("Invalid EMAIL_SENDER %q", s.opts.From), "")
	}
	if err := msg.To(s.opts.Recipients()...); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrNotify,
			"Invalid alert recipient address", "Check EMAIL_RECEIVER1 and EMAIL_RECEIVER2")
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (s *SMTP) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(s.opts.Host,
		mail.WithPort(s.opts.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.opts.Username),
		mail.WithPassword(s.opts.Password),
		mail.WithTimeout(s.opts.Timeout),
	)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
