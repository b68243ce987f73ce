package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

var ErrNoRecipients = errors.New("mail: no recipients")

type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	// StartTLS upgrades a plain connection when the server offers it.
	// When false the connection is TLS from the first byte.
	StartTLS bool
	Timeout  time.Duration
}

// SMTPSender submits mail to a relay.
type SMTPSender struct {
	cfg SMTPSettings
	log zerolog.Logger
	now func() time.Time
}

func NewSMTPSender(cfg SMTPSettings, log zerolog.Logger) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg, log: log.With().Str("component", "smtp").Logger(), now: time.Now}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	rcpts := msg.Recipients()
	if len(rcpts) == 0 {
		return ErrNoRecipients
	}
	raw, err := Compose(msg, s.now())
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}

	c, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer c.Close()

	if s.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(envelopeFrom(msg.From), nil); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, r := range rcpts {
		if err := c.Rcpt(envelopeFrom(r)); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", r, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	if err := c.Quit(); err != nil {
		s.log.Debug().Err(err).Msg("smtp quit")
	}
	s.log.Info().Strs("to", rcpts).Str("subject", msg.Subject).Msg("mail sent")
	return nil
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	d := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if !s.cfg.StartTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: s.cfg.Host})
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// envelopeFrom strips a display name for the SMTP envelope.
func envelopeFrom(addr string) string {
	if a, err := addressList([]string{addr}); err == nil && len(a) == 1 {
		return a[0].Address
	}
	return addr
}

// LogSender stands in for SMTP when no relay is configured.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "mail").Logger()}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Warn().
		Strs("to", msg.To).
		Strs("cc", msg.Cc).
		Str("subject", msg.Subject).
		Int("attachments", len(msg.Attachments)).
		Msg("SMTP not configured, mail not sent")
	s.log.Debug().Str("body", msg.Body).Msg("unsent mail body")
	return nil
}
