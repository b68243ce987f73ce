package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"
)

// Mailbox yields unseen inbound mail. Fetched messages are marked seen,
// including ones that could not be parsed.
type Mailbox interface {
	FetchUnseen(ctx context.Context) ([]*Incoming, error)
}

type IMAPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	TLS      bool
	Timeout  time.Duration
}

type IMAPMailbox struct {
	cfg IMAPSettings
	log zerolog.Logger
}

func NewIMAPMailbox(cfg IMAPSettings, log zerolog.Logger) *IMAPMailbox {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAPMailbox{cfg: cfg, log: log.With().Str("component", "imap").Logger()}
}

func (m *IMAPMailbox) FetchUnseen(ctx context.Context) ([]*Incoming, error) {
	c, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	// The client has no context support; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(m.cfg.Mailbox, false); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", m.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	msgs := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, msgs)
	}()

	var out []*Incoming
	for msg := range msgs {
		body := msg.GetBody(section)
		if body == nil {
			m.log.Warn().Uint32("uid", msg.Uid).Msg("message without body")
			continue
		}
		in, err := Parse(body)
		if err != nil {
			m.log.Error().Err(err).Uint32("uid", msg.Uid).Msg("parse message failed")
			continue
		}
		in.UID = msg.Uid
		out = append(out, in)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	flags := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, flags, []interface{}{imap.SeenFlag}, nil); err != nil {
		return out, fmt.Errorf("imap mark seen: %w", err)
	}
	m.log.Debug().Int("count", len(out)).Msg("fetched unseen messages")
	return out, nil
}

func (m *IMAPMailbox) connect() (*client.Client, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	var (
		c   *client.Client
		err error
	)
	if m.cfg.TLS {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: m.cfg.Host})
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	c.Timeout = m.cfg.Timeout
	return c, nil
}
