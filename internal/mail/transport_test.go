package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	imapserver "github.com/emersion/go-imap/server"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivered struct {
	from string
	to   []string
	data []byte
}

type smtpBackend struct {
	mu   sync.Mutex
	mail []delivered
}

func (b *smtpBackend) Login(_ *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	if username != "agent" || password != "secret" {
		return nil, errors.New("invalid credentials")
	}
	return &smtpSession{be: b}, nil
}

func (b *smtpBackend) AnonymousLogin(*smtp.ConnectionState) (smtp.Session, error) {
	return nil, smtp.ErrAuthRequired
}

func (b *smtpBackend) delivered() []delivered {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivered(nil), b.mail...)
}

type smtpSession struct {
	be  *smtpBackend
	cur delivered
}

func (s *smtpSession) Reset()        { s.cur = delivered{} }
func (s *smtpSession) Logout() error { return nil }

func (s *smtpSession) Mail(from string, _ smtp.MailOptions) error {
	s.cur.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string) error {
	s.cur.to = append(s.cur.to, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.data = b
	s.be.mu.Lock()
	s.be.mail = append(s.be.mail, s.cur)
	s.be.mu.Unlock()
	return nil
}

func listen(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return l, host, port
}

func TestSMTPSender_Send(t *testing.T) {
	be := &smtpBackend{}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	l, host, port := listen(t)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	sender := NewSMTPSender(SMTPSettings{
		Host:     host,
		Port:     port,
		Username: "agent",
		Password: "secret",
		StartTLS: true,
		Timeout:  5 * time.Second,
	}, zerolog.Nop())

	err := sender.Send(context.Background(), Message{
		From:    "Spielgruppe Pumuckl <anmeldung@spielgruppe.example>",
		To:      []string{"indoor@example.com"},
		Cc:      []string{"cc@example.com", "indoor@example.com"},
		Subject: "Neue Anmeldung: Lena Muster für Innenspielgruppe",
		Body:    "Hallo",
	})
	require.NoError(t, err)

	got := be.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, "anmeldung@spielgruppe.example", got[0].from)
	assert.Equal(t, []string{"indoor@example.com", "cc@example.com"}, got[0].to)

	in, err := Parse(bytes.NewReader(got[0].data))
	require.NoError(t, err)
	assert.Equal(t, "Neue Anmeldung: Lena Muster für Innenspielgruppe", in.Subject)
	assert.Equal(t, "Hallo", in.Body)
}

func TestSMTPSender_BadCredentials(t *testing.T) {
	srv := smtp.NewServer(&smtpBackend{})
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	l, host, port := listen(t)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	sender := NewSMTPSender(SMTPSettings{Host: host, Port: port, Username: "agent", Password: "wrong", StartTLS: true}, zerolog.Nop())
	err := sender.Send(context.Background(), Message{From: "a@example.com", To: []string{"b@example.com"}, Subject: "x"})
	assert.ErrorContains(t, err, "smtp auth")
}

func TestSMTPSender_NoRecipients(t *testing.T) {
	sender := NewSMTPSender(SMTPSettings{Host: "127.0.0.1", Port: 1}, zerolog.Nop())
	err := sender.Send(context.Background(), Message{From: "a@example.com"})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestIMAPMailbox_FetchUnseenMarksSeen(t *testing.T) {
	be := memory.New()
	srv := imapserver.New(be)
	srv.AllowInsecureAuth = true
	l, host, port := listen(t)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	user, err := be.Login(nil, "username", "password")
	require.NoError(t, err)
	inbox, err := user.GetMailbox("INBOX")
	require.NoError(t, err)
	raw := "From: Anna <anna@example.com>\r\n" +
		"Subject: Anmeldung\r\n" +
		"Message-ID: <m1@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Ich möchte Lena anmelden.\r\n"
	require.NoError(t, inbox.CreateMessage(nil, time.Now(), bytes.NewBufferString(raw)))

	mb := NewIMAPMailbox(IMAPSettings{
		Host:     host,
		Port:     port,
		Username: "username",
		Password: "password",
		TLS:      false,
		Timeout:  5 * time.Second,
	}, zerolog.Nop())

	msgs, err := mb.FetchUnseen(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "anna@example.com", msgs[0].From)
	assert.Equal(t, "m1@example.com", msgs[0].MessageID)
	assert.Equal(t, "Ich möchte Lena anmelden.", msgs[0].Body)
	assert.NotZero(t, msgs[0].UID)

	again, err := mb.FetchUnseen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestIMAPMailbox_LoginFailure(t *testing.T) {
	srv := imapserver.New(memory.New())
	srv.AllowInsecureAuth = true
	l, host, port := listen(t)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	mb := NewIMAPMailbox(IMAPSettings{Host: host, Port: port, Username: "username", Password: "nope", Timeout: 5 * time.Second}, zerolog.Nop())
	_, err := mb.FetchUnseen(context.Background())
	assert.ErrorContains(t, err, "imap login")
}
