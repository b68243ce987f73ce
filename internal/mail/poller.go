package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/agent"
	"github.com/familienverein/meistereder/internal/models"
)

// Processor is the part of the agent the poller drives.
type Processor interface {
	ProcessMessage(ctx context.Context, in agent.Inbound) string
	HandleAutomatedMessage(ctx context.Context, in agent.Inbound, reason string)
}

type Poller struct {
	mailbox  Mailbox
	agent    Processor
	sender   Sender
	from     string
	interval time.Duration
	retries  uint64
	log      zerolog.Logger
	now      func() time.Time
}

func NewPoller(mb Mailbox, p Processor, s Sender, from string, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		mailbox:  mb,
		agent:    p,
		sender:   s,
		from:     from,
		interval: interval,
		retries:  3,
		log:      log.With().Str("component", "poller").Logger(),
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. Poll errors are logged, never fatal.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Dur("interval", p.interval).Msg("email poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			p.log.Info().Msg("email poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce fetches unseen mail and handles it in arrival order. It returns
// the number of replies sent.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.retries), ctx)
	msgs, err := backoff.RetryWithData(func() ([]*Incoming, error) {
		return p.mailbox.FetchUnseen(ctx)
	}, policy)
	if err != nil {
		return 0, fmt.Errorf("fetch unseen: %w", err)
	}

	sent := 0
	for _, in := range msgs {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if p.handle(ctx, in) {
			sent++
		}
	}
	return sent, nil
}

func (p *Poller) handle(ctx context.Context, in *Incoming) bool {
	log := p.log.With().Str("from", in.From).Str("message_id", in.MessageID).Logger()
	if in.From == "" {
		log.Warn().Msg("skipping message without sender")
		return false
	}

	inbound := agent.Inbound{
		Channel:   models.ChannelEmail,
		Sender:    in.From,
		Text:      in.Body,
		MessageID: in.MessageID,
	}
	if auto, reason := DetectAutomated(in); auto {
		log.Warn().Str("reason", reason).Msg("automated message, not replying")
		if inbound.Text == "" {
			inbound.Text = in.Subject
		}
		p.agent.HandleAutomatedMessage(ctx, inbound, reason)
		return false
	}
	if strings.TrimSpace(in.Body) == "" {
		log.Debug().Msg("skipping message without new text")
		return false
	}

	log.Info().Msg("processing message")
	reply := p.agent.ProcessMessage(ctx, inbound)
	if reply == "" {
		return false
	}
	if err := p.sender.Send(ctx, BuildReply(in, p.from, reply, p.now())); err != nil {
		log.Error().Err(err).Msg("sending reply failed")
		return false
	}
	return true
}

// BuildReply threads body under the inbound message and quotes what the
// parent wrote.
func BuildReply(in *Incoming, from, body string, now time.Time) Message {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = "Anmeldung Spielgruppe"
	}
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	refs := append([]string{}, in.References...)
	if in.MessageID != "" {
		refs = append(refs, in.MessageID)
	}
	if strings.TrimSpace(in.Body) != "" {
		body += quoteBlock(in.Body, in.From, now)
	}
	return Message{
		From:       from,
		To:         []string{in.From},
		Subject:    subject,
		Body:       body,
		MessageID:  NewMessageID(from),
		InReplyTo:  in.MessageID,
		References: refs,
		AutoReply:  true,
	}
}

func quoteBlock(original, sender string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\nAm %s schrieb %s:\n", at.Format("Mon, 02 Jan 2006 15:04"), sender)
	lines := strings.Split(original, "\n")
	for i, line := range lines {
		b.WriteString("> ")
		b.WriteString(line)
		if i < len(lines)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
