package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/lock"
	"github.com/familienverein/meistereder/internal/models"
)

type ReminderStore interface {
	Load(ctx context.Context, identity string) (*models.Conversation, error)
	Save(ctx context.Context, conv *models.Conversation) error
	ListIncomplete(ctx context.Context, cutoff time.Time) ([]*models.Conversation, error)
}

type ReminderSettings struct {
	After    time.Duration // idle time before a reminder
	Max      int           // reminders per conversation
	Interval time.Duration // how often to look for idle conversations
}

// Reminders nudges parents who stopped answering halfway through an
// email registration.
type Reminders struct {
	store  ReminderStore
	sender Sender
	locker lock.Locker
	from   string
	cfg    ReminderSettings
	log    zerolog.Logger
	now    func() time.Time
}

func NewReminders(st ReminderStore, s Sender, l lock.Locker, from string, cfg ReminderSettings, log zerolog.Logger) *Reminders {
	if cfg.After <= 0 {
		cfg.After = 72 * time.Hour
	}
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if l == nil {
		l = lock.NewLocal()
	}
	return &Reminders{
		store:  st,
		sender: s,
		locker: l,
		from:   from,
		cfg:    cfg,
		log:    log.With().Str("component", "reminders").Logger(),
		now:    time.Now,
	}
}

func (r *Reminders) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reminder run failed")
			}
		}
	}
}

// RunOnce sends every reminder that is due and returns how many went out.
func (r *Reminders) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	convs, err := r.store.ListIncomplete(ctx, now.Add(-r.cfg.After))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, c := range convs {
		if !r.eligible(c, now) {
			continue
		}
		ok, err := r.remind(ctx, c.ConversationID, now)
		if err != nil {
			r.log.Error().Err(err).Str("conversation", c.ConversationID).Msg("reminder failed")
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (r *Reminders) eligible(c *models.Conversation, now time.Time) bool {
	return c.Channel == models.ChannelEmail &&
		c.Phase() == models.PhaseActive &&
		c.Escalation() == models.EscalationNormal &&
		c.ParentEmail != "" &&
		c.ReminderCount < r.cfg.Max &&
		c.UserMessageCount() > 0 &&
		now.Sub(c.LastActivity) >= r.cfg.After
}

// remind re-reads the conversation under its lock so a parent answering at
// the same moment is never overwritten.
func (r *Reminders) remind(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock, err := r.locker.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	conv, err := r.store.Load(ctx, id)
	if err != nil || conv == nil || !r.eligible(conv, now) {
		return false, err
	}

	msg := Message{
		From:      r.from,
		To:        []string{conv.ParentEmail},
		Subject:   reminderSubject(conv.Language),
		Body:      reminderBody(conv.Language, conv.ParentName),
		InReplyTo: conv.LastInboundMessageID,
		AutoReply: true,
	}
	if conv.LastInboundMessageID != "" {
		msg.References = []string{conv.LastInboundMessageID}
	}
	if err := r.sender.Send(ctx, msg); err != nil {
		return false, err
	}

	conv.ReminderCount++
	conv.LastActivity = now
	conv.UpdatedAt = now
	if err := r.store.Save(ctx, conv); err != nil {
		return true, fmt.Errorf("save after reminder: %w", err)
	}
	r.log.Info().Str("conversation", id).Int("count", conv.ReminderCount).Msg("reminder sent")
	return true, nil
}

func reminderSubject(lang models.Language) string {
	if lang == models.LangEN {
		return "Re: Your registration for Spielgruppe Pumuckl"
	}
	return "Re: Deine Anmeldung für die Spielgruppe Pumuckl"
}

func reminderBody(lang models.Language, name string) string {
	if lang == models.LangEN {
		greeting := "Hello"
		if name != "" {
			greeting += " " + name
		}
		return greeting + ",\n\nyour registration for Spielgruppe Pumuckl is not finished yet. " +
			"Just reply to this email and we will continue where we left off.\n\n" +
			"Kind regards\nSpielgruppe Pumuckl"
	}
	greeting := "Hallo"
	if name != "" {
		greeting += " " + name
	}
	return greeting + ",\n\ndeine Anmeldung für die Spielgruppe Pumuckl ist noch nicht abgeschlossen. " +
		"Antworte einfach auf diese E-Mail, dann machen wir dort weiter, wo wir aufgehört haben.\n\n" +
		"Liebe Grüsse\nSpielgruppe Pumuckl"
}
