package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/familienverein/meistereder/internal/events"
	"github.com/familienverein/meistereder/internal/models"
)

// ChatSender posts plain text to a Telegram chat; *bot.Client implements it.
type ChatSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// TelegramAlerts sends short admin alerts to one staff chat. Parents are
// never messaged from here.
type TelegramAlerts struct {
	client ChatSender
	chatID int64
}

func NewTelegramAlerts(c ChatSender, chatID int64) *TelegramAlerts {
	return &TelegramAlerts{client: c, chatID: chatID}
}

func (t *TelegramAlerts) NotifyAdmin(ctx context.Context, ev events.RegistrationSubmitted) error {
	reg := ev.Registration
	text := fmt.Sprintf("🆕 Neue Anmeldung: %s für %s\nTage: %s\nEltern: %s, %s\nAnmeldung: %s (Version %d, %s)",
		models.Str(reg.Child.FullName),
		TypesGerman(reg.Booking.PlaygroupTypes),
		formatDays(reg.Booking.SelectedDays, adminDays, adminTypes),
		models.Str(reg.ParentGuardian.FullName),
		models.Str(reg.ParentGuardian.Email),
		ev.RegistrationID, ev.Version, channelLabel(ev.Channel))
	return t.client.SendMessage(ctx, t.chatID, text)
}

func (t *TelegramAlerts) NotifyRegistrationUpdate(ctx context.Context, ev events.RegistrationUpdated) error {
	var b strings.Builder
	fmt.Fprintf(&b, "✏️ Anmeldung aktualisiert: %s (Version %d)", models.Str(ev.Registration.Child.FullName), ev.Version)
	for _, c := range changeLines(ev.Changes) {
		fmt.Fprintf(&b, "\n%s: %s → %s", c.Field, c.Old, c.New)
	}
	return t.client.SendMessage(ctx, t.chatID, b.String())
}

func (t *TelegramAlerts) NotifyParent(context.Context, events.ParentConfirmation) error {
	return nil
}

func (t *TelegramAlerts) NotifyLoopEscalation(ctx context.Context, ev events.LoopEscalation) error {
	text := fmt.Sprintf("⚠️ Mögliche E-Mail-Schleife: %s\n%s", ev.Sender, ev.Reason)
	return t.client.SendMessage(ctx, t.chatID, text)
}
