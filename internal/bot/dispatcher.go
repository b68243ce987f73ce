package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/agent"
	"github.com/familienverein/meistereder/internal/models"
)

// Processor is the agent entry point used by the channel.
type Processor interface {
	ProcessMessage(ctx context.Context, in agent.Inbound) string
}

// Messenger delivers replies; *Client implements it.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type Dispatcher struct {
	out   Messenger
	agent Processor
	log   zerolog.Logger
}

func NewDispatcher(out Messenger, p Processor, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{out: out, agent: p, log: log.With().Str("component", "telegram").Logger()}
}

// Identity is the conversation key of a Telegram chat.
func Identity(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// Handle runs one update to completion. Non-text updates are ignored.
func (d *Dispatcher) Handle(ctx context.Context, u *Update) {
	if u == nil || u.Message == nil || u.Message.Chat == nil {
		return
	}
	m := u.Message
	chat := m.Chat.ID
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	log := d.log.With().Int64("chat", chat).Int64("update", u.UpdateID).Logger()

	if strings.HasPrefix(text, "/start") {
		lang := models.LangDE
		if m.From != nil && strings.HasPrefix(m.From.LanguageCode, "en") {
			lang = models.LangEN
		}
		if err := d.out.SendMessage(ctx, chat, agent.WelcomeMessage(lang)); err != nil {
			log.Error().Err(err).Msg("welcome failed")
		}
		return
	}

	reply := d.agent.ProcessMessage(ctx, agent.Inbound{
		Channel:   models.ChannelTelegram,
		Sender:    Identity(chat),
		Text:      text,
		MessageID: strconv.FormatInt(m.MessageID, 10),
	})
	if reply == "" {
		return
	}
	if err := d.out.SendMessage(ctx, chat, reply); err != nil {
		log.Error().Err(err).Msg("reply failed")
	}
}
