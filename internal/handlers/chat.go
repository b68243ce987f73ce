package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/agent"
	"github.com/familienverein/meistereder/internal/models"
)

const maxChatFrameBytes = 16 << 10

type ChatAgent interface {
	ProcessMessage(ctx context.Context, in agent.Inbound) string
}

type ConversationLoader interface {
	Load(ctx context.Context, identity string) (*models.Conversation, error)
}

// chatFrame is every server to browser message.
type chatFrame struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chatInput struct {
	Text string `json:"text"`
}

// Chat upgrades to a websocket and runs one conversation over it. Turns
// are handled in order; the next frame is read only after the reply to
// the previous one has been written.
func Chat(a ChatAgent, convs ConversationLoader, log zerolog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: sameOrigin}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("chat upgrade failed")
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxChatFrameBytes)

		ctx := r.Context()
		session, history := resumeSession(ctx, convs, r.URL.Query().Get("session"), log)
		clog := log.With().Str("session", session).Logger()

		if err := conn.WriteJSON(chatFrame{Type: "session", Session: session}); err != nil {
			return
		}
		if len(history) > 0 {
			for _, m := range history {
				if err := conn.WriteJSON(chatFrame{Type: "message", Role: string(m.Role), Content: m.Content}); err != nil {
					return
				}
			}
		} else {
			lang, ok := models.ParseLanguage(r.URL.Query().Get("lang"))
			if !ok {
				lang = models.LangDE
			}
			if err := conn.WriteJSON(chatFrame{Type: "message", Role: string(models.RoleAssistant), Content: agent.WelcomeMessage(lang)}); err != nil {
				return
			}
		}

		for {
			var in chatInput
			if err := conn.ReadJSON(&in); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					clog.Debug().Err(err).Msg("chat closed")
				}
				return
			}
			text := strings.TrimSpace(in.Text)
			if text == "" {
				continue
			}
			reply := a.ProcessMessage(ctx, agent.Inbound{
				Channel: models.ChannelChat,
				Sender:  session,
				Text:    text,
			})
			if reply == "" {
				continue
			}
			if err := conn.WriteJSON(chatFrame{Type: "message", Role: string(models.RoleAssistant), Content: reply}); err != nil {
				clog.Warn().Err(err).Msg("chat write failed")
				return
			}
		}
	}
}

// resumeSession only accepts uuid session ids so that email and Telegram
// conversations can never be opened from the browser.
func resumeSession(ctx context.Context, convs ConversationLoader, raw string, log zerolog.Logger) (string, []models.ChatMessage) {
	if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil && convs != nil {
		session := id.String()
		conv, err := convs.Load(ctx, session)
		if err != nil {
			log.Warn().Err(err).Str("session", session).Msg("chat resume failed")
		} else if conv != nil && conv.Channel == models.ChannelChat {
			return session, conv.Messages
		}
	}
	return uuid.NewString(), nil
}

func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
