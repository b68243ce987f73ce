package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familienverein/meistereder/internal/agent"
	"github.com/familienverein/meistereder/internal/models"
)

func TestClient_SendMessage(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChatID int64  `json:"chat_id"`
			Text   string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(42), body.ChatID)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		texts = append(texts, body.Text)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	c := NewClient("123:abc", WithAPIBase(srv.URL))
	require.NoError(t, c.SendMessage(context.Background(), 42, "Hallo"))

	long := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)
	require.NoError(t, c.SendMessage(context.Background(), 42, long))

	assert.Equal(t, "/bot123:abc/sendMessage", paths[0])
	require.Len(t, texts, 3)
	assert.Equal(t, "Hallo", texts[0])
	assert.Equal(t, strings.Repeat("a", 3000)+"\n", texts[1])
	assert.Equal(t, strings.Repeat("b", 3000), texts[2])
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	err := NewClient("t", WithAPIBase(srv.URL)).SendMessage(context.Background(), 1, "x")
	assert.ErrorContains(t, err, "bot was blocked")
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))
	assert.Equal(t, []string{"abcdefghij", "klm"}, splitText("abcdefghijklm", 10))
	assert.Equal(t, []string{"abcdefg\n", "hijklm"}, splitText("abcdefg\nhijklm", 10))
}

type recordedSend struct {
	chat int64
	text string
}

type fakeMessenger struct {
	sent []recordedSend
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) error {
	m.sent = append(m.sent, recordedSend{chatID, text})
	return nil
}

type fakeAgent struct {
	reply string
	in    []agent.Inbound
}

func (a *fakeAgent) ProcessMessage(_ context.Context, in agent.Inbound) string {
	a.in = append(a.in, in)
	return a.reply
}

func TestDispatcher_RoutesTextToAgent(t *testing.T) {
	out := &fakeMessenger{}
	ag := &fakeAgent{reply: "Wie heisst dein Kind?"}
	d := NewDispatcher(out, ag, zerolog.Nop())

	d.Handle(context.Background(), &Update{UpdateID: 1, Message: &Message{
		MessageID: 7,
		Chat:      &Chat{ID: 99},
		Text:      "  Ich möchte mein Kind anmelden ",
	}})

	require.Len(t, ag.in, 1)
	assert.Equal(t, agent.Inbound{
		Channel:   models.ChannelTelegram,
		Sender:    "tg:99",
		Text:      "Ich möchte mein Kind anmelden",
		MessageID: "7",
	}, ag.in[0])
	assert.Equal(t, []recordedSend{{99, "Wie heisst dein Kind?"}}, out.sent)
}

func TestDispatcher_StartGreetsWithoutAgent(t *testing.T) {
	out := &fakeMessenger{}
	ag := &fakeAgent{}
	d := NewDispatcher(out, ag, zerolog.Nop())

	d.Handle(context.Background(), &Update{Message: &Message{Chat: &Chat{ID: 5}, Text: "/start"}})
	d.Handle(context.Background(), &Update{Message: &Message{Chat: &Chat{ID: 6}, From: &User{LanguageCode: "en-GB"}, Text: "/start"}})

	assert.Empty(t, ag.in)
	require.Len(t, out.sent, 2)
	assert.Equal(t, agent.WelcomeMessage(models.LangDE), out.sent[0].text)
	assert.Equal(t, agent.WelcomeMessage(models.LangEN), out.sent[1].text)
}

func TestDispatcher_IgnoresEmptyAndSilentReplies(t *testing.T) {
	out := &fakeMessenger{}
	ag := &fakeAgent{reply: ""}
	d := NewDispatcher(out, ag, zerolog.Nop())

	d.Handle(context.Background(), &Update{})
	d.Handle(context.Background(), &Update{Message: &Message{Chat: &Chat{ID: 1}, Text: "   "}})
	d.Handle(context.Background(), &Update{Message: &Message{Chat: &Chat{ID: 1}, Text: "noch da?"}})

	assert.Len(t, ag.in, 1)
	assert.Empty(t, out.sent)
}
