package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familienverein/meistereder/internal/agent"
	"github.com/familienverein/meistereder/internal/bot"
	"github.com/familienverein/meistereder/internal/models"
)

type fakeAgent struct {
	mu    sync.Mutex
	calls []agent.Inbound
	reply func(agent.Inbound) string
}

func (f *fakeAgent) ProcessMessage(_ context.Context, in agent.Inbound) string {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	if f.reply == nil {
		return "echo: " + in.Text
	}
	return f.reply(in)
}

func (f *fakeAgent) inbound() []agent.Inbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Inbound(nil), f.calls...)
}

type fakeStore struct {
	convs     map[string]*models.Conversation
	snapshots map[string][]models.Snapshot
}

func (f *fakeStore) Load(_ context.Context, id string) (*models.Conversation, error) {
	return f.convs[id], nil
}

func (f *fakeStore) ListRegistrations(context.Context) ([]models.Snapshot, error) {
	var out []models.Snapshot
	for _, h := range f.snapshots {
		out = append(out, h[len(h)-1])
	}
	return out, nil
}

func (f *fakeStore) GetCurrentRegistration(_ context.Context, key string) (*models.Snapshot, error) {
	h := f.snapshots[key]
	if len(h) == 0 {
		return nil, nil
	}
	s := h[len(h)-1]
	return &s, nil
}

func (f *fakeStore) GetRegistrationHistory(_ context.Context, key string) ([]models.Snapshot, error) {
	return f.snapshots[key], nil
}

func snapshot(key string, version int) models.Snapshot {
	reg := models.NewRegistration()
	reg.Child.FullName = models.Ptr("Lena Muster")
	reg.Child.DateOfBirth = models.Ptr("2021-05-14")
	reg.ParentGuardian.FullName = models.Ptr("Anna Muster")
	reg.ParentGuardian.Email = models.Ptr("anna@example.com")
	reg.Booking.PlaygroupTypes = []string{"indoor"}
	reg.Booking.SelectedDays = []models.BookingDay{{Day: "monday", Type: "indoor"}}
	return models.Snapshot{
		Registration: reg,
		Metadata: models.SnapshotMetadata{
			RegistrationID: key,
			Version:        version,
			SubmittedAt:    time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
			Channel:        "email",
			ParentEmail:    "anna@example.com",
			ConversationID: key,
		},
	}
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws" + query
}

func readFrame(t *testing.T, conn *websocket.Conn) chatFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f chatFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestChat_NewSessionWelcomesAndReplies(t *testing.T) {
	a := &fakeAgent{}
	srv := httptest.NewServer(Chat(a, &fakeStore{}, zerolog.Nop()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?lang=en"), nil)
	require.NoError(t, err)
	defer conn.Close()

	sess := readFrame(t, conn)
	assert.Equal(t, "session", sess.Type)
	_, err = uuid.Parse(sess.Session)
	require.NoError(t, err)

	welcome := readFrame(t, conn)
	assert.Equal(t, agent.WelcomeMessage(models.LangEN), welcome.Content)
	assert.Equal(t, "assistant", welcome.Role)

	require.NoError(t, conn.WriteJSON(chatInput{Text: "  hello  "}))
	reply := readFrame(t, conn)
	assert.Equal(t, "echo: hello", reply.Content)

	calls := a.inbound()
	require.Len(t, calls, 1)
	assert.Equal(t, models.ChannelChat, calls[0].Channel)
	assert.Equal(t, sess.Session, calls[0].Sender)
}

func TestChat_EmptyReplyIsNotSent(t *testing.T) {
	a := &fakeAgent{reply: func(in agent.Inbound) string {
		if in.Text == "silent" {
			return ""
		}
		return "ok"
	}}
	srv := httptest.NewServer(Chat(a, &fakeStore{}, zerolog.Nop()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(chatInput{Text: "silent"}))
	require.NoError(t, conn.WriteJSON(chatInput{Text: "loud"}))
	assert.Equal(t, "ok", readFrame(t, conn).Content)
	assert.Len(t, a.inbound(), 2)
}

func TestChat_ResumeReplaysHistory(t *testing.T) {
	id := uuid.NewString()
	conv := models.NewConversation(id, models.ChannelChat, time.Now())
	conv.Append(models.RoleUser, "Hallo", time.Now())
	conv.Append(models.RoleAssistant, "Willkommen", time.Now())
	st := &fakeStore{convs: map[string]*models.Conversation{id: conv}}

	srv := httptest.NewServer(Chat(&fakeAgent{}, st, zerolog.Nop()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?session="+id), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, id, readFrame(t, conn).Session)
	first := readFrame(t, conn)
	assert.Equal(t, "user", first.Role)
	assert.Equal(t, "Hallo", first.Content)
	assert.Equal(t, "Willkommen", readFrame(t, conn).Content)
}

func TestResumeSession_RejectsForeignIdentities(t *testing.T) {
	email := models.NewConversation("anna@example.com", models.ChannelEmail, time.Now())
	id := uuid.NewString()
	tg := models.NewConversation(id, models.ChannelTelegram, time.Now())
	st := &fakeStore{convs: map[string]*models.Conversation{"anna@example.com": email, id: tg}}

	for _, raw := range []string{"anna@example.com", id, "", "not-a-uuid"} {
		session, history := resumeSession(context.Background(), st, raw, zerolog.Nop())
		assert.NotEqual(t, raw, session)
		assert.Empty(t, history)
	}
}

func TestChat_RejectsCrossOrigin(t *testing.T) {
	srv := httptest.NewServer(Chat(&fakeAgent{}, &fakeStore{}, zerolog.Nop()))
	defer srv.Close()

	h := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), h)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

type recordingHandler struct{ got []*bot.Update }

func (r *recordingHandler) Handle(_ context.Context, u *bot.Update) { r.got = append(r.got, u) }

func TestTelegramWebhook(t *testing.T) {
	body := `{"update_id":7,"message":{"message_id":1,"chat":{"id":42,"type":"private"},"text":"Hallo"}}`
	tests := []struct {
		name   string
		url    string
		header string
		body   string
		want   int
		calls  int
	}{
		{"header secret", "/tg/webhook", "s3cret", body, http.StatusOK, 1},
		{"query secret", "/tg/webhook?secret=s3cret", "", body, http.StatusOK, 1},
		{"wrong secret", "/tg/webhook?secret=nope", "", body, http.StatusForbidden, 0},
		{"missing secret", "/tg/webhook", "", body, http.StatusForbidden, 0},
		{"bad json", "/tg/webhook", "s3cret", "{", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			req := httptest.NewRequest(http.MethodPost, tt.url, strings.NewReader(tt.body))
			if tt.header != "" {
				req.Header.Set("X-Telegram-Bot-Api-Secret-Token", tt.header)
			}
			rec := httptest.NewRecorder()
			TelegramWebhook(h, "s3cret").ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			require.Len(t, h.got, tt.calls)
			if tt.calls == 1 {
				assert.Equal(t, int64(42), h.got[0].Message.Chat.ID)
			}
		})
	}
}

func TestTelegramWebhook_EmptySecretRefusesAll(t *testing.T) {
	h := &recordingHandler{}
	req := httptest.NewRequest(http.MethodPost, "/tg/webhook?secret=", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	TelegramWebhook(h, "").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, h.got)
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	tests := []struct {
		name     string
		password string
		user     string
		pass     string
		auth     bool
		want     int
	}{
		{"valid", "pw", "admin", "pw", true, http.StatusNoContent},
		{"wrong password", "pw", "admin", "nope", true, http.StatusUnauthorized},
		{"wrong user", "pw", "root", "pw", true, http.StatusUnauthorized},
		{"no credentials", "pw", "", "", false, http.StatusUnauthorized},
		{"unset password", "", "admin", "", true, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/registrations", nil)
			if tt.auth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			RequireAdmin("admin", tt.password)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
			}
		})
	}
}

func adminRouter(st *fakeStore) http.Handler {
	a := NewAdmin(st, zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/admin/registrations", a.List)
	r.Get("/admin/registrations.csv", a.CSV)
	r.Get("/admin/registrations/{key}", a.Show)
	r.Get("/admin/registrations/{key}/history", a.History)
	r.Get("/admin/registrations/{key}/qr.png", a.QR)
	r.Get("/admin/conversations/{id}", a.Conversation)
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAdmin_RegistrationEndpoints(t *testing.T) {
	key := "anna@example.com"
	st := &fakeStore{
		snapshots: map[string][]models.Snapshot{key: {snapshot(key, 1), snapshot(key, 2)}},
		convs:     map[string]*models.Conversation{key: models.NewConversation(key, models.ChannelEmail, time.Now())},
	}
	h := adminRouter(st)

	rec := get(h, "/admin/registrations")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Metadata.Version)

	rec = get(h, "/admin/registrations/anna%40example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	var current models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, "Lena Muster", models.Str(current.Child.FullName))

	rec = get(h, "/admin/registrations/anna%40example.com/history")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 2)

	rec = get(h, "/admin/registrations/anna%40example.com/qr.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	rec = get(h, "/admin/conversations/anna%40example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"conversation_id":"anna@example.com"`)
}

func TestAdmin_NotFound(t *testing.T) {
	h := adminRouter(&fakeStore{})
	for _, p := range []string{
		"/admin/registrations/nobody%40example.com",
		"/admin/registrations/nobody%40example.com/history",
		"/admin/registrations/nobody%40example.com/qr.png",
		"/admin/conversations/nobody%40example.com",
	} {
		assert.Equal(t, http.StatusNotFound, get(h, p).Code, p)
	}
}

func TestAdmin_CSV(t *testing.T) {
	key := "anna@example.com"
	st := &fakeStore{snapshots: map[string][]models.Snapshot{key: {snapshot(key, 1)}}}
	rec := get(adminRouter(st), "/admin/registrations.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Registration", rows[0][0])
	assert.Equal(t, key, rows[1][0])
	assert.Equal(t, "Lena Muster", rows[1][4])
	assert.Equal(t, "monday:indoor", rows[1][16])
}

func TestHomeAndHealth(t *testing.T) {
	pages, err := ParsePages()
	require.NoError(t, err)

	rec := get(Home(pages), "/?lang=en")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lang="en"`)
	assert.Contains(t, rec.Body.String(), "/chat/ws")

	rec = get(http.HandlerFunc(Health), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
