package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familienverein/meistereder/internal/agent"
	"github.com/familienverein/meistereder/internal/bot"
	"github.com/familienverein/meistereder/internal/models"
)

type stubAgent struct{}

func (stubAgent) ProcessMessage(context.Context, agent.Inbound) string { return "ok" }

type stubStore struct{}

func (stubStore) ListRegistrations(context.Context) ([]models.Snapshot, error) {
	return []models.Snapshot{}, nil
}
func (stubStore) GetCurrentRegistration(context.Context, string) (*models.Snapshot, error) {
	return nil, nil
}
func (stubStore) GetRegistrationHistory(context.Context, string) ([]models.Snapshot, error) {
	return nil, nil
}
func (stubStore) Load(context.Context, string) (*models.Conversation, error) { return nil, nil }

type stubTelegram struct{ n int }

func (s *stubTelegram) Handle(context.Context, *bot.Update) { s.n++ }

func newRouter(t *testing.T, tg *stubTelegram, log zerolog.Logger) http.Handler {
	t.Helper()
	d := Deps{
		Agent:          stubAgent{},
		Store:          stubStore{},
		TelegramSecret: "s3cret",
		AdminUser:      "admin",
		AdminPassword:  "pw",
		Log:            log,
	}
	if tg != nil {
		d.Telegram = tg
	}
	r, err := Router(d)
	require.NoError(t, err)
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthz(t *testing.T) {
	r := newRouter(t, nil, zerolog.Nop())
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterHomeAndMetrics(t *testing.T) {
	r := newRouter(t, nil, zerolog.Nop())
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Spielgruppe Pumuckl")

	serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `meistereder_http_requests_total{code="200",route="/healthz"}`)
}

func TestRouterAdminRequiresAuth(t *testing.T) {
	r := newRouter(t, nil, zerolog.Nop())

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/admin/registrations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/registrations", nil)
	req.SetBasicAuth("admin", "pw")
	rec = serve(r, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestRouterTelegramWebhookOptional(t *testing.T) {
	body := `{"update_id":1,"message":{"message_id":1,"chat":{"id":5},"text":"hi"}}`

	r := newRouter(t, nil, zerolog.Nop())
	rec := serve(r, httptest.NewRequest(http.MethodPost, "/tg/webhook?secret=s3cret", strings.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	tg := &stubTelegram{}
	r = newRouter(t, tg, zerolog.Nop())
	rec = serve(r, httptest.NewRequest(http.MethodPost, "/tg/webhook?secret=s3cret", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, tg.n)
}

func TestRouterLogsRequests(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(t, nil, zerolog.New(&buf))
	serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	out := buf.String()
	assert.Contains(t, out, `"route":"/healthz"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"message":"http request"`)
}
