package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/familienverein/meistereder/internal/bot"
)

const maxUpdateBytes = 1 << 20

type UpdateHandler interface {
	Handle(ctx context.Context, u *bot.Update)
}

// TelegramWebhook accepts updates at /tg/webhook. The secret is taken from
// the header Telegram sends when setWebhook registered one, or from
// ?secret= for older setups.
func TelegramWebhook(h UpdateHandler, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if got == "" {
			got = r.URL.Query().Get("secret")
		}
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		defer r.Body.Close()
		b, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var up bot.Update
		if err := json.Unmarshal(b, &up); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		h.Handle(r.Context(), &up)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
