package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/handlers"
	"github.com/familienverein/meistereder/internal/metrics"
)

type Deps struct {
	Agent handlers.ChatAgent
	Store handlers.Registrations

	// Telegram is optional; without it /tg/webhook is not mounted.
	Telegram       handlers.UpdateHandler
	TelegramSecret string

	AdminUser     string
	AdminPassword string

	Log zerolog.Logger
}

func Router(d Deps) (http.Handler, error) {
	pages, err := handlers.ParsePages()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)

	// Public
	r.Get("/", handlers.Home(pages))
	r.Get("/healthz", handlers.Health)
	r.Get("/chat/ws", handlers.Chat(d.Agent, d.Store, d.Log))
	r.Handle("/metrics", promhttp.Handler())
	if d.Telegram != nil {
		r.Post("/tg/webhook", handlers.TelegramWebhook(d.Telegram, d.TelegramSecret))
	}

	// Admin (basic auth)
	admin := handlers.NewAdmin(d.Store, d.Log)
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(handlers.RequireAdmin(d.AdminUser, d.AdminPassword))

		ar.Get("/registrations", admin.List)
		ar.Get("/registrations.csv", admin.CSV)
		ar.Get("/registrations/{key}", admin.Show)
		ar.Get("/registrations/{key}/history", admin.History)
		ar.Get("/registrations/{key}/qr.png", admin.QR)
		ar.Get("/conversations/{id}", admin.Conversation)
	})

	return r, nil
}

// requestLogger logs one line per request and records request metrics
// under the matched route pattern.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				elapsed := time.Since(start)
				route := "unmatched"
				if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

				ev := log.Info()
				if status >= http.StatusInternalServerError {
					ev = log.Error()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("route", route).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("elapsed", elapsed).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
