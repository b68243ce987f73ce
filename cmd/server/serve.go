package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/familienverein/meistereder/internal/agent"
	"github.com/familienverein/meistereder/internal/bot"
	"github.com/familienverein/meistereder/internal/config"
	"github.com/familienverein/meistereder/internal/db"
	"github.com/familienverein/meistereder/internal/kb"
	"github.com/familienverein/meistereder/internal/llm"
	"github.com/familienverein/meistereder/internal/lock"
	"github.com/familienverein/meistereder/internal/mail"
	"github.com/familienverein/meistereder/internal/notify"
	"github.com/familienverein/meistereder/internal/store"
	"github.com/familienverein/meistereder/internal/web"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web chat, Telegram webhook, email poller and reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	cfg.LogSummary(log)

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return err
	}
	st, err := store.New(gdb, log)
	if err != nil {
		return err
	}

	locker, closeLocker, err := newLocker(cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	provider, err := llm.New(ctx, llm.Settings{
		Provider: cfg.AIProvider,
		APIKey:   cfg.AIAPIKey,
		BaseURL:  cfg.AIBaseURL,
	})
	if err != nil {
		return err
	}
	knowledge, err := kb.Load(os.DirFS(cfg.KnowledgeBaseDir), log)
	if err != nil {
		return err
	}

	sender := newSender(cfg, log)
	var tg *bot.Client
	if cfg.TGBotToken != "" {
		tg = bot.NewClient(cfg.TGBotToken)
	}
	notifier := newNotifier(cfg, sender, tg, log)

	a := agent.New(provider, st, notifier, knowledge, agent.Config{
		Model:           cfg.AIModel,
		MaxTokens:       cfg.AIMaxTokens,
		HistoryLimit:    cfg.AIHistoryLimit,
		MaxUserMessages: cfg.MaxUserMessages,
	}, log, agent.WithLocker(locker))

	deps := web.Deps{
		Agent:          a,
		Store:          st,
		TelegramSecret: cfg.TGWebhookSecret,
		AdminUser:      cfg.AdminUser,
		AdminPassword:  cfg.AdminPassword,
		Log:            log,
	}
	if tg != nil {
		deps.Telegram = bot.NewDispatcher(tg, a, log)
	}
	router, err := web.Router(deps)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if cfg.IMAPEnabled() {
		mb := mail.NewIMAPMailbox(mail.IMAPSettings{
			Host:     cfg.IMAPHost,
			Port:     cfg.IMAPPort,
			Username: cfg.IMAPUsername,
			Password: cfg.IMAPPassword,
			Mailbox:  cfg.IMAPMailbox,
			TLS:      cfg.IMAPTLS,
		}, log)
		poller := mail.NewPoller(mb, a, sender, cfg.SenderAddress(), cfg.PollInterval, log)
		g.Go(func() error { return poller.Run(gctx) })
	} else {
		log.Info().Msg("IMAP_HOST not set, email channel disabled")
	}

	if cfg.RemindersEnabled {
		rem := mail.NewReminders(st, sender, locker, cfg.SenderAddress(), mail.ReminderSettings{
			After: cfg.ReminderAfter,
			Max:   cfg.ReminderMax,
		}, log)
		g.Go(func() error { return rem.Run(gctx) })
	}

	err = g.Wait()
	log.Info().Msg("shut down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newLocker shares turn locks through Redis when several instances run.
func newLocker(cfg *config.Config, log zerolog.Logger) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewLocal(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return lock.NewRedis(client, 0, 0, lock.WithLogger(log)), func() { _ = client.Close() }, nil
}

// newSender only logs outgoing mail when no relay is configured.
func newSender(cfg *config.Config, log zerolog.Logger) mail.Sender {
	if !cfg.SMTPEnabled() {
		log.Warn().Msg("SMTP_HOST not set, outgoing mail is only logged")
		return mail.NewLogSender(log)
	}
	return mail.NewSMTPSender(mail.SMTPSettings{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		StartTLS: cfg.SMTPUseTLS,
	}, log)
}

func newNotifier(cfg *config.Config, sender mail.Sender, tg *bot.Client, log zerolog.Logger) agent.Notifier {
	email := notify.NewEmailNotifier(sender, notify.Routing{
		From:    cfg.SenderAddress(),
		Indoor:  cfg.AdminEmailIndoor,
		Outdoor: cfg.AdminEmailOutdoor,
		CC:      cfg.AdminEmailCC,
	}, log)
	if tg == nil || cfg.TGAdminChatID == 0 {
		return email
	}
	return notify.Fanout{email, notify.NewTelegramAlerts(tg, cfg.TGAdminChatID)}
}
