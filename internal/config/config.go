// Package config reads the service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/llm"
)

type Config struct {
	Addr string `envconfig:"ADDR" default:":8080"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN    string `envconfig:"DB_DSN" default:"meistereder.db"`

	AIProvider     string `envconfig:"AI_PROVIDER" default:"anthropic"`
	AIModel        string `envconfig:"AI_MODEL"` // empty picks the provider's default
	AIAPIKey       string `envconfig:"AI_API_KEY"`
	AIBaseURL      string `envconfig:"AI_BASE_URL"`
	AIMaxTokens    int    `envconfig:"AI_MAX_TOKENS" default:"2048"`
	AIHistoryLimit int    `envconfig:"AI_HISTORY_LIMIT" default:"60"`

	KnowledgeBaseDir string `envconfig:"KNOWLEDGE_BASE_DIR" default:"knowledge_base"`
	MaxUserMessages  int    `envconfig:"MAX_USER_MESSAGES" default:"20"`

	IMAPHost     string `envconfig:"IMAP_HOST"`
	IMAPPort     int    `envconfig:"IMAP_PORT" default:"993"`
	IMAPUsername string `envconfig:"IMAP_USERNAME"`
	IMAPPassword string `envconfig:"IMAP_PASSWORD"`
	IMAPMailbox  string `envconfig:"IMAP_MAILBOX" default:"INBOX"`
	IMAPTLS      bool   `envconfig:"IMAP_TLS" default:"true"`

	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPUseTLS   bool   `envconfig:"SMTP_USE_TLS" default:"true"` // STARTTLS; false means implicit TLS

	RegistrationEmail string   `envconfig:"REGISTRATION_EMAIL"`
	AdminEmailIndoor  string   `envconfig:"ADMIN_EMAIL_INDOOR"`
	AdminEmailOutdoor string   `envconfig:"ADMIN_EMAIL_OUTDOOR"`
	AdminEmailCC      []string `envconfig:"ADMIN_EMAIL_CC"`

	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"60s"`
	RemindersEnabled bool          `envconfig:"REMINDERS_ENABLED" default:"false"`
	ReminderAfter    time.Duration `envconfig:"REMINDER_AFTER" default:"72h"`
	ReminderMax      int           `envconfig:"REMINDER_MAX" default:"1"`

	RedisURL string `envconfig:"REDIS_URL"`

	TGBotToken      string `envconfig:"TG_BOT_TOKEN"`
	TGWebhookSecret string `envconfig:"TG_WEBHOOK_SECRET"`
	TGAdminChatID   int64  `envconfig:"TG_ADMIN_CHAT_ID"`

	AdminUser     string `envconfig:"ADMIN_USER" default:"admin"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AIModel == "" {
		cfg.AIModel = llm.DefaultModel(cfg.AIProvider)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !llm.Known(c.AIProvider) {
		return fmt.Errorf("config: unknown AI_PROVIDER %q", c.AIProvider)
	}
	if c.MaxUserMessages <= 0 {
		return fmt.Errorf("config: MAX_USER_MESSAGES must be positive, got %d", c.MaxUserMessages)
	}
	if c.AIMaxTokens <= 0 {
		return fmt.Errorf("config: AI_MAX_TOKENS must be positive, got %d", c.AIMaxTokens)
	}
	if c.AIHistoryLimit < 0 {
		return fmt.Errorf("config: AI_HISTORY_LIMIT must not be negative, got %d", c.AIHistoryLimit)
	}
	switch strings.ToLower(c.DBDriver) {
	case "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.IMAPEnabled() && c.RegistrationEmail == "" {
		return fmt.Errorf("config: REGISTRATION_EMAIL is required when IMAP_HOST is set")
	}
	return nil
}

// IMAPEnabled reports whether the email channel should poll.
func (c *Config) IMAPEnabled() bool { return c.IMAPHost != "" }

// SMTPEnabled is false in development; mail is then only logged.
func (c *Config) SMTPEnabled() bool { return c.SMTPHost != "" }

// SenderAddress is the From of every outgoing mail.
func (c *Config) SenderAddress() string {
	if c.RegistrationEmail != "" {
		return c.RegistrationEmail
	}
	return c.SMTPUsername
}

// LogSummary writes the effective settings without secrets.
func (c *Config) LogSummary(log zerolog.Logger) {
	log.Info().
		Str("addr", c.Addr).
		Str("db_driver", c.DBDriver).
		Str("ai_provider", c.AIProvider).
		Str("ai_model", c.AIModel).
		Bool("ai_key_present", c.AIAPIKey != "").
		Int("history_limit", c.AIHistoryLimit).
		Int("max_user_messages", c.MaxUserMessages).
		Bool("imap", c.IMAPEnabled()).
		Bool("smtp", c.SMTPEnabled()).
		Bool("reminders", c.RemindersEnabled).
		Bool("redis", c.RedisURL != "").
		Bool("telegram", c.TGBotToken != "").
		Bool("admin_api", c.AdminPassword != "").
		Msg("configuration loaded")
}
