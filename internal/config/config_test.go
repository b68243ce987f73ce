package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "anthropic", cfg.AIProvider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.AIModel)
	assert.Equal(t, 2048, cfg.AIMaxTokens)
	assert.Equal(t, 60, cfg.AIHistoryLimit)
	assert.Equal(t, 20, cfg.MaxUserMessages)
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.Equal(t, "INBOX", cfg.IMAPMailbox)
	assert.True(t, cfg.IMAPTLS)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.True(t, cfg.SMTPUseTLS)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 72*time.Hour, cfg.ReminderAfter)
	assert.Equal(t, 1, cfg.ReminderMax)
	assert.False(t, cfg.IMAPEnabled())
	assert.False(t, cfg.SMTPEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AI_PROVIDER", "gemini")
	t.Setenv("MAX_USER_MESSAGES", "5")
	t.Setenv("ADMIN_EMAIL_CC", "a@example.com,b@example.com")
	t.Setenv("POLL_INTERVAL", "15s")
	t.Setenv("TG_ADMIN_CHAT_ID", "-100123")
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("REGISTRATION_EMAIL", "anmeldung@spielgruppe.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.AIProvider)
	assert.Equal(t, "gemini-2.5-flash", cfg.AIModel)
	assert.Equal(t, 5, cfg.MaxUserMessages)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AdminEmailCC)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, int64(-100123), cfg.TGAdminChatID)
	assert.True(t, cfg.IMAPEnabled())
	assert.Equal(t, "anmeldung@spielgruppe.example", cfg.SenderAddress())
}

func TestLoad_ModelFollowsProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "openai")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.AIModel)

	t.Setenv("AI_MODEL", "gpt-4.1-mini")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", cfg.AIModel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, msg string
	}{
		{"provider", "AI_PROVIDER", "llama", "AI_PROVIDER"},
		{"cap", "MAX_USER_MESSAGES", "0", "MAX_USER_MESSAGES"},
		{"driver", "DB_DRIVER", "mysql", "DB_DRIVER"},
		{"imap without address", "IMAP_HOST", "imap.example.com", "REGISTRATION_EMAIL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestSenderAddress_FallsBackToSMTPUser(t *testing.T) {
	cfg := &Config{SMTPUsername: "agent@example.com"}
	assert.Equal(t, "agent@example.com", cfg.SenderAddress())
}
