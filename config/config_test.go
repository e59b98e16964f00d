package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailerrors "github.com/customeros/mailobserver/internal/errors"
)

func setRequired(t *testing.T) {
	t.Setenv("IMAP_SERVER", "imap.example.com")
	t.Setenv("IMAP_USER", "user@example.com")
	t.Setenv("IMAP_PASSWORD", "secret")
}

func TestInitConfig_Defaults(t *testing.T) {
	// Arrange
	setRequired(t)

	// Act
	cfg, err := InitConfig()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 993, cfg.ImapConfig.Port)
	assert.Equal(t, "INBOX", cfg.ImapConfig.Mailbox)
	assert.Equal(t, "tls", cfg.ImapConfig.Security)
	assert.Equal(t, time.Second, cfg.WatcherConfig.RetryDelay)
	assert.Equal(t, time.Second, cfg.WatcherConfig.LivenessInterval)
	assert.Equal(t, 25*time.Minute, cfg.WatcherConfig.IdleLogoutTimeout)
	assert.Equal(t, "file", cfg.WatcherConfig.StateBackend)
	assert.Equal(t, "0 */15 * * * *", cfg.Cron.CronScheduleResync)
	assert.Equal(t, "12222", cfg.AppConfig.APIPort)
}

func TestInitConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("IMAP_PORT", "143")
	t.Setenv("IMAP_SECURITY", "starttls")
	t.Setenv("WATCHER_RETRY_DELAY", "5s")
	t.Setenv("WATCHER_STATE_BACKEND", "memory")
	t.Setenv("CRON_SCHEDULE_RESYNC", "")

	cfg, err := InitConfig()

	require.NoError(t, err)
	assert.Equal(t, 143, cfg.ImapConfig.Port)
	assert.Equal(t, "starttls", cfg.ImapConfig.Security)
	assert.Equal(t, 5*time.Second, cfg.WatcherConfig.RetryDelay)
	assert.Equal(t, "memory", cfg.WatcherConfig.StateBackend)
}

func TestInitConfig_LegacyNames(t *testing.T) {
	// Arrange
	t.Setenv("IMAP_SERVER", "")
	t.Setenv("IMAP_USER", "")
	t.Setenv("IMAP_PASSWORD", "")
	t.Setenv("EMAIL_OBSERVER_IMAP_SERVER", "legacy.example.com")
	t.Setenv("EMAIL_OBSERVER_USER", "legacy")
	t.Setenv("EMAIL_OBSERVER_PASSWORD", "legacy-secret")

	// Act
	cfg, err := InitConfig()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "legacy.example.com", cfg.ImapConfig.Server)
	assert.Equal(t, "legacy", cfg.ImapConfig.User)
	assert.Equal(t, "legacy-secret", cfg.ImapConfig.Password)
}

func TestInitConfig_MissingCredentials(t *testing.T) {
	t.Setenv("IMAP_SERVER", "imap.example.com")
	t.Setenv("IMAP_USER", "")
	t.Setenv("IMAP_PASSWORD", "")
	t.Setenv("EMAIL_OBSERVER_USER", "")
	t.Setenv("EMAIL_OBSERVER_PASSWORD", "")

	_, err := InitConfig()

	require.Error(t, err)
	assert.ErrorIs(t, err, mailerrors.ErrConfigMissing)
	assert.Contains(t, err.Error(), "IMAP_USER")
	assert.Contains(t, err.Error(), "IMAP_PASSWORD")
}

func TestValidate_Invalid(t *testing.T) {
	cases := map[string]func(c *Config){
		"port":     func(c *Config) { c.ImapConfig.Port = 0 },
		"security": func(c *Config) { c.ImapConfig.Security = "ssl" },
		"backend":  func(c *Config) { c.WatcherConfig.StateBackend = "redis" },
		"file":     func(c *Config) { c.WatcherConfig.StateFile = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := newConfig()
			cfg.ImapConfig = &ImapConfig{Server: "s", User: "u", Password: "p", Port: 993, Security: "tls"}
			cfg.WatcherConfig = &WatcherConfig{StateBackend: "file", StateFile: "state.json"}
			require.NoError(t, cfg.Validate())

			mutate(cfg)

			assert.Error(t, cfg.Validate())
		})
	}
}
