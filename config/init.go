package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	cron_config "github.com/customeros/mailobserver/internal/cron/config"
	"github.com/customeros/mailobserver/internal/database"
	"github.com/customeros/mailobserver/internal/enum"
	mailerrors "github.com/customeros/mailobserver/internal/errors"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/tracing"
)

type Config struct {
	AppConfig     *AppConfig
	Logger        *logger.Config
	Tracing       *tracing.JaegerConfig
	ImapConfig    *ImapConfig
	WatcherConfig *WatcherConfig
	Database      *database.DatabaseConfig
	Cron          *cron_config.Config
}

func newConfig() *Config {
	return &Config{
		AppConfig:     &AppConfig{},
		Logger:        &logger.Config{},
		Tracing:       &tracing.JaegerConfig{},
		ImapConfig:    &ImapConfig{},
		WatcherConfig: &WatcherConfig{},
		Database:      &database.DatabaseConfig{},
		Cron:          &cron_config.Config{},
	}
}

func InitConfig() (*Config, error) {
	config := newConfig()

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, errors.Wrap(err, "error loading mailobserver config")
	}

	config.applyLegacyNames(os.Getenv)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyLegacyNames(getenv func(string) string) {
	if c.ImapConfig.Server == "" {
		c.ImapConfig.Server = getenv(legacyServerEnv)
	}
	if c.ImapConfig.User == "" {
		c.ImapConfig.User = getenv(legacyUserEnv)
	}
	if c.ImapConfig.Password == "" {
		c.ImapConfig.Password = getenv(legacyPasswordEnv)
	}
}

// Validate checks the settings the watcher cannot run without. The
// database settings are checked when the postgres backend is opened.
func (c *Config) Validate() error {
	var missing []string
	if c.ImapConfig.Server == "" {
		missing = append(missing, "IMAP_SERVER")
	}
	if c.ImapConfig.User == "" {
		missing = append(missing, "IMAP_USER")
	}
	if c.ImapConfig.Password == "" {
		missing = append(missing, "IMAP_PASSWORD")
	}
	if len(missing) > 0 {
		return errors.Wrapf(mailerrors.ErrConfigMissing, "%s must be set (legacy %s, %s and %s are also accepted)",
			strings.Join(missing, ", "), legacyServerEnv, legacyUserEnv, legacyPasswordEnv)
	}

	if c.ImapConfig.Port <= 0 || c.ImapConfig.Port > 65535 {
		return fmt.Errorf("invalid IMAP_PORT: %d", c.ImapConfig.Port)
	}

	switch enum.EmailSecurity(c.ImapConfig.Security) {
	case enum.EmailSecurityTLS, enum.EmailSecurityStartTLS, enum.EmailSecurityNone:
	default:
		return fmt.Errorf("invalid IMAP_SECURITY: %q", c.ImapConfig.Security)
	}

	switch enum.StateBackend(c.WatcherConfig.StateBackend) {
	case enum.StateBackendFile:
		if c.WatcherConfig.StateFile == "" {
			return errors.Wrap(mailerrors.ErrConfigMissing, "WATCHER_STATE_FILE must be set for the file backend")
		}
	case enum.StateBackendPostgres, enum.StateBackendMemory:
	default:
		return fmt.Errorf("invalid WATCHER_STATE_BACKEND: %q", c.WatcherConfig.StateBackend)
	}

	return nil
}
