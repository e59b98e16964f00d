package config

import (
	"time"
)

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"12222"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	NATSURL     string `env:"NATS_URL"`
}

type ImapConfig struct {
	Server             string        `env:"IMAP_SERVER"`
	Port               int           `env:"IMAP_PORT" envDefault:"993"`
	User               string        `env:"IMAP_USER"`
	Password           string        `env:"IMAP_PASSWORD"`
	Mailbox            string        `env:"IMAP_MAILBOX" envDefault:"INBOX"`
	Security           string        `env:"IMAP_SECURITY" envDefault:"tls"`
	InsecureSkipVerify bool          `env:"IMAP_INSECURE_SKIP_VERIFY" envDefault:"false"`
	DialTimeout        time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	CommandTimeout     time.Duration `env:"IMAP_COMMAND_TIMEOUT" envDefault:"60s"`
}

type WatcherConfig struct {
	RetryDelay        time.Duration `env:"WATCHER_RETRY_DELAY" envDefault:"1s"`
	LivenessInterval  time.Duration `env:"WATCHER_LIVENESS_INTERVAL" envDefault:"1s"`
	IdleLogoutTimeout time.Duration `env:"WATCHER_IDLE_LOGOUT_TIMEOUT" envDefault:"25m"`
	// zero keeps the imap client default
	IdlePollInterval time.Duration `env:"WATCHER_IDLE_POLL_INTERVAL" envDefault:"0s"`
	StateBackend     string        `env:"WATCHER_STATE_BACKEND" envDefault:"file"`
	StateFile        string        `env:"WATCHER_STATE_FILE" envDefault:"data/mailobserver-state.json"`
}

// Names read by earlier releases of the observer.
const (
	legacyServerEnv   = "EMAIL_OBSERVER_IMAP_SERVER"
	legacyUserEnv     = "EMAIL_OBSERVER_USER"
	legacyPasswordEnv = "EMAIL_OBSERVER_PASSWORD"
)
