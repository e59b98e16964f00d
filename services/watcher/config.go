package watcher

import "time"

const (
	DefaultRetryDelay       = time.Second
	DefaultLivenessInterval = time.Second
	requiredCapability      = "IDLE"
	persistTimeout          = 10 * time.Second
	dispatchTimeout         = 30 * time.Second
)

// MailboxConfig identifies the mailbox being watched and the account
// used to reach it.
type MailboxConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Mailbox  string
}

type Options struct {
	RetryDelay       time.Duration
	LivenessInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.LivenessInterval <= 0 {
		o.LivenessInterval = DefaultLivenessInterval
	}
	return o
}
