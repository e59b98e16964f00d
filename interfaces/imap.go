package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailobserver/internal/models"
)

// SessionClient opens connections to an IMAP server.
type SessionClient interface {
	Connect(ctx context.Context, host string, port int) (Session, error)
}

// Session is a single authenticated connection to the server.
type Session interface {
	Authenticate(ctx context.Context, user, secret string) error
	SelectMailbox(ctx context.Context, name string) error
	Capabilities(ctx context.Context) (map[string]bool, error)
	QueryWatermark(ctx context.Context, mailbox string) (models.Watermark, error)

	// AwaitChange starts a long-poll and returns without blocking.
	// onChange is called when the server reports a mailbox change. The
	// returned channel yields the terminal result of the long-poll, nil
	// after a change or a cancellation and ErrSessionAborted when the
	// connection is lost, and is closed afterwards. Cancelling ctx ends
	// the long-poll.
	AwaitChange(ctx context.Context, onChange func()) (<-chan error, error)

	// FetchRange fetches the messages with from <= UID < to.
	FetchRange(ctx context.Context, mailbox string, from, to uint32) ([]*models.Message, error)
	Close() error
}

type WatcherService interface {
	Start(ctx context.Context) error
	Stop()
	Status() WatcherStatus
}

type WatcherStatus struct {
	Mailbox     string            `json:"mailbox"`
	Connected   bool              `json:"connected"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"lastError,omitempty"`
	LastSync    time.Time         `json:"lastSync"`
	LastChecked time.Time         `json:"lastChecked"`
	Watermark   *models.Watermark `json:"watermark,omitempty"`
}
