package observers

import (
	"context"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/models"
)

// LogObserver writes one line per new message with its sender and
// subject.
type LogObserver struct {
	log logger.Logger
}

func NewLogObserver(log logger.Logger) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) OnMessagesReceived(ctx context.Context, batch []*models.Message) error {
	for _, msg := range batch {
		summary, err := Summarize(msg)
		if err != nil {
			o.log.Warnf("New message %d in %s could not be parsed: %v", msg.UID, msg.Mailbox, err)
			continue
		}
		o.log.Infof("New message %d in %s: %s %s", msg.UID, msg.Mailbox, Sender(summary), summary.Subject)
	}
	return nil
}

var _ interfaces.MessageObserver = (*LogObserver)(nil)
