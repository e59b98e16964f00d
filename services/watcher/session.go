package watcher

import (
	"context"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/logger"
)

// openMailbox connects, authenticates and selects the configured
// mailbox. A session that fails halfway is closed before returning.
func openMailbox(ctx context.Context, client interfaces.SessionClient, cfg MailboxConfig, log logger.Logger) (interfaces.Session, error) {
	session, err := client.Connect(ctx, cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}

	if err := session.Authenticate(ctx, cfg.User, cfg.Password); err != nil {
		closeSession(session, log)
		return nil, err
	}

	if err := session.SelectMailbox(ctx, cfg.Mailbox); err != nil {
		closeSession(session, log)
		return nil, err
	}

	return session, nil
}

func closeSession(session interfaces.Session, log logger.Logger) {
	if session == nil {
		return
	}
	if err := session.Close(); err != nil {
		log.Debugf("Error closing IMAP session: %v", err)
	}
}
