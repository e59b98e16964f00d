package server

import (
	"io"

	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/config"
	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/database"
	"github.com/customeros/mailobserver/internal/enum"
	"github.com/customeros/mailobserver/internal/repository"
	"github.com/customeros/mailobserver/internal/statefile"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var noopCloser = closerFunc(func() error { return nil })

// OpenStateStore builds the watermark store selected by
// WATCHER_STATE_BACKEND. The returned closer releases whatever the store
// holds open.
func OpenStateStore(cfg *config.Config) (interfaces.WatermarkStore, io.Closer, error) {
	mailbox := cfg.ImapConfig.Mailbox

	switch enum.StateBackend(cfg.WatcherConfig.StateBackend) {
	case enum.StateBackendFile:
		return statefile.New(cfg.WatcherConfig.StateFile, mailbox), noopCloser, nil

	case enum.StateBackendMemory:
		return statefile.NewMemory(nil), noopCloser, nil

	case enum.StateBackendPostgres:
		db, err := database.InitMailobserverDatabase(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to get sql db")
		}
		repos := repository.InitRepositories(db)
		return repos.MailboxSyncRepository.ForMailbox(mailbox), closerFunc(sqlDB.Close), nil

	default:
		return nil, nil, errors.Errorf("unknown state backend %q", cfg.WatcherConfig.StateBackend)
	}
}
