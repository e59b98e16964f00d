package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/interfaces"
	mailerrors "github.com/customeros/mailobserver/internal/errors"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/tracing"
	"github.com/customeros/mailobserver/internal/utils"
)

// Supervisor owns the connection lifecycle of one mailbox. It connects,
// primes or catches up, listens for pushes and reconnects after
// recoverable failures until it is stopped or hits a fatal error.
type Supervisor struct {
	client  interfaces.SessionClient
	mailbox MailboxConfig
	engine  *SyncEngine
	opts    Options
	log     logger.Logger

	stopCh   chan struct{}
	stopOnce sync.Once

	statusMu sync.RWMutex
	status   interfaces.WatcherStatus
}

func NewSupervisor(client interfaces.SessionClient, mailbox MailboxConfig, engine *SyncEngine, opts Options, log logger.Logger) *Supervisor {
	return &Supervisor{
		client:  client,
		mailbox: mailbox,
		engine:  engine,
		opts:    opts.withDefaults(),
		log:     log,
		stopCh:  make(chan struct{}),
		status:  interfaces.WatcherStatus{Mailbox: mailbox.Mailbox},
	}
}

// Start runs until Stop is called, ctx is cancelled or a fatal error
// occurs. It returns nil on a requested shutdown and the fatal error
// otherwise.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.engine.Restore(ctx); err != nil {
		s.recordError(err)
		s.log.Errorf("Could not restore watermark for %s: %v", s.mailbox.Mailbox, err)
		return err
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			s.log.Infof("Watcher for %s stopped", s.mailbox.Mailbox)
			return nil
		}

		err := s.runSession(ctx, attempt)
		if ctx.Err() != nil {
			s.log.Infof("Watcher for %s stopped", s.mailbox.Mailbox)
			return nil
		}
		if err == nil {
			err = mailerrors.ErrSessionAborted
		}
		s.recordError(err)

		if !mailerrors.IsRetryable(err) {
			s.log.Errorf("Watcher for %s failed permanently: %v", s.mailbox.Mailbox, err)
			return err
		}

		s.log.Warnf("IMAP session for %s ended: %v, reconnecting in %s", s.mailbox.Mailbox, err, s.opts.RetryDelay)
		if !utils.SleepContext(ctx, s.opts.RetryDelay) {
			s.log.Infof("Watcher for %s stopped", s.mailbox.Mailbox)
			return nil
		}
	}
}

// Stop requests shutdown. It is safe to call more than once and from
// any goroutine.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Supervisor) Status() interfaces.WatcherStatus {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()

	status.Watermark = s.engine.Watermark()
	status.LastSync = s.engine.LastSync()
	return status
}

// Engine exposes the sync engine so scheduled jobs can run extra passes.
func (s *Supervisor) Engine() *SyncEngine {
	return s.engine
}

func (s *Supervisor) runSession(ctx context.Context, attempt int) (err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Supervisor.runSession")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, s.mailbox.Mailbox)
	span.SetTag("attempt", attempt)

	var (
		session  interfaces.Session
		listener *PushListener
	)

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(mailerrors.ErrSessionAborted, "session panic: %v", r)
		}
		s.teardown(listener, session)
		s.setConnected(false)
		tracing.TraceErr(span, err)
	}()

	s.setAttempt(attempt)
	session, err = openMailbox(ctx, s.client, s.mailbox, s.log)
	if err != nil {
		return err
	}

	if err = s.checkCapability(ctx, session); err != nil {
		return err
	}
	s.setConnected(true)
	s.log.Infof("Connected to %s:%d, watching %s", s.mailbox.Host, s.mailbox.Port, s.mailbox.Mailbox)

	s.engine.SynchronizeWith(ctx, session)

	listener = NewPushListener(session, func(ctx context.Context) {
		s.engine.Synchronize(ctx)
	}, s.log)
	listener.Start(ctx)
	s.log.Infof("IMAP listening has started for %s", s.mailbox.Mailbox)

	ticker := time.NewTicker(s.opts.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-listener.Aborted():
			return listener.Err()
		case <-ticker.C:
			s.touch()
		}
	}
}

func (s *Supervisor) checkCapability(ctx context.Context, session interfaces.Session) error {
	caps, err := session.Capabilities(ctx)
	if err != nil {
		return errors.Wrap(err, "capabilities")
	}
	if !caps[requiredCapability] {
		return errors.Wrapf(mailerrors.ErrCapabilityMissing, "%s does not support %s", s.mailbox.Host, requiredCapability)
	}
	return nil
}

// teardown stops the listener before closing the session the listener
// is using.
func (s *Supervisor) teardown(listener *PushListener, session interfaces.Session) {
	if listener != nil {
		listener.Stop()
		listener.Join()
	}
	closeSession(session, s.log)
	s.log.Infof("IMAP listening has stopped for %s", s.mailbox.Mailbox)
}

func (s *Supervisor) setAttempt(attempt int) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Attempts = attempt
}

func (s *Supervisor) setConnected(connected bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Connected = connected
	if connected {
		s.status.LastError = ""
		s.status.LastChecked = utils.Now()
	}
}

func (s *Supervisor) touch() {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.LastChecked = utils.Now()
}

func (s *Supervisor) recordError(err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.LastError = err.Error()
}

var _ interfaces.WatcherService = (*Supervisor)(nil)

