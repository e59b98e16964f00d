package imap

import (
	"context"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/interfaces"
	mailerrors "github.com/customeros/mailobserver/internal/errors"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/tracing"
)

// session wraps one go-imap client. A single pump goroutine drains the
// client's update channel for the whole life of the connection and
// forwards mailbox changes to the registered callback.
type session struct {
	c       *client.Client
	updates chan client.Update
	cfg     Config
	host    string
	log     logger.Logger

	mu          sync.Mutex
	onChange    func()
	selected    string
	uidValidity uint32

	closeOnce sync.Once
	closed    chan struct{}
	pumpDone  chan struct{}
}

func newSession(c *client.Client, updates chan client.Update, cfg Config, host string, log logger.Logger) *session {
	s := &session{
		c:        c,
		updates:  updates,
		cfg:      cfg,
		host:     host,
		log:      log,
		closed:   make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *session) pump() {
	defer close(s.pumpDone)
	for {
		select {
		case update := <-s.updates:
			if _, ok := update.(*client.MailboxUpdate); !ok {
				continue
			}
			if cb := s.callback(); cb != nil {
				cb()
			}
		case <-s.closed:
			return
		}
	}
}

func (s *session) callback() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onChange
}

func (s *session) setCallback(onChange func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = onChange
}

// alive reports whether the underlying connection is still open, which
// tells a rejected command apart from a dropped connection.
func (s *session) alive() bool {
	select {
	case <-s.c.LoggedOut():
		return false
	default:
		return true
	}
}

func (s *session) commandError(class error, what string, err error) error {
	if s.alive() {
		return errors.Wrapf(class, "%s: %v", what, err)
	}
	return errors.Wrapf(mailerrors.ErrConnection, "%s: %v", what, err)
}

func (s *session) Authenticate(ctx context.Context, user, secret string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.Authenticate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("username", user)

	if err := s.c.Login(user, secret); err != nil {
		tracing.TraceErr(span, err)
		return s.commandError(mailerrors.ErrAuthentication, "login as "+user, err)
	}
	return nil
}

func (s *session) SelectMailbox(ctx context.Context, name string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.SelectMailbox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, name)

	mbox, err := s.selectMailbox(name)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	span.SetTag("messages.total", mbox.Messages)
	span.SetTag("uid.next", mbox.UidNext)
	span.SetTag("uid.validity", mbox.UidValidity)
	s.log.Debugf("Selected %s - Messages: %d, UIDNEXT: %d, UIDVALIDITY: %d",
		name, mbox.Messages, mbox.UidNext, mbox.UidValidity)
	return nil
}

// selectMailbox examines name read-only and remembers its UIDVALIDITY.
func (s *session) selectMailbox(name string) (*imap.MailboxStatus, error) {
	mbox, err := s.c.Select(name, true)
	if err != nil {
		return nil, s.commandError(mailerrors.ErrMailboxNotFound, "select "+name, err)
	}
	s.mu.Lock()
	s.selected = name
	s.uidValidity = mbox.UidValidity
	s.mu.Unlock()
	return mbox, nil
}

func (s *session) selection() (string, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.uidValidity
}

func (s *session) Capabilities(ctx context.Context) (map[string]bool, error) {
	caps, err := s.c.Capability()
	if err != nil {
		return nil, errors.Wrapf(mailerrors.ErrConnection, "capability: %v", err)
	}
	normalized := make(map[string]bool, len(caps))
	for name, ok := range caps {
		normalized[strings.ToUpper(name)] = ok
	}
	return normalized, nil
}

// Close logs out and stops the update pump. Later calls are no-ops.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setCallback(nil)
		if s.alive() {
			s.c.Timeout = LOGOUT_TIMEOUT
			if logoutErr := s.c.Logout(); logoutErr != nil && !errors.Is(logoutErr, client.ErrAlreadyLoggedOut) {
				err = logoutErr
			}
		}
		close(s.closed)
		<-s.pumpDone
	})
	return err
}

var _ interfaces.Session = (*session)(nil)
