package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/models"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func testMailbox() MailboxConfig {
	return MailboxConfig{
		Host:     "imap.example.com",
		Port:     993,
		User:     "watcher@example.com",
		Password: "secret",
		Mailbox:  "INBOX",
	}
}

// fakeServer is an in-memory mailbox shared by every session it hands
// out, standing in for a real IMAP server.
type fakeServer struct {
	mu sync.Mutex

	watermark models.Watermark
	messages  map[uint32]*models.Message
	caps      map[string]bool

	connectErrs []error
	authErr     error
	selectErr   error
	queryErr    error
	fetchErr    error

	// fetchStarted is signalled and fetchGate awaited on every fetch when set.
	fetchStarted chan struct{}
	fetchGate    chan struct{}

	connects int
	queries  int
	fetches  [][2]uint32
	sessions []*fakeSession
}

func newFakeServer(watermark models.Watermark) *fakeServer {
	return &fakeServer{
		watermark: watermark,
		messages:  map[uint32]*models.Message{},
		caps:      map[string]bool{"IMAP4REV1": true, "IDLE": true},
	}
}

func (s *fakeServer) Connect(ctx context.Context, host string, port int) (interfaces.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	session := &fakeSession{server: s}
	s.sessions = append(s.sessions, session)
	return session, nil
}

// deliver appends n messages and advances UIDNEXT past them.
func (s *fakeServer) deliver(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		uid := s.watermark.NextUID
		s.messages[uid] = &models.Message{
			UID:         uid,
			UIDValidity: s.watermark.UIDValidity,
			Mailbox:     "INBOX",
			Raw:         []byte("Subject: test\r\n\r\nbody"),
		}
		s.watermark.NextUID++
	}
}

func (s *fakeServer) setWatermark(w models.Watermark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = w
}

// push simulates an unsolicited EXISTS on every open session.
func (s *fakeServer) push() {
	s.mu.Lock()
	var callbacks []func()
	for _, session := range s.sessions {
		if cb := session.callback(); cb != nil {
			callbacks = append(callbacks, cb)
		}
	}
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// dropIdles fails every running long-poll as a lost connection would.
func (s *fakeServer) dropIdles(err error) {
	s.mu.Lock()
	sessions := append([]*fakeSession(nil), s.sessions...)
	s.mu.Unlock()
	for _, session := range sessions {
		session.dropIdle(err)
	}
}

func (s *fakeServer) activeIdles() int {
	s.mu.Lock()
	sessions := append([]*fakeSession(nil), s.sessions...)
	s.mu.Unlock()
	n := 0
	for _, session := range sessions {
		if session.idling() {
			n++
		}
	}
	return n
}

func (s *fakeServer) openSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, session := range s.sessions {
		if !session.isClosed() {
			n++
		}
	}
	return n
}

func (s *fakeServer) stats() (connects, queries, fetches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.queries, len(s.fetches)
}

func (s *fakeServer) waitForIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return s.activeIdles() > 0 }, 2*time.Second, 5*time.Millisecond)
}

type fakeSession struct {
	server *fakeServer

	mu       sync.Mutex
	closed   bool
	onChange func()
	abort    chan error
}

func (f *fakeSession) Authenticate(ctx context.Context, user, secret string) error {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	return f.server.authErr
}

func (f *fakeSession) SelectMailbox(ctx context.Context, name string) error {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	return f.server.selectErr
}

func (f *fakeSession) Capabilities(ctx context.Context) (map[string]bool, error) {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	caps := make(map[string]bool, len(f.server.caps))
	for k, v := range f.server.caps {
		caps[k] = v
	}
	return caps, nil
}

func (f *fakeSession) QueryWatermark(ctx context.Context, mailbox string) (models.Watermark, error) {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	f.server.queries++
	if f.server.queryErr != nil {
		return models.Watermark{}, f.server.queryErr
	}
	return f.server.watermark, nil
}

func (f *fakeSession) AwaitChange(ctx context.Context, onChange func()) (<-chan error, error) {
	abort := make(chan error, 1)
	f.mu.Lock()
	f.onChange = onChange
	f.abort = abort
	f.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		defer close(result)
		var err error
		select {
		case <-ctx.Done():
		case err = <-abort:
		}
		f.mu.Lock()
		if f.abort == abort {
			f.abort = nil
		}
		f.mu.Unlock()
		result <- err
	}()
	return result, nil
}

func (f *fakeSession) FetchRange(ctx context.Context, mailbox string, from, to uint32) ([]*models.Message, error) {
	f.server.mu.Lock()
	started, gate := f.server.fetchStarted, f.server.fetchGate
	f.server.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	f.server.fetches = append(f.server.fetches, [2]uint32{from, to})
	if f.server.fetchErr != nil {
		return nil, f.server.fetchErr
	}
	var batch []*models.Message
	for uid := from; uid < to; uid++ {
		if msg, ok := f.server.messages[uid]; ok {
			batch = append(batch, msg)
		}
	}
	return batch, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.onChange = nil
	return nil
}

func (f *fakeSession) callback() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	return f.onChange
}

func (f *fakeSession) dropIdle(err error) {
	f.mu.Lock()
	abort := f.abort
	f.mu.Unlock()
	if abort != nil {
		select {
		case abort <- err:
		default:
		}
	}
}

func (f *fakeSession) idling() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.abort != nil && !f.closed
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recordingObserver keeps every batch it receives.
type recordingObserver struct {
	mu      sync.Mutex
	batches [][]*models.Message
}

func (o *recordingObserver) OnMessagesReceived(ctx context.Context, batch []*models.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, batch)
	return nil
}

func (o *recordingObserver) uids() []uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var uids []uint32
	for _, batch := range o.batches {
		for _, msg := range batch {
			uids = append(uids, msg.UID)
		}
	}
	return uids
}

func (o *recordingObserver) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.batches)
}
