package imap

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/enum"
	mailerrors "github.com/customeros/mailobserver/internal/errors"
	"github.com/customeros/mailobserver/internal/logger"
)

// memory backend credentials
const (
	testUser     = "username"
	testPassword = "password"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func startTestServer(t *testing.T) (string, int) {
	return serveBackend(t, memory.New())
}

// updatingBackend lets a test push unsolicited mailbox updates, which the
// plain memory backend never sends.
type updatingBackend struct {
	*memory.Backend
	updates chan backend.Update
}

func (b *updatingBackend) Updates() <-chan backend.Update {
	return b.updates
}

func startUpdatingServer(t *testing.T) (string, int, *updatingBackend) {
	be := &updatingBackend{Backend: memory.New(), updates: make(chan backend.Update, 1)}
	host, port := serveBackend(t, be)
	return host, port, be
}

func serveBackend(t *testing.T, be backend.Backend) (string, int) {
	t.Helper()
	srv := server.New(be)
	srv.AllowInsecureAuth = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func newTestConnector() *Connector {
	return NewConnector(Config{
		Security:       enum.EmailSecurityNone,
		DialTimeout:    2 * time.Second,
		CommandTimeout: 5 * time.Second,
	}, getLogger())
}

func openTestSession(t *testing.T, host string, port int) interfaces.Session {
	t.Helper()
	ctx := context.Background()
	session, err := newTestConnector().Connect(ctx, host, port)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	require.NoError(t, session.Authenticate(ctx, testUser, testPassword))
	require.NoError(t, session.SelectMailbox(ctx, "INBOX"))
	return session
}

func appendMessage(t *testing.T, host string, port int, body string) {
	t.Helper()
	c, err := client.Dial(net.JoinHostPort(host, strconv.Itoa(port)))
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login(testUser, testPassword))
	require.NoError(t, c.Append("INBOX", nil, time.Now(), bytes.NewBufferString(body)))
}

func TestConnector_UnresolvableHostIsFatal(t *testing.T) {
	_, err := newTestConnector().Connect(context.Background(), "mailobserver-test.invalid", 993)

	assert.ErrorIs(t, err, mailerrors.ErrAddressResolution)
	assert.True(t, mailerrors.IsFatal(err))
}

func TestConnector_RefusedConnectionIsRetryable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = newTestConnector().Connect(context.Background(), "127.0.0.1", port)

	assert.ErrorIs(t, err, mailerrors.ErrConnection)
	assert.True(t, mailerrors.IsRetryable(err))
}

func TestSession_AuthenticationRejected(t *testing.T) {
	host, port := startTestServer(t)
	session, err := newTestConnector().Connect(context.Background(), host, port)
	require.NoError(t, err)
	defer session.Close()

	err = session.Authenticate(context.Background(), testUser, "wrong")

	assert.ErrorIs(t, err, mailerrors.ErrAuthentication)
}

func TestSession_UnknownMailbox(t *testing.T) {
	host, port := startTestServer(t)
	ctx := context.Background()
	session, err := newTestConnector().Connect(ctx, host, port)
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Authenticate(ctx, testUser, testPassword))

	err = session.SelectMailbox(ctx, "DoesNotExist")

	assert.ErrorIs(t, err, mailerrors.ErrMailboxNotFound)
}

func TestSession_Capabilities(t *testing.T) {
	host, port := startTestServer(t)
	session := openTestSession(t, host, port)

	caps, err := session.Capabilities(context.Background())

	require.NoError(t, err)
	assert.True(t, caps["IMAP4REV1"])
}

func TestSession_WatermarkAndFetch(t *testing.T) {
	// Arrange
	host, port := startTestServer(t)
	session := openTestSession(t, host, port)
	ctx := context.Background()

	before, err := session.QueryWatermark(ctx, "INBOX")
	require.NoError(t, err)
	require.NotZero(t, before.NextUID)

	// Act
	appendMessage(t, host, port, "From: Alice <alice@example.com>\r\nSubject: hello\r\n\r\nhi there\r\n")
	after, err := session.QueryWatermark(ctx, "INBOX")
	require.NoError(t, err)
	batch, err := session.FetchRange(ctx, "INBOX", before.NextUID, after.NextUID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, before.NextUID+1, after.NextUID)
	assert.Equal(t, before.UIDValidity, after.UIDValidity)
	require.Len(t, batch, 1)
	assert.Equal(t, before.NextUID, batch[0].UID)
	assert.Equal(t, after.UIDValidity, batch[0].UIDValidity)
	assert.Equal(t, "INBOX", batch[0].Mailbox)
	assert.Contains(t, string(batch[0].Raw), "Subject: hello")
}

func TestSession_FetchEmptyRange(t *testing.T) {
	host, port := startTestServer(t)
	session := openTestSession(t, host, port)

	batch, err := session.FetchRange(context.Background(), "INBOX", 10, 10)

	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestSession_AwaitChangeEndsOnCancel(t *testing.T) {
	host, port := startTestServer(t)
	session := openTestSession(t, host, port)
	ctx, cancel := context.WithCancel(context.Background())

	result, err := session.AwaitChange(ctx, func() {})
	require.NoError(t, err)
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("long-poll did not end after cancellation")
	}
}

func TestSession_AwaitChangeReportsNewMail(t *testing.T) {
	// Arrange
	host, port, be := startUpdatingServer(t)
	session := openTestSession(t, host, port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	result, err := session.AwaitChange(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	// Act
	appendMessage(t, host, port, "Subject: pushed\r\n\r\nhello")
	status := imap.NewMailboxStatus("INBOX", []imap.StatusItem{imap.StatusMessages})
	status.Messages = 2
	update := &backend.MailboxUpdate{Update: backend.NewUpdate(testUser, "INBOX"), MailboxStatus: status}
	broadcast := update.Done()
	be.updates <- update

	// Assert
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("EXISTS push during IDLE did not reach the change callback")
	}
	select {
	case <-broadcast:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not broadcast the update")
	}

	cancel()
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("long-poll did not end after cancellation")
	}
}

func TestToMessage(t *testing.T) {
	section := &imap.BodySectionName{Peek: true}
	msg := imap.NewMessage(1, nil)
	msg.Uid = 42
	msg.Size = 11
	msg.Body[&imap.BodySectionName{}] = bytes.NewBufferString("Subject: x\r\n")

	message, err := toMessage(msg, section, "INBOX", 7)

	require.NoError(t, err)
	assert.Equal(t, uint32(42), message.UID)
	assert.Equal(t, uint32(7), message.UIDValidity)
	assert.Equal(t, "INBOX", message.Mailbox)
	assert.Equal(t, []byte("Subject: x\r\n"), message.Raw)
}

func TestToMessage_MissingBodyFails(t *testing.T) {
	msg := imap.NewMessage(1, nil)
	msg.Uid = 42

	message, err := toMessage(msg, &imap.BodySectionName{Peek: true}, "INBOX", 7)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "UID 42")
	assert.Nil(t, message)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	host, port := startTestServer(t)
	session, err := newTestConnector().Connect(context.Background(), host, port)
	require.NoError(t, err)

	assert.NoError(t, session.Close())
	assert.NoError(t, session.Close())

	_, err = session.AwaitChange(context.Background(), func() {})
	assert.ErrorIs(t, err, mailerrors.ErrSessionAborted)
}
