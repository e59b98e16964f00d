package observers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/customeros/mailobserver/dto"
	"github.com/customeros/mailobserver/internal/enum"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/models"
)

const sampleMessage = "From: Alice Example <Alice@Example.com>\r\n" +
	"To: watcher@example.org\r\n" +
	"Subject: Quarterly report\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n"

func TestSummarize(t *testing.T) {
	// Arrange
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := &models.Message{
		UID:          101,
		UIDValidity:  7,
		Mailbox:      "INBOX",
		InternalDate: now,
		Size:         uint32(len(sampleMessage)),
		Raw:          []byte(sampleMessage),
	}

	// Act
	summary, err := Summarize(msg)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, enum.EmailImportIMAP, summary.Source)
	assert.Equal(t, uint32(101), summary.ImapUID)
	assert.Equal(t, uint32(7), summary.UIDValidity)
	assert.Equal(t, "Quarterly report", summary.Subject)
	assert.Equal(t, "abc123@example.com", summary.MessageID)
	assert.Equal(t, "Alice Example", summary.FromName)
	assert.Equal(t, "example.com", summary.FromDomain)
	assert.Contains(t, []string{"alice@example.com", "Alice@Example.com"}, summary.FromAddress)
	assert.Equal(t, now, summary.InternalDate)
	assert.Equal(t, "INBOX-7-101", summary.DedupID())
}

func TestSummarize_EmptyMessage(t *testing.T) {
	summary, err := Summarize(&models.Message{UID: 5, UIDValidity: 1, Mailbox: "INBOX"})

	assert.Error(t, err)
	assert.Equal(t, uint32(5), summary.ImapUID)
	assert.Empty(t, summary.Subject)
}

func TestSender(t *testing.T) {
	assert.Equal(t, "Alice <alice@example.com>", Sender(dto.EmailReceived{FromName: "Alice", FromAddress: "alice@example.com"}))
	assert.Equal(t, "alice@example.com", Sender(dto.EmailReceived{FromAddress: "alice@example.com"}))
	assert.Equal(t, "(unknown sender)", Sender(dto.EmailReceived{}))
}

func TestLogObserver_LogsSenderAndSubject(t *testing.T) {
	// Arrange
	core, logs := observer.New(zap.InfoLevel)
	log := logger.NewAppLoggerFromZap(zap.New(core))
	obs := NewLogObserver(log)
	batch := []*models.Message{
		{UID: 100, UIDValidity: 7, Mailbox: "INBOX", Raw: []byte(sampleMessage)},
		{UID: 101, UIDValidity: 7, Mailbox: "INBOX"},
	}

	// Act
	err := obs.OnMessagesReceived(context.Background(), batch)

	// Assert
	require.NoError(t, err)
	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Message, "Quarterly report")
	assert.Contains(t, entries[0].Message, "Alice Example")
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}
