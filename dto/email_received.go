package dto

import (
	"time"

	"github.com/customeros/mailobserver/internal/enum"
)

type EmailReceived struct {
	Source       enum.EmailImportSource `json:"source"`
	Mailbox      string                 `json:"mailbox"`
	ImapUID      uint32                 `json:"imapUid"`
	UIDValidity  uint32                 `json:"uidValidity"`
	MessageID    string                 `json:"messageId,omitempty"`
	Subject      string                 `json:"subject,omitempty"`
	FromName     string                 `json:"fromName,omitempty"`
	FromAddress  string                 `json:"fromAddress,omitempty"`
	FromDomain   string                 `json:"fromDomain,omitempty"`
	InternalDate time.Time              `json:"internalDate"`
	Size         uint32                 `json:"size"`
}

// DedupID identifies the message across redeliveries.
func (e EmailReceived) DedupID() string {
	return e.Mailbox + "-" + itoa(e.UIDValidity) + "-" + itoa(e.ImapUID)
}
