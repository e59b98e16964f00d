package models

import (
	"time"
)

// MailboxSyncState is the persisted watermark of a mailbox
type MailboxSyncState struct {
	ID          string    `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	MailboxName string    `gorm:"column:mailbox_name;type:varchar(255);uniqueIndex;not null"`
	NextUID     uint32    `gorm:"column:next_uid;not null"`
	UIDValidity uint32    `gorm:"column:uid_validity;not null"`
	LastSync    time.Time `gorm:"column:last_sync;type:timestamp;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (MailboxSyncState) TableName() string {
	return "mailbox_sync_states"
}

func (s MailboxSyncState) Watermark() Watermark {
	return Watermark{NextUID: s.NextUID, UIDValidity: s.UIDValidity}
}
