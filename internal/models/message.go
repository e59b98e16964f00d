package models

import "time"

// Message is a raw message as fetched from the server. It is never
// modified after the fetch that produced it.
type Message struct {
	UID          uint32
	UIDValidity  uint32
	Mailbox      string
	InternalDate time.Time
	Size         uint32
	Flags        []string
	Raw          []byte
}
