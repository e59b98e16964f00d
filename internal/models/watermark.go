package models

import "fmt"

// Watermark marks how far a mailbox has been observed. NextUID is the
// smallest UID not yet seen; UIDValidity changes whenever the server
// renumbers the mailbox, which invalidates every UID seen before.
type Watermark struct {
	NextUID     uint32 `json:"nextUid"`
	UIDValidity uint32 `json:"uidValidity"`
}

func (w Watermark) String() string {
	return fmt.Sprintf("{next:%d validity:%d}", w.NextUID, w.UIDValidity)
}

// SameEpoch reports whether both watermarks belong to the same UID space.
func (w Watermark) SameEpoch(other Watermark) bool {
	return w.UIDValidity == other.UIDValidity
}
