package imap

import (
	"context"
	"io"

	"github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	mailerrors "github.com/customeros/mailobserver/internal/errors"
	"github.com/customeros/mailobserver/internal/models"
	"github.com/customeros/mailobserver/internal/tracing"
)

// FetchRange fetches the full content of every message with
// from <= UID < to without setting \Seen. Messages expunged in the
// meantime are simply absent from the result.
func (s *session) FetchRange(ctx context.Context, mailbox string, from, to uint32) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.FetchRange")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, mailbox)
	span.SetTag("from", from)
	span.SetTag("to", to)

	if to <= from {
		return nil, nil
	}

	selected, uidValidity := s.selection()
	if selected != mailbox {
		mbox, err := s.selectMailbox(mailbox)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		uidValidity = mbox.UidValidity
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to-1)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchRFC822Size,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var (
		batch   []*models.Message
		readErr error
	)
	for msg := range messages {
		// a UID range past the last message can match the last one
		if msg == nil || msg.Uid < from || msg.Uid >= to {
			continue
		}

		message, err := toMessage(msg, section, mailbox, uidValidity)
		if err != nil {
			// keep draining so UidFetch can complete
			if readErr == nil {
				readErr = err
			}
			continue
		}
		batch = append(batch, message)
	}

	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, s.commandError(mailerrors.ErrConnection, "uid fetch", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if readErr != nil {
		tracing.TraceErr(span, readErr)
		return nil, errors.Wrapf(readErr, "fetch %s UID %d..%d", mailbox, from, to-1)
	}

	span.SetTag("messages.fetched", len(batch))
	return batch, nil
}

// toMessage converts a fetched message. A message without a readable
// body fails the conversion so that the range is fetched again on the
// next pass instead of being skipped.
func toMessage(msg *imap.Message, section *imap.BodySectionName, mailbox string, uidValidity uint32) (*models.Message, error) {
	raw, err := readBody(msg, section)
	if err != nil {
		return nil, errors.Wrapf(err, "UID %d", msg.Uid)
	}
	return &models.Message{
		UID:          msg.Uid,
		UIDValidity:  uidValidity,
		Mailbox:      mailbox,
		InternalDate: msg.InternalDate,
		Size:         msg.Size,
		Flags:        msg.Flags,
		Raw:          raw,
	}, nil
}

func readBody(msg *imap.Message, section *imap.BodySectionName) ([]byte, error) {
	body := msg.GetBody(section)
	if body == nil {
		return nil, errors.New("body section missing from response")
	}
	return io.ReadAll(body)
}
