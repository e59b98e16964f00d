package imap

import (
	"context"

	"github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	mailerrors "github.com/customeros/mailobserver/internal/errors"
	"github.com/customeros/mailobserver/internal/models"
	"github.com/customeros/mailobserver/internal/tracing"
)

// QueryWatermark re-examines the mailbox to read UIDNEXT and
// UIDVALIDITY, falling back to STATUS for servers that leave UIDNEXT
// out of the select response.
func (s *session) QueryWatermark(ctx context.Context, mailbox string) (models.Watermark, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.QueryWatermark")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, mailbox)

	mbox, err := s.selectMailbox(mailbox)
	if err != nil {
		tracing.TraceErr(span, err)
		return models.Watermark{}, err
	}

	if mbox.UidNext == 0 || mbox.UidValidity == 0 {
		status, err := s.c.Status(mailbox, []imap.StatusItem{imap.StatusUidNext, imap.StatusUidValidity})
		if err != nil {
			tracing.TraceErr(span, err)
			return models.Watermark{}, s.commandError(mailerrors.ErrConnection, "status "+mailbox, err)
		}
		mbox = status
	}

	if mbox.UidNext == 0 {
		err := errors.Errorf("server reported no UIDNEXT for %s", mailbox)
		tracing.TraceErr(span, err)
		return models.Watermark{}, err
	}

	w := models.Watermark{NextUID: mbox.UidNext, UIDValidity: mbox.UidValidity}
	span.SetTag("watermark", w.String())
	return w, nil
}
