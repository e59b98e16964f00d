package observers

import (
	"bytes"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/dto"
	"github.com/customeros/mailobserver/internal/enum"
	"github.com/customeros/mailobserver/internal/models"
	"github.com/customeros/mailobserver/internal/utils"
)

// Summarize builds the event payload for msg. The IMAP fields are always
// filled in; header fields are left empty when the raw message cannot be
// parsed, in which case the parse error is returned alongside.
func Summarize(msg *models.Message) (dto.EmailReceived, error) {
	summary := dto.EmailReceived{
		Source:       enum.EmailImportIMAP,
		Mailbox:      msg.Mailbox,
		ImapUID:      msg.UID,
		UIDValidity:  msg.UIDValidity,
		InternalDate: msg.InternalDate,
		Size:         msg.Size,
	}

	if len(msg.Raw) == 0 {
		return summary, errors.Errorf("message %d has no content", msg.UID)
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	if err != nil {
		return summary, errors.Wrapf(err, "parse message %d", msg.UID)
	}

	summary.Subject = envelope.GetHeader("Subject")
	summary.MessageID = utils.NormalizeMessageID(envelope.GetHeader("Message-ID"))

	from, err := envelope.AddressList("From")
	if err == nil && len(from) > 0 {
		summary.FromName = from[0].Name
		summary.FromAddress = from[0].Address
		syntaxValidation := mailvalidate.ValidateEmailSyntax(from[0].Address)
		if syntaxValidation.IsValid {
			summary.FromAddress = syntaxValidation.CleanEmail
			summary.FromDomain = syntaxValidation.Domain
		}
	} else {
		// fall back to the raw header for malformed address lists
		summary.FromAddress = envelope.GetHeader("From")
	}
	if summary.FromDomain == "" {
		summary.FromDomain = utils.ExtractDomainFromEmail(summary.FromAddress)
	}

	return summary, nil
}

// Sender formats the sender the way a mail client would show it.
func Sender(summary dto.EmailReceived) string {
	switch {
	case summary.FromName != "" && summary.FromAddress != "":
		return summary.FromName + " <" + summary.FromAddress + ">"
	default:
		return utils.FirstNonEmpty(summary.FromAddress, summary.FromName, "(unknown sender)")
	}
}
