package errors

import "github.com/pkg/errors"

var (
	// fatal: the supervisor stops without retrying
	ErrAddressResolution = errors.New("imap server address could not be resolved")
	ErrCapabilityMissing = errors.New("imap server is missing a required capability")
	ErrAuthentication    = errors.New("imap authentication failed")
	ErrMailboxNotFound   = errors.New("mailbox not found")

	// retryable: teardown and reconnect after the retry delay
	ErrSessionAborted = errors.New("imap session aborted")
	ErrConnection     = errors.New("imap connection error")

	// configuration
	ErrConfigMissing = errors.New("required configuration is missing")
)

// IsFatal reports whether err should stop the supervisor for good.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAddressResolution) ||
		errors.Is(err, ErrCapabilityMissing) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrMailboxNotFound)
}

// IsRetryable reports whether the connection should be re-established.
// A session abort wins over the fatal classes because an expired
// session surfaces as an authentication error mid-flight.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionAborted) || errors.Is(err, ErrConnection) {
		return true
	}
	return !IsFatal(err)
}
