package notifier

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrResolution aborts a publish: the audience could not be determined.
	ErrResolution = errors.New("recipient resolution failed")

	// Per-recipient errors; collected in the Report, never returned by Publish.
	ErrUnresolvedTemplate   = errors.New("template id unresolved")
	ErrChannelKeyUnresolved = errors.New("channel key unresolved")
	ErrSendFailed           = errors.New("send failed")
)

// Permanent marks a send error as non-retryable.
//
// Senders wrap rejections that retrying cannot fix (invalid template, revoked
// subscription, bad openid) so the dispatcher doesn't waste attempts:
//
//	return notifier.Permanent(fmt.Errorf("relay rejected: %w", err))
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested delay before the next attempt (e.g. HTTP 429).
// The hint is bounded by RetryMaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
