package notify

import (
	"context"
	"errors"
	"fmt"

	"sentinel/internal/domain"
)

var (
	ErrClosed       = errors.New("notify: dispatcher closed")
	ErrNoChannels   = errors.New("notify: no deliverable channel")
	ErrNoAdapter    = errors.New("notify: no adapter for channel kind")
	ErrEmptyTarget  = errors.New("notify: empty channel target")
	ErrUnconfigured = errors.New("notify: channel not configured")
)

// Channel sends a rendered report to one target of its kind.
type Channel interface {
	Kind() domain.ChannelKind
	Send(ctx context.Context, r *domain.Report, target string) error
}

// Permanent marks err as non-retryable, e.g. a rejected payload.
//
//	return notify.Permanent(fmt.Errorf("webhook: status %d", code))
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
