// Package source fetches repository activity from upstream providers.
//
// Callers see exactly three failure shapes: *RateLimitedError, ErrNotFound
// and *TransientError. Everything returned is normalized to UTC.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinel/internal/domain"
)

var ErrNotFound = errors.New("source: repository not found")

// ErrAccessDenied covers bad credentials and private repositories. It
// matches ErrNotFound, since retrying cannot fix either.
var ErrAccessDenied = fmt.Errorf("source: access denied: %w", ErrNotFound)

// RateLimitedError means the provider asked us to back off.
// RetryAfter is zero when the provider gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source: rate limited (retry after %s)", e.RetryAfter)
	}
	return "source: rate limited"
}

// TransientError wraps network failures and temporary upstream errors.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "source: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// RetryAfterHint returns the provider's retry hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsTransient reports failures that should simply be retried later,
// including rate limiting.
func IsTransient(err error) bool {
	if IsRateLimited(err) {
		return true
	}
	var te *TransientError
	return errors.As(err, &te)
}

// Source is the activity provider boundary.
type Source interface {
	// Fetch returns all activity of repo in [since, until).
	Fetch(ctx context.Context, repo domain.RepoID, since, until domain.UTCTime) (*domain.ActivityBatch, error)
	// Meta returns a repository metadata snapshot.
	Meta(ctx context.Context, repo domain.RepoID) (domain.RepoMeta, error)
}

// Caps bounds how many records of each category a single fetch may return.
type Caps struct {
	Commits      int
	PullRequests int
	Issues       int
	Releases     int
}

func (c Caps) withDefaults() Caps {
	if c.Commits <= 0 {
		c.Commits = 50
	}
	if c.PullRequests <= 0 {
		c.PullRequests = 25
	}
	if c.Issues <= 0 {
		c.Issues = 25
	}
	if c.Releases <= 0 {
		c.Releases = 25
	}
	return c
}

func checkArgs(repo domain.RepoID, since, until domain.UTCTime) error {
	if err := domain.ValidateRepoID(string(repo)); err != nil {
		return err
	}
	return domain.Window{Since: since, Until: until}.Validate()
}
