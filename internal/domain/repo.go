package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidRepo = errors.New("domain: invalid repository")

// RepoID is an "owner/name" repository identifier.
type RepoID string

var repoRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+/[a-zA-Z0-9._-]+$`)

func ValidateRepoID(s string) error {
	if !repoRe.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidRepo, s)
	}
	return nil
}

func (r RepoID) Owner() string {
	o, _, _ := strings.Cut(string(r), "/")
	return o
}

func (r RepoID) Name() string {
	_, n, _ := strings.Cut(string(r), "/")
	return n
}

// ParseRepoURL accepts owner/name, https://github.com/owner/name[.git]
// and git@github.com:owner/name.git.
func ParseRepoURL(raw string) (RepoID, error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "git@"):
		_, rest, ok := strings.Cut(s, ":")
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidRepo, raw)
		}
		s = rest
	case strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "http://"):
		s = s[strings.Index(s, "://")+3:]
		host, rest, ok := strings.Cut(s, "/")
		if !ok || host == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidRepo, raw)
		}
		s = rest
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")
	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRepo, raw)
	}
	id := parts[0] + "/" + parts[1]
	if err := ValidateRepoID(id); err != nil {
		return "", err
	}
	return RepoID(id), nil
}
