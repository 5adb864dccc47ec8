package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"sentinel/internal/domain"
	"sentinel/internal/httpx"
	logx "sentinel/pkg/logx"
)

const DefaultFeedURL = "https://github.com"

type FeedOptions struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Caps       Caps
	SSRFGuard  bool
	HTTPClient *http.Client
	Now        func() time.Time
	Log        logx.Logger
}

// Feed reads commits and releases from a repository's public Atom feeds.
// It needs no API token; pull requests and issues are not available.
type Feed struct {
	base    string
	caps    Caps
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	log     logx.Logger
}

var _ Source = (*Feed)(nil)

func NewFeed(opts FeedOptions) *Feed {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultFeedURL
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	client := opts.HTTPClient
	if client == nil {
		client = httpx.NewClient(opts.Timeout, opts.SSRFGuard)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Feed{
		base:    base,
		caps:    opts.Caps.withDefaults(),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		now:     now,
		log:     opts.Log.With(logx.String("comp", "source.feed")),
	}
}

func (f *Feed) Fetch(ctx context.Context, repo domain.RepoID, since, until domain.UTCTime) (*domain.ActivityBatch, error) {
	if err := checkArgs(repo, since, until); err != nil {
		return nil, err
	}
	w := domain.Window{Since: since, Until: until}
	b := &domain.ActivityBatch{Repo: repo, Window: w}

	commits, err := f.load(ctx, repo, "commits.atom")
	if err != nil {
		return nil, err
	}
	for _, it := range commits.Items {
		at, ok := itemTime(it)
		if !ok || !w.Contains(at) {
			continue
		}
		if len(b.Commits) >= f.caps.Commits {
			b.Truncated = true
			break
		}
		b.Commits = append(b.Commits, domain.Commit{
			SHA:     lastSegment(it.GUID),
			Message: firstLine(it.Title),
			Author:  itemAuthor(it),
			Date:    at,
			URL:     it.Link,
		})
	}

	releases, err := f.load(ctx, repo, "releases.atom")
	if err != nil {
		return nil, err
	}
	for _, it := range releases.Items {
		at, ok := itemTime(it)
		if !ok || !w.Contains(at) {
			continue
		}
		if len(b.Releases) >= f.caps.Releases {
			b.Truncated = true
			break
		}
		b.Releases = append(b.Releases, domain.Release{
			TagName:     lastSegment(it.Link),
			Name:        it.Title,
			Author:      itemAuthor(it),
			PublishedAt: at,
			URL:         it.Link,
		})
	}
	return b, nil
}

// Meta has only what the feed URL implies.
func (f *Feed) Meta(_ context.Context, repo domain.RepoID) (domain.RepoMeta, error) {
	if err := domain.ValidateRepoID(string(repo)); err != nil {
		return domain.RepoMeta{}, err
	}
	return domain.RepoMeta{FullName: string(repo), URL: f.base + "/" + string(repo)}, nil
}

func (f *Feed) load(ctx context.Context, repo domain.RepoID, name string) (*gofeed.Feed, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, transient(err)
	}
	u := f.base + "/" + repo.Owner() + "/" + repo.Name() + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", httpx.UserAgent)
	req.Header.Set("Accept", "application/atom+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: retryAfter(resp.Header, f.now())}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, transient(fmt.Errorf("feed %s: status %d", name, resp.StatusCode))
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, httpx.MaxBodyBytes))
	if err != nil {
		return nil, transient(fmt.Errorf("parse %s: %w", name, err))
	}
	return feed, nil
}

func itemTime(it *gofeed.Item) (domain.UTCTime, bool) {
	t := it.UpdatedParsed
	if t == nil {
		t = it.PublishedParsed
	}
	if t == nil {
		return domain.UTCTime{}, false
	}
	u, err := domain.UTC(*t)
	return u, err == nil
}

func itemAuthor(it *gofeed.Item) string {
	if it.Author != nil && it.Author.Name != "" {
		return it.Author.Name
	}
	for _, a := range it.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// lastSegment returns the trailing path or id component, e.g. the commit SHA
// of "tag:github.com,2008:Grit::Commit/<sha>".
func lastSegment(s string) string {
	s = strings.TrimRight(s, "/")
	if s == "" {
		return ""
	}
	return path.Base(s)
}
