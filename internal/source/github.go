package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"sentinel/internal/domain"
	"sentinel/internal/httpx"
	logx "sentinel/pkg/logx"
)

const DefaultGitHubURL = "https://api.github.com"

// GitHubOptions configures the GitHub REST source.
type GitHubOptions struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RatePerSec float64
	PerPage    int
	Caps       Caps
	MetaTTL    time.Duration
	SSRFGuard  bool
	HTTPClient *http.Client
	Now        func() time.Time
	Log        logx.Logger
}

// GitHub reads activity from the GitHub REST API.
type GitHub struct {
	base    string
	token   string
	perPage int
	caps    Caps
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	log     logx.Logger

	meta   *gocache.Cache
	flight singleflight.Group
}

var _ Source = (*GitHub)(nil)

func NewGitHub(opts GitHubOptions) *GitHub {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultGitHubURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = 100
	}
	if opts.MetaTTL <= 0 {
		opts.MetaTTL = time.Hour
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	client := opts.HTTPClient
	if client == nil {
		client = httpx.NewClient(opts.Timeout, opts.SSRFGuard)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &GitHub{
		base:    base,
		token:   opts.Token,
		perPage: opts.PerPage,
		caps:    opts.Caps.withDefaults(),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), max(1, int(opts.RatePerSec))),
		now:     now,
		log:     opts.Log.With(logx.String("comp", "source.github")),
		meta:    gocache.New(opts.MetaTTL, 2*opts.MetaTTL),
	}
}

func (g *GitHub) Fetch(ctx context.Context, repo domain.RepoID, since, until domain.UTCTime) (*domain.ActivityBatch, error) {
	if err := checkArgs(repo, since, until); err != nil {
		return nil, err
	}
	w := domain.Window{Since: since, Until: until}
	b := &domain.ActivityBatch{Repo: repo, Window: w}

	var (
		trunc bool
		err   error
	)
	if b.Commits, trunc, err = g.commits(ctx, repo, w); err != nil {
		return nil, err
	}
	b.Truncated = b.Truncated || trunc
	if b.PullRequests, trunc, err = g.pulls(ctx, repo, w); err != nil {
		return nil, err
	}
	b.Truncated = b.Truncated || trunc
	if b.Issues, trunc, err = g.issues(ctx, repo, w); err != nil {
		return nil, err
	}
	b.Truncated = b.Truncated || trunc
	if b.Releases, trunc, err = g.releases(ctx, repo, w); err != nil {
		return nil, err
	}
	b.Truncated = b.Truncated || trunc

	g.log.Debug("fetched activity",
		logx.String("repo", string(repo)),
		logx.Int("commits", len(b.Commits)),
		logx.Int("pulls", len(b.PullRequests)),
		logx.Int("issues", len(b.Issues)),
		logx.Int("releases", len(b.Releases)),
		logx.Bool("truncated", b.Truncated),
	)
	return b, nil
}

func (g *GitHub) Meta(ctx context.Context, repo domain.RepoID) (domain.RepoMeta, error) {
	key := string(repo)
	if v, ok := g.meta.Get(key); ok {
		return v.(domain.RepoMeta), nil
	}
	v, err, _ := g.flight.Do(key, func() (any, error) {
		var raw ghRepo
		if _, err := g.getJSON(ctx, g.repoURL(repo, "", nil), &raw); err != nil {
			return nil, err
		}
		m := domain.RepoMeta{
			FullName:    raw.FullName,
			Description: raw.Description,
			Stars:       raw.Stars,
			Forks:       raw.Forks,
			OpenIssues:  raw.OpenIssues,
			Language:    raw.Language,
			URL:         raw.HTMLURL,
		}
		g.meta.Set(key, m, gocache.DefaultExpiration)
		return m, nil
	})
	if err != nil {
		return domain.RepoMeta{}, err
	}
	return v.(domain.RepoMeta), nil
}

func (g *GitHub) commits(ctx context.Context, repo domain.RepoID, w domain.Window) ([]domain.Commit, bool, error) {
	q := url.Values{}
	q.Set("since", w.Since.Format(time.RFC3339))
	q.Set("until", w.Until.Format(time.RFC3339))
	out := make([]domain.Commit, 0, 16)
	truncated, err := paginate(ctx, g, g.repoURL(repo, "/commits", q), g.caps.Commits, &out,
		func(c ghCommit) (domain.Commit, bool, bool) {
			// Rebased commits keep an older author date, so the window is
			// checked on the committer date the API filtered by.
			committed := c.Commit.Committer.Date
			if committed == "" {
				committed = c.Commit.Author.Date
			}
			cat, ok := g.stamp(committed, "commit", c.SHA)
			if !ok || !w.Contains(cat) {
				return domain.Commit{}, false, false
			}
			at, err := domain.ParseUTC(c.Commit.Author.Date)
			if err != nil {
				at = cat
			}
			author := c.Commit.Author.Name
			if c.Author != nil && c.Author.Login != "" {
				author = c.Author.Login
			}
			return domain.Commit{
				SHA:     c.SHA,
				Message: firstLine(c.Commit.Message),
				Author:  author,
				Date:    at,
				URL:     c.HTMLURL,
			}, true, false
		})
	return out, truncated, err
}

func (g *GitHub) pulls(ctx context.Context, repo domain.RepoID, w domain.Window) ([]domain.PullRequest, bool, error) {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("sort", "updated")
	q.Set("direction", "desc")
	out := make([]domain.PullRequest, 0, 8)
	truncated, err := paginate(ctx, g, g.repoURL(repo, "/pulls", q), g.caps.PullRequests, &out,
		func(p ghIssue) (domain.PullRequest, bool, bool) {
			updated, ok := g.stamp(p.UpdatedAt, "pull", strconv.Itoa(p.Number))
			if !ok {
				return domain.PullRequest{}, false, false
			}
			// Sorted by update time: everything after this is older than the window.
			if updated.Before(w.Since) {
				return domain.PullRequest{}, false, true
			}
			if !w.Contains(updated) {
				return domain.PullRequest{}, false, false
			}
			created, _ := domain.ParseUTC(p.CreatedAt)
			return domain.PullRequest{
				Number:    p.Number,
				Title:     p.Title,
				Author:    p.User.Login,
				State:     p.State,
				CreatedAt: created,
				UpdatedAt: updated,
				URL:       p.HTMLURL,
			}, true, false
		})
	return out, truncated, err
}

func (g *GitHub) issues(ctx context.Context, repo domain.RepoID, w domain.Window) ([]domain.Issue, bool, error) {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("sort", "updated")
	q.Set("direction", "desc")
	q.Set("since", w.Since.Format(time.RFC3339))
	out := make([]domain.Issue, 0, 8)
	truncated, err := paginate(ctx, g, g.repoURL(repo, "/issues", q), g.caps.Issues, &out,
		func(is ghIssue) (domain.Issue, bool, bool) {
			// The issues endpoint also lists pull requests.
			if is.PullRequest != nil {
				return domain.Issue{}, false, false
			}
			updated, ok := g.stamp(is.UpdatedAt, "issue", strconv.Itoa(is.Number))
			if !ok || !w.Contains(updated) {
				return domain.Issue{}, false, false
			}
			created, _ := domain.ParseUTC(is.CreatedAt)
			labels := make([]string, 0, len(is.Labels))
			for _, l := range is.Labels {
				labels = append(labels, l.Name)
			}
			return domain.Issue{
				Number:    is.Number,
				Title:     is.Title,
				Author:    is.User.Login,
				State:     is.State,
				CreatedAt: created,
				UpdatedAt: updated,
				Labels:    labels,
				URL:       is.HTMLURL,
			}, true, false
		})
	return out, truncated, err
}

func (g *GitHub) releases(ctx context.Context, repo domain.RepoID, w domain.Window) ([]domain.Release, bool, error) {
	out := make([]domain.Release, 0, 4)
	truncated, err := paginate(ctx, g, g.repoURL(repo, "/releases", url.Values{}), g.caps.Releases, &out,
		func(r ghRelease) (domain.Release, bool, bool) {
			if r.Draft || r.PublishedAt == "" {
				return domain.Release{}, false, false
			}
			at, ok := g.stamp(r.PublishedAt, "release", r.TagName)
			if !ok || !w.Contains(at) {
				return domain.Release{}, false, false
			}
			return domain.Release{
				TagName:     r.TagName,
				Name:        r.Name,
				Author:      r.Author.Login,
				PublishedAt: at,
				Prerelease:  r.Prerelease,
				Draft:       r.Draft,
				URL:         r.HTMLURL,
			}, true, false
		})
	return out, truncated, err
}

// stamp parses an upstream timestamp. Unparseable records are dropped here
// so nothing downstream ever compares an invalid time.
func (g *GitHub) stamp(raw, kind, id string) (domain.UTCTime, bool) {
	t, err := domain.ParseUTC(raw)
	if err != nil {
		g.log.Debug("dropping record with bad timestamp",
			logx.String("kind", kind), logx.String("id", id), logx.String("raw", raw))
		return domain.UTCTime{}, false
	}
	return t, true
}

func (g *GitHub) repoURL(repo domain.RepoID, path string, q url.Values) string {
	u := g.base + "/repos/" + url.PathEscape(repo.Owner()) + "/" + url.PathEscape(repo.Name()) + path
	if q == nil {
		return u
	}
	q.Set("per_page", strconv.Itoa(g.perPage))
	return u + "?" + q.Encode()
}

// paginate walks Link rel="next" pages, mapping each raw item through keep.
// keep returns (record, include, stop). Once limit records are collected the
// walk stops; the result is truncated if another matching record is seen on
// the current page or a further page exists.
func paginate[R any, T any](ctx context.Context, g *GitHub, first string, limit int, out *[]T, keep func(R) (T, bool, bool)) (bool, error) {
	next := first
	for next != "" {
		var page []R
		hdr, err := g.getJSON(ctx, next, &page)
		if err != nil {
			return false, err
		}
		next = nextLink(hdr)
		for _, raw := range page {
			rec, ok, stop := keep(raw)
			if stop {
				return false, nil
			}
			if !ok {
				continue
			}
			if len(*out) >= limit {
				return true, nil
			}
			*out = append(*out, rec)
		}
		if len(*out) >= limit && next != "" {
			return true, nil
		}
	}
	return false, nil
}

func (g *GitHub) getJSON(ctx context.Context, rawURL string, v any) (http.Header, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, transient(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", httpx.UserAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, g.now()); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, err
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, httpx.MaxBodyBytes)).Decode(v); err != nil {
		return nil, transient(fmt.Errorf("decode %s: %w", req.URL.Path, err))
	}
	return resp.Header, nil
}

// classifyStatus maps a GitHub response onto the source error taxonomy.
func classifyStatus(resp *http.Response, now time.Time) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusTooManyRequests, code == http.StatusForbidden && isRateLimit(resp.Header):
		// GitHub reports primary and secondary rate limits as 403.
		return &RateLimitedError{RetryAfter: retryAfter(resp.Header, now)}
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", code, ErrAccessDenied)
	case code >= 500:
		return transient(fmt.Errorf("upstream status %d", code))
	default:
		return transient(fmt.Errorf("unexpected status %d", code))
	}
}

// isRateLimit tells a rate-limited 403 from a permission error.
func isRateLimit(h http.Header) bool {
	return strings.TrimSpace(h.Get("X-RateLimit-Remaining")) == "0" || h.Get("Retry-After") != ""
}

func retryAfter(h http.Header, now time.Time) time.Duration {
	if s := strings.TrimSpace(h.Get("Retry-After")); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(s); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	if s := strings.TrimSpace(h.Get("X-RateLimit-Reset")); s != "" {
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d.Round(time.Second)
			}
		}
	}
	return 0
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(h http.Header) string {
	if h == nil {
		return ""
	}
	for _, part := range strings.Split(h.Get("Link"), ",") {
		seg := strings.Split(part, ";")
		if len(seg) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(seg[0]), "<>")
		for _, p := range seg[1:] {
			if strings.TrimSpace(p) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(s, "\n")
	return strings.TrimSpace(s)
}
