package domain

type Commit struct {
	SHA     string  `json:"sha"`
	Message string  `json:"message"`
	Author  string  `json:"author"`
	Date    UTCTime `json:"date"`
	URL     string  `json:"url"`
}

type PullRequest struct {
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	State     string  `json:"state"`
	CreatedAt UTCTime `json:"created_at"`
	UpdatedAt UTCTime `json:"updated_at"`
	URL       string  `json:"url"`
}

type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	State     string   `json:"state"`
	CreatedAt UTCTime  `json:"created_at"`
	UpdatedAt UTCTime  `json:"updated_at"`
	Labels    []string `json:"labels,omitempty"`
	URL       string   `json:"url"`
}

type Release struct {
	TagName     string  `json:"tag_name"`
	Name        string  `json:"name"`
	Author      string  `json:"author"`
	PublishedAt UTCTime `json:"published_at"`
	Prerelease  bool    `json:"prerelease"`
	Draft       bool    `json:"draft"`
	URL         string  `json:"url"`
}

// ActivityBatch is everything a source returned for one repository and window.
type ActivityBatch struct {
	Repo         RepoID        `json:"repo"`
	Window       Window        `json:"window"`
	Commits      []Commit      `json:"commits"`
	PullRequests []PullRequest `json:"pull_requests"`
	Issues       []Issue       `json:"issues"`
	Releases     []Release     `json:"releases"`

	// Truncated is set when any category hit the source's result cap.
	Truncated bool `json:"truncated"`
}

func (b *ActivityBatch) Len(k EventKind) int {
	if b == nil {
		return 0
	}
	switch k {
	case KindCommit:
		return len(b.Commits)
	case KindPullRequest:
		return len(b.PullRequests)
	case KindIssue:
		return len(b.Issues)
	case KindRelease:
		return len(b.Releases)
	}
	return 0
}

// RepoMeta is a snapshot of repository metadata taken at report time.
type RepoMeta struct {
	FullName    string `json:"full_name"`
	Description string `json:"description,omitempty"`
	Stars       int    `json:"stars"`
	Forks       int    `json:"forks"`
	OpenIssues  int    `json:"open_issues"`
	Language    string `json:"language,omitempty"`
	URL         string `json:"url,omitempty"`
}
