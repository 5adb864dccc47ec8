package render

import (
	"fmt"
	"strings"

	"sentinel/internal/domain"
)

const (
	// MarkdownItems is how many entries of each category the text reports list.
	MarkdownItems = 5
	messageWidth  = 80
)

var kindTitles = map[domain.EventKind]string{
	domain.KindCommit:      "Commits",
	domain.KindPullRequest: "Pull Requests",
	domain.KindIssue:       "Issues",
	domain.KindRelease:     "Releases",
}

func KindTitle(k domain.EventKind) string { return kindTitles[k] }

// Markdown renders the report for chat channels and plain-text email.
func Markdown(r *domain.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Title())

	m := r.Meta
	if d := Clean(m.Description); d != "" {
		fmt.Fprintf(&b, "%s\n\n", d)
	}
	fmt.Fprintf(&b, "**Stars:** %d | **Forks:** %d | **Open issues:** %d", m.Stars, m.Forks, m.OpenIssues)
	if m.Language != "" {
		fmt.Fprintf(&b, " | **Language:** %s", m.Language)
	}
	b.WriteString("\n\n## Summary\n\n")
	for _, k := range r.Kinds() {
		fmt.Fprintf(&b, "- %s: %d\n", kindTitles[k], r.Counts[k])
	}
	if r.Truncated {
		b.WriteString("\n_Results were truncated by the source; counts are lower bounds._\n")
	}

	if len(r.Samples.Commits) > 0 {
		b.WriteString("\n## Recent Commits\n\n")
		for _, c := range head(r.Samples.Commits, MarkdownItems) {
			fmt.Fprintf(&b, "- `%s` %s (%s)\n", ShortSHA(c.SHA), Truncate(Clean(c.Message), messageWidth), Clean(c.Author))
		}
	}
	if len(r.Samples.PullRequests) > 0 {
		b.WriteString("\n## Recent Pull Requests\n\n")
		for _, p := range head(r.Samples.PullRequests, MarkdownItems) {
			fmt.Fprintf(&b, "- #%d %s [%s] (%s)\n", p.Number, Truncate(Clean(p.Title), messageWidth), p.State, Clean(p.Author))
		}
	}
	if len(r.Samples.Issues) > 0 {
		b.WriteString("\n## Recent Issues\n\n")
		for _, is := range head(r.Samples.Issues, MarkdownItems) {
			fmt.Fprintf(&b, "- #%d %s [%s] (%s)\n", is.Number, Truncate(Clean(is.Title), messageWidth), is.State, Clean(is.Author))
		}
	}
	if len(r.Samples.Releases) > 0 {
		b.WriteString("\n## Releases\n\n")
		for _, rel := range head(r.Samples.Releases, MarkdownItems) {
			name := Clean(rel.Name)
			if name == "" {
				name = rel.TagName
			}
			suffix := ""
			if rel.Prerelease {
				suffix = " (pre-release)"
			}
			fmt.Fprintf(&b, "- %s: %s%s, %s\n", rel.TagName, name, suffix, rel.PublishedAt.Format("2006-01-02"))
		}
	}
	if r.Total() == 0 {
		b.WriteString("\nNo activity in this period.\n")
	}
	return b.String()
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
