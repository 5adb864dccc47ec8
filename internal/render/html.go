package render

import (
	"bytes"
	"html/template"

	"sentinel/internal/domain"
)

var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"clean":    Clean,
	"short":    ShortSHA,
	"trunc":    Truncate,
	"title":    KindTitle,
	"date":     func(t domain.UTCTime) string { return t.Format("2006-01-02 15:04 UTC") },
	"count":    func(r *domain.Report, k domain.EventKind) int { return r.Counts[k] },
	"commits":  func(r *domain.Report) []domain.Commit { return head(r.Samples.Commits, MarkdownItems) },
	"pulls":    func(r *domain.Report) []domain.PullRequest { return head(r.Samples.PullRequests, MarkdownItems) },
	"issues":   func(r *domain.Report) []domain.Issue { return head(r.Samples.Issues, MarkdownItems) },
	"releases": func(r *domain.Report) []domain.Release { return head(r.Samples.Releases, MarkdownItems) },
}).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family:sans-serif">
<h1>{{.Title}}</h1>
{{with clean .Meta.Description}}<p>{{.}}</p>{{end}}
<p>&#9733; {{.Meta.Stars}} &middot; forks {{.Meta.Forks}} &middot; open issues {{.Meta.OpenIssues}}{{with .Meta.Language}} &middot; {{.}}{{end}}</p>
<h2>Summary</h2>
<ul>{{$r := .}}{{range .Kinds}}<li>{{title .}}: {{count $r .}}</li>{{end}}</ul>
{{if .Truncated}}<p><em>Results were truncated by the source; counts are lower bounds.</em></p>{{end}}
{{with commits .}}<h2>Recent Commits</h2><ul>{{range .}}<li><a href="{{.URL}}"><code>{{short .SHA}}</code></a> {{trunc (clean .Message) 80}} ({{clean .Author}})</li>{{end}}</ul>{{end}}
{{with pulls .}}<h2>Recent Pull Requests</h2><ul>{{range .}}<li><a href="{{.URL}}">#{{.Number}}</a> {{clean .Title}} [{{.State}}] ({{clean .Author}})</li>{{end}}</ul>{{end}}
{{with issues .}}<h2>Recent Issues</h2><ul>{{range .}}<li><a href="{{.URL}}">#{{.Number}}</a> {{clean .Title}} [{{.State}}] ({{clean .Author}})</li>{{end}}</ul>{{end}}
{{with releases .}}<h2>Releases</h2><ul>{{range .}}<li><a href="{{.URL}}">{{.TagName}}</a> {{clean .Name}}{{if .Prerelease}} (pre-release){{end}}, {{date .PublishedAt}}</li>{{end}}</ul>{{end}}
{{if eq .Total 0}}<p>No activity in this period.</p>{{end}}
<p style="color:#888">Generated {{date .GeneratedAt}}</p>
</body></html>
`))

// HTML renders the report as a standalone HTML document. All upstream text
// is stripped of markup and escaped.
func HTML(r *domain.Report) (string, error) {
	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}
