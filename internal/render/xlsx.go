package render

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"sentinel/internal/domain"
)

const summarySheet = "Summary"

// XLSX renders the report as a workbook: a summary sheet plus one sheet per
// non-empty sample category.
func XLSX(r *domain.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		return nil, fmt.Errorf("render: create summary sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("render: delete default sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("render: header style: %w", err)
	}

	rows := [][]any{
		{"Repository", string(r.Repo)},
		{"Window start", r.Window.Since.Format("2006-01-02 15:04:05")},
		{"Window end", r.Window.Until.Format("2006-01-02 15:04:05")},
		{"Stars", r.Meta.Stars},
		{"Forks", r.Meta.Forks},
		{"Open issues", r.Meta.OpenIssues},
		{"Truncated", r.Truncated},
		{},
		{"Category", "Count"},
	}
	for _, k := range r.Kinds() {
		rows = append(rows, []any{KindTitle(k), r.Counts[k]})
	}
	if err := writeRows(f, summarySheet, rows); err != nil {
		return nil, err
	}
	_ = f.SetCellStyle(summarySheet, "A9", "B9", header)
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "B", 30)

	if len(r.Samples.Commits) > 0 {
		rows := [][]any{{"SHA", "Message", "Author", "Date", "URL"}}
		for _, c := range r.Samples.Commits {
			rows = append(rows, []any{ShortSHA(c.SHA), Clean(c.Message), Clean(c.Author), c.Date.Format("2006-01-02 15:04"), c.URL})
		}
		if err := addSheet(f, "Commits", rows, header); err != nil {
			return nil, err
		}
	}
	if len(r.Samples.PullRequests) > 0 {
		rows := [][]any{{"Number", "Title", "Author", "State", "Updated", "URL"}}
		for _, p := range r.Samples.PullRequests {
			rows = append(rows, []any{p.Number, Clean(p.Title), Clean(p.Author), p.State, p.UpdatedAt.Format("2006-01-02 15:04"), p.URL})
		}
		if err := addSheet(f, "Pull Requests", rows, header); err != nil {
			return nil, err
		}
	}
	if len(r.Samples.Issues) > 0 {
		rows := [][]any{{"Number", "Title", "Author", "State", "Updated", "URL"}}
		for _, is := range r.Samples.Issues {
			rows = append(rows, []any{is.Number, Clean(is.Title), Clean(is.Author), is.State, is.UpdatedAt.Format("2006-01-02 15:04"), is.URL})
		}
		if err := addSheet(f, "Issues", rows, header); err != nil {
			return nil, err
		}
	}
	if len(r.Samples.Releases) > 0 {
		rows := [][]any{{"Tag", "Name", "Published", "Pre-release", "URL"}}
		for _, rel := range r.Samples.Releases {
			rows = append(rows, []any{rel.TagName, Clean(rel.Name), rel.PublishedAt.Format("2006-01-02 15:04"), rel.Prerelease, rel.URL})
		}
		if err := addSheet(f, "Releases", rows, header); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("render: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func addSheet(f *excelize.File, name string, rows [][]any, header int) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("render: create sheet %s: %w", name, err)
	}
	if err := writeRows(f, name, rows); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(rows[0]), 1)
	_ = f.SetCellStyle(name, "A1", last, header)
	_ = f.SetColWidth(name, "B", "B", 60)
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("render: set %s!%s: %w", sheet, cell, err)
			}
		}
	}
	return nil
}
