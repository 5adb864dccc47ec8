package render

import (
	"encoding/json"

	"sentinel/internal/domain"
)

// Envelope is the JSON wire shape of a report.
type Envelope struct {
	Version   int            `json:"version"`
	ReportKey string         `json:"report_key"`
	Title     string         `json:"title"`
	Total     int            `json:"total"`
	Report    *domain.Report `json:"report"`
}

func JSON(r *domain.Report) ([]byte, error) {
	return json.Marshal(Envelope{
		Version:   1,
		ReportKey: r.Key.String(),
		Title:     r.Title(),
		Total:     r.Total(),
		Report:    r,
	})
}
