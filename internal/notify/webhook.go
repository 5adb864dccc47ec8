package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"sentinel/internal/domain"
	"sentinel/internal/render"
)

// ReportKeyHeader carries the report key so receivers can drop repeats.
const ReportKeyHeader = "X-Sentinel-Report-Key"

// Webhook POSTs the JSON rendering of a report.
type Webhook struct {
	client *http.Client
}

func NewWebhook(client *http.Client) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{client: client}
}

func (w *Webhook) Kind() domain.ChannelKind { return domain.ChannelWebhook }

func (w *Webhook) Send(ctx context.Context, r *domain.Report, target string) error {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Permanent(fmt.Errorf("webhook: bad target url %q", target))
	}
	body, err := render.JSON(r)
	if err != nil {
		return Permanent(fmt.Errorf("webhook: encode: %w", err))
	}
	h := http.Header{}
	h.Set(ReportKeyHeader, r.Key.String())
	if err := postJSON(ctx, w.client, u.String(), body, h); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
