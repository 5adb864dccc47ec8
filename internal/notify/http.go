package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"sentinel/internal/httpx"
)

// postJSON sends body and classifies the response: 2xx is success, 429 and
// 5xx are retryable, any other status is permanent.
func postJSON(ctx context.Context, c *http.Client, url string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", httpx.UserAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("post: status %d: %s", code, bytes.TrimSpace(snippet))
	default:
		return Permanent(fmt.Errorf("post: status %d: %s", code, bytes.TrimSpace(snippet)))
	}
}
