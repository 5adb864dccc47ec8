package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"sentinel/internal/domain"
	"sentinel/internal/render"
)

const (
	slackTextLimit   = 40000
	discordTextLimit = 2000
)

// ChatWebhook posts the Markdown rendering to an incoming chat webhook.
// Discord hosts get {"content": ...}; everything else gets Slack's {"text": ...}.
type ChatWebhook struct {
	client *http.Client
}

func NewChatWebhook(client *http.Client) *ChatWebhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatWebhook{client: client}
}

func (c *ChatWebhook) Kind() domain.ChannelKind { return domain.ChannelChatWebhook }

func (c *ChatWebhook) Send(ctx context.Context, r *domain.Report, target string) error {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Permanent(fmt.Errorf("chat_webhook: bad target url %q", target))
	}
	text := render.Markdown(r)

	var payload any
	if isDiscord(u.Hostname()) {
		payload = map[string]string{"content": render.Truncate(text, discordTextLimit)}
	} else {
		payload = map[string]string{"text": render.Truncate(text, slackTextLimit)}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Permanent(err)
	}
	if err := postJSON(ctx, c.client, u.String(), body, nil); err != nil {
		return fmt.Errorf("chat_webhook: %w", err)
	}
	return nil
}

func isDiscord(host string) bool {
	host = strings.ToLower(host)
	return host == "discord.com" || host == "discordapp.com" ||
		strings.HasSuffix(host, ".discord.com") || strings.HasSuffix(host, ".discordapp.com")
}
