package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sentinel/internal/config"
	"sentinel/internal/httpx"
	"sentinel/internal/notify"
	"sentinel/internal/storage"
)

// buildChannels returns one adapter per usable channel kind. Webhook kinds
// need no credentials and are always present; email and telegram only when
// configured.
func buildChannels(cfg *config.Config) ([]notify.Channel, error) {
	cc := cfg.Channels
	chatTimeout, err := config.ParseDurationOrDefault("channels.chat_webhook.timeout", cc.ChatWebhook.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	hookTimeout, err := config.ParseDurationOrDefault("channels.webhook.timeout", cc.Webhook.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}

	out := []notify.Channel{
		notify.NewChatWebhook(httpx.NewClient(chatTimeout, cc.ChatWebhook.SSRFGuard)),
		notify.NewWebhook(httpx.NewClient(hookTimeout, cc.Webhook.SSRFGuard)),
	}
	if strings.TrimSpace(cc.Email.Host) != "" {
		out = append(out, notify.NewEmail(notify.EmailConfig{
			Host:     cc.Email.Host,
			Port:     cc.Email.Port,
			Username: cc.Email.Username,
			Password: cc.Email.Password,
			From:     cc.Email.From,
		}))
	}
	if strings.TrimSpace(cc.Telegram.Token) != "" {
		tgTimeout, err := config.ParseDurationOrDefault("channels.telegram.timeout", cc.Telegram.Timeout, 15*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := notify.NewTelegram(notify.TelegramOptions{
			Token:  cc.Telegram.Token,
			Client: httpx.NewClient(tgTimeout, false),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, tg)
	}
	return out, nil
}

// buildLedger picks the delivery dedup ledger. The returned close func is
// never nil.
func buildLedger(cfg *config.Config, store storage.Store) (notify.Ledger, func() error, error) {
	noop := func() error { return nil }
	dc := cfg.Dispatcher
	switch strings.ToLower(strings.TrimSpace(dc.Ledger)) {
	case "", "sql":
		// The memory store keeps its own marks, so it serves here too.
		return store, noop, nil
	case "memory":
		return notify.NewMemoryLedger(0), noop, nil
	case "redis":
		ttl, err := config.ParseDurationOrDefault("dispatcher.redis.ttl", dc.Redis.TTL, 720*time.Hour)
		if err != nil {
			return nil, noop, err
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     dc.Redis.Addr,
			Password: dc.Redis.Password,
			DB:       dc.Redis.DB,
		})
		return notify.NewRedisLedger(rdb, ttl), rdb.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown dispatcher.ledger: %s", dc.Ledger)
	}
}
