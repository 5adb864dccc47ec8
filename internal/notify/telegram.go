package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"sentinel/internal/domain"
	"sentinel/internal/render"
)

const telegramTextLimit = 4096

// Telegram sends the report to a chat id or @channel username.
type Telegram struct {
	bot *tele.Bot
}

type TelegramOptions struct {
	Token  string
	APIURL string // defaults to the public Bot API
	Client *http.Client
}

func NewTelegram(opt TelegramOptions) (*Telegram, error) {
	if strings.TrimSpace(opt.Token) == "" {
		return nil, fmt.Errorf("telegram: %w", ErrUnconfigured)
	}
	// Offline skips getMe; the bot only sends.
	b, err := tele.NewBot(tele.Settings{
		Token:   opt.Token,
		URL:     opt.APIURL,
		Client:  opt.Client,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Kind() domain.ChannelKind { return domain.ChannelTelegram }

type chatRecipient string

func (c chatRecipient) Recipient() string { return string(c) }

func parseChat(target string) (tele.Recipient, error) {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "@") && len(target) > 1 {
		return chatRecipient(target), nil
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad chat %q", target)
	}
	return tele.ChatID(id), nil
}

func (t *Telegram) Send(ctx context.Context, r *domain.Report, target string) error {
	to, err := parseChat(target)
	if err != nil {
		return Permanent(fmt.Errorf("telegram: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Escaping can grow the text, so leave headroom under the API limit.
	text := html.EscapeString(render.Truncate(render.Markdown(r), telegramTextLimit*3/4))

	// telebot takes no context; the client timeout ends an abandoned call.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(to, text, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case err = <-done:
	case <-ctx.Done():
		return fmt.Errorf("telegram: %w", ctx.Err())
	}
	if err != nil {
		return classifyTelegram(err)
	}
	return nil
}

func classifyTelegram(err error) error {
	var te *tele.Error
	if errors.As(err, &te) {
		switch te.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return Permanent(fmt.Errorf("telegram: %w", err))
		}
	}
	return fmt.Errorf("telegram: %w", err)
}
