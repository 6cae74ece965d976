package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/net/html"

	"github.com/deskmind-ai/deskmind/internal/config"
)

const (
	// Telegram caps messages at 4096 chars. The body is cut before
	// rendering so a split never lands inside a tag; the headroom
	// absorbs whatever the tags add.
	telegramMaxLen  = 4000
	telegramBodyLen = 3500
)

// chatSender is the slice of tgbotapi.BotAPI the sender needs, so tests
// can record sends without a live bot.
type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram pushes notifications to a single chat through a bot.
type Telegram struct {
	bot    chatSender
	chatID int64
}

// NewTelegram connects to the Bot API. It returns (nil, nil) when no
// token or chat is configured so the caller can skip the channel.
func NewTelegram(cfg config.TelegramNotify) (*Telegram, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" || cfg.ChatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return &Telegram{bot: bot, chatID: cfg.ChatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Send renders the message as Telegram HTML and delivers it. HTML the
// API rejects is retried as plain text so the notification still lands.
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	text := "<b>" + html.EscapeString(msg.Title) + "</b>"
	if body := telegramHTML(truncate(msg.Body, telegramBodyLen)); body != "" {
		text += "\n\n" + body
	}

	m := tgbotapi.NewMessage(t.chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(m); err == nil {
		return nil
	}

	plain := tgbotapi.NewMessage(t.chatID, truncate(msg.Title+"\n\n"+msg.Body, telegramMaxLen))
	if _, err := t.bot.Send(plain); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
