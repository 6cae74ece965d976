package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/deskmind-ai/deskmind/internal/config"
)

// fakeChat records what the sender hands to the Bot API.
type fakeChat struct {
	mu     sync.Mutex
	sent   []tgbotapi.MessageConfig
	reject int // fail the next n sends
}

func (f *fakeChat) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject > 0 {
		f.reject--
		return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities")
	}
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable type")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeChat) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tgbotapi.MessageConfig, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestTelegramSendRendersHTML(t *testing.T) {
	chat := &fakeChat{}
	tg := &Telegram{bot: chat, chatID: 77}

	err := tg.Send(context.Background(), Message{
		Title: "Approval required",
		Body:  "Waiting to run:\n```\nmake deploy\n```",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	msgs := chat.messages()
	if len(msgs) != 1 {
		t.Fatalf("sends = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ChatID != 77 {
		t.Errorf("ChatID = %d, want 77", m.ChatID)
	}
	if m.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("ParseMode = %q, want %q", m.ParseMode, tgbotapi.ModeHTML)
	}
	if !strings.Contains(m.Text, "<b>Approval required</b>") {
		t.Errorf("Text = %q, missing bold title", m.Text)
	}
	if !strings.Contains(m.Text, "<pre>") || !strings.Contains(m.Text, "make deploy") {
		t.Errorf("Text = %q, missing rendered command block", m.Text)
	}
}

func TestTelegramSendPlainFallback(t *testing.T) {
	chat := &fakeChat{reject: 1}
	tg := &Telegram{bot: chat, chatID: 5}

	if err := tg.Send(context.Background(), Message{Title: "Hi", Body: "**there**"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	msgs := chat.messages()
	if len(msgs) != 1 {
		t.Fatalf("sends recorded = %d, want 1 (the fallback)", len(msgs))
	}
	if msgs[0].ParseMode != "" {
		t.Errorf("fallback ParseMode = %q, want plain", msgs[0].ParseMode)
	}
	if want := "Hi\n\n**there**"; msgs[0].Text != want {
		t.Errorf("fallback Text = %q, want %q", msgs[0].Text, want)
	}
}

func TestTelegramSendBothRejected(t *testing.T) {
	chat := &fakeChat{reject: 2}
	tg := &Telegram{bot: chat, chatID: 5}

	if err := tg.Send(context.Background(), Message{Title: "Hi", Body: "x"}); err == nil {
		t.Fatal("expected an error when both sends fail")
	}
}

func TestNewTelegramUnconfigured(t *testing.T) {
	tg, err := NewTelegram(config.TelegramNotify{})
	if err != nil {
		t.Fatalf("NewTelegram returned error: %v", err)
	}
	if tg != nil {
		t.Fatal("expected nil sender without credentials")
	}

	// A token without a chat id is equally unusable.
	tg, err = NewTelegram(config.TelegramNotify{Token: "123:abc"})
	if err != nil || tg != nil {
		t.Fatalf("got (%v, %v), want (nil, nil) without a chat id", tg, err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"hello world", 5, "hello…"},
		{"héllo", 2, "h…"}, // never cuts inside a rune
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
