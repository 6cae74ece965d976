// Package notify pushes attention messages through out-of-band
// channels (Telegram, web push) when no frontend client is connected
// to see the event stream.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deskmind-ai/deskmind/internal/event"
)

// sendTimeout bounds one notification delivery across all channels.
const sendTimeout = 15 * time.Second

// Message is one attention notification. Body is markdown; each sender
// renders or degrades it as its channel allows.
type Message struct {
	Title string
	Body  string
}

// Sender delivers a notification over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Notifier decorates an event publisher. Every event flows through to
// the wrapped publisher unchanged; the ones that warrant attention are
// additionally pushed through the senders, but only while presence
// reports zero connected clients.
type Notifier struct {
	next     event.Publisher
	presence func() int
	senders  []Sender
	logger   *slog.Logger
}

// New wraps next. presence is typically the hub's ClientCount.
func New(next event.Publisher, presence func() int, senders []Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		next:     next,
		presence: presence,
		senders:  senders,
		logger:   logger.With("component", "notify"),
	}
}

// Publish forwards e and fires a notification when e warrants attention
// and nobody is connected to see it.
func (n *Notifier) Publish(e event.Event) {
	n.next.Publish(e)
	if len(n.senders) == 0 {
		return
	}
	msg, ok := messageFor(e)
	if !ok || n.presence() > 0 {
		return
	}
	go n.deliver(msg)
}

func (n *Notifier) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.Warn("notification failed",
				"sender", s.Name(), "title", msg.Title, "error", err)
		}
	}
}

// messageFor maps an event to its notification. A command or session
// waiting on approval, a background command finishing, and a completed
// response each earn one; everything else stays on the event stream.
func messageFor(e event.Event) (Message, bool) {
	switch ev := e.(type) {
	case event.TerminalApprovalRequest:
		return Message{
			Title: "Approval required",
			Body:  fmt.Sprintf("Waiting to run:\n```\n%s\n```", ev.Command),
		}, true
	case event.TerminalSessionRequest:
		body := "The assistant asked for an unattended terminal session."
		if ev.Reason != "" {
			body += "\n\nReason: " + ev.Reason
		}
		return Message{Title: "Terminal session requested", Body: body}, true
	case event.TerminalCommandComplete:
		if !ev.Background {
			return Message{}, false
		}
		return Message{
			Title: "Background command finished",
			Body: fmt.Sprintf("`%s` exited with code %d after %s.",
				ev.Command, ev.ExitCode, formatDuration(ev.DurationMs)),
		}, true
	case event.ResponseComplete:
		if strings.TrimSpace(ev.Content) == "" {
			return Message{}, false
		}
		return Message{Title: "Assistant replied", Body: ev.Content}, true
	}
	return Message{}, false
}

func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d >= time.Second {
		d = d.Round(time.Second)
	}
	return d.String()
}

// truncate cuts s at max bytes on a rune boundary, marking the cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
