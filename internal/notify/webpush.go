package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/deskmind-ai/deskmind/internal/config"
	"github.com/deskmind-ai/deskmind/internal/store"
)

// webpushBodyLen keeps the encrypted payload well under the 4 KB push
// services accept.
const webpushBodyLen = 1000

// SubscriptionStore persists the frontend's push subscription between
// runs. *store.Store implements it.
type SubscriptionStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	DeleteSetting(ctx context.Context, key string) error
}

// WebPush sends browser push notifications signed with the configured
// VAPID key pair. The subscription is whatever the frontend last parked
// in settings via push_subscribe.
type WebPush struct {
	cfg      config.WebPushNotify
	settings SubscriptionStore
	logger   *slog.Logger
}

// NewWebPush returns nil when the VAPID key pair is not configured.
func NewWebPush(cfg config.WebPushNotify, settings SubscriptionStore, logger *slog.Logger) *WebPush {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebPush{cfg: cfg, settings: settings, logger: logger.With("component", "webpush")}
}

func (w *WebPush) Name() string { return "webpush" }

// Send pushes the message to the stored subscription. No subscription
// means nothing to do; an endpoint reporting the subscription gone
// (404/410) clears the stored value so we stop pushing at nothing.
func (w *WebPush) Send(ctx context.Context, msg Message) error {
	raw, ok, err := w.settings.GetSetting(ctx, store.SettingPushSubscription)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if !ok {
		return nil
	}
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"title": msg.Title,
		"body":  truncate(msg.Body, webpushBodyLen),
	})
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		TTL:             60,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		if err := w.settings.DeleteSetting(ctx, store.SettingPushSubscription); err != nil {
			w.logger.Warn("clear stale push subscription", "error", err)
		} else {
			w.logger.Info("push subscription gone, cleared")
		}
		return nil
	case resp.StatusCode >= http.StatusMultipleChoices:
		return fmt.Errorf("push endpoint returned %s", resp.Status)
	}
	return nil
}
