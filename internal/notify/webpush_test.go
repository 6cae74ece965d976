package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/deskmind-ai/deskmind/internal/config"
	"github.com/deskmind-ai/deskmind/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testWebPushConfig(t *testing.T) config.WebPushNotify {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}
	return config.WebPushNotify{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriber:      "mailto:ops@example.com",
	}
}

// seedSubscription stores a structurally valid browser subscription
// pointing at endpoint.
func seedSubscription(t *testing.T, st *store.Store, endpoint string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate subscription key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}
	sub := webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	if err := st.SetSetting(context.Background(), store.SettingPushSubscription, string(raw)); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

func TestWebPushDelivers(t *testing.T) {
	var (
		mu   sync.Mutex
		hits []http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedSubscription(t, st, srv.URL)
	w := NewWebPush(testWebPushConfig(t), st, nil)
	if w == nil {
		t.Fatal("NewWebPush returned nil with full config")
	}

	if err := w.Send(context.Background(), Message{Title: "Hi", Body: "there"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 1 {
		t.Fatalf("push endpoint hits = %d, want 1", len(hits))
	}
	h := hits[0]
	if got := h.Get("Authorization"); !strings.HasPrefix(got, "vapid ") {
		t.Errorf("Authorization = %q, want a vapid header", got)
	}
	if got := h.Get("TTL"); got != "60" {
		t.Errorf("TTL = %q, want 60", got)
	}
	if got := h.Get("Content-Encoding"); got != "aes128gcm" {
		t.Errorf("Content-Encoding = %q, want aes128gcm", got)
	}
}

func TestWebPushNoSubscription(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	st := newTestStore(t)
	w := NewWebPush(testWebPushConfig(t), st, nil)

	if err := w.Send(context.Background(), Message{Title: "Hi"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("push endpoint hits = %d without a subscription, want 0", n)
	}
}

func TestWebPushClearsGoneSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedSubscription(t, st, srv.URL)
	w := NewWebPush(testWebPushConfig(t), st, nil)

	if err := w.Send(context.Background(), Message{Title: "Hi"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	_, ok, err := st.GetSetting(context.Background(), store.SettingPushSubscription)
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if ok {
		t.Error("gone subscription still stored")
	}
}

func TestWebPushEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	st := newTestStore(t)
	seedSubscription(t, st, srv.URL)
	w := NewWebPush(testWebPushConfig(t), st, nil)

	if err := w.Send(context.Background(), Message{Title: "Hi"}); err == nil {
		t.Fatal("expected an error from a failing endpoint")
	}
	// Transient failures keep the subscription.
	if _, ok, _ := st.GetSetting(context.Background(), store.SettingPushSubscription); !ok {
		t.Error("subscription dropped on a transient failure")
	}
}

func TestNewWebPushUnconfigured(t *testing.T) {
	if w := NewWebPush(config.WebPushNotify{}, newTestStore(t), nil); w != nil {
		t.Fatal("expected nil sender without VAPID keys")
	}
}
