package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"sync"
	"testing"

	"github.com/deskmind-ai/deskmind/internal/event"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) snapshot() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Event, len(p.events))
	copy(out, p.events)
	return out
}

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode normalized image: %v", err)
	}
	return cfg.Width, cfg.Height, format
}

func TestNormalizePassthroughSmallPNG(t *testing.T) {
	raw := makePNG(t, 10, 20)
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("small PNG should pass through unchanged")
	}
}

func TestNormalizeDownscalesWide(t *testing.T) {
	raw := makePNG(t, 4096, 512)
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	w, h, format := decodeSize(t, got)
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
	if w != 2048 {
		t.Errorf("width = %d, want 2048", w)
	}
	if h != 256 {
		t.Errorf("height = %d, want 256 (aspect preserved)", h)
	}
}

func TestNormalizeDownscalesTall(t *testing.T) {
	raw := makePNG(t, 100, 4096)
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	w, h, _ := decodeSize(t, got)
	if h != 2048 {
		t.Errorf("height = %d, want 2048", h)
	}
	if w != 50 {
		t.Errorf("width = %d, want 50 (aspect preserved)", w)
	}
}

func TestNormalizeConvertsJPEG(t *testing.T) {
	raw := makeJPEG(t, 40, 40)
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	_, _, format := decodeSize(t, got)
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	if _, err := Normalize([]byte("not an image")); err == nil {
		t.Error("Normalize() on garbage bytes should fail")
	}
}

func TestRegistryAttachAndList(t *testing.T) {
	pub := &recordingPublisher{}
	reg := NewRegistry(pub, testLogger())

	shot, err := reg.Attach(makePNG(t, 8, 8))
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if shot.ID == "" {
		t.Error("Attach() assigned no id")
	}
	if shot.MediaType != "image/png" {
		t.Errorf("media type = %q, want image/png", shot.MediaType)
	}
	if _, err := base64.StdEncoding.DecodeString(shot.Data); err != nil {
		t.Errorf("data is not valid base64: %v", err)
	}

	if got := reg.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	list := reg.List()
	if len(list) != 1 || list[0].ID != shot.ID {
		t.Errorf("List() = %+v, want the attached screenshot", list)
	}

	events := pub.snapshot()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	attached, ok := events[0].(event.ScreenshotAttached)
	if !ok {
		t.Fatalf("event = %T, want ScreenshotAttached", events[0])
	}
	if attached.ID != shot.ID {
		t.Errorf("event id = %q, want %q", attached.ID, shot.ID)
	}
}

func TestRegistryRemove(t *testing.T) {
	pub := &recordingPublisher{}
	reg := NewRegistry(pub, testLogger())
	shot, err := reg.Attach(makePNG(t, 8, 8))
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	if !reg.Remove(shot.ID) {
		t.Error("Remove() = false for an attached screenshot")
	}
	if reg.Remove(shot.ID) {
		t.Error("Remove() = true for an already-removed screenshot")
	}
	if got := reg.Count(); got != 0 {
		t.Errorf("Count() = %d after removal, want 0", got)
	}

	var removals int
	for _, e := range pub.snapshot() {
		if removed, ok := e.(event.ScreenshotRemoved); ok {
			removals++
			if removed.ID != shot.ID {
				t.Errorf("removal id = %q, want %q", removed.ID, shot.ID)
			}
		}
	}
	if removals != 1 {
		t.Errorf("published %d removal events, want 1", removals)
	}
}

func TestRegistryClearAnnouncesEachRemoval(t *testing.T) {
	pub := &recordingPublisher{}
	reg := NewRegistry(pub, testLogger())
	for i := 0; i < 3; i++ {
		if _, err := reg.Attach(makePNG(t, 4, 4)); err != nil {
			t.Fatalf("Attach() error = %v", err)
		}
	}

	if got := reg.Clear(); got != 3 {
		t.Errorf("Clear() = %d, want 3", got)
	}
	if got := reg.Count(); got != 0 {
		t.Errorf("Count() = %d after clear, want 0", got)
	}

	var removals int
	for _, e := range pub.snapshot() {
		if _, ok := e.(event.ScreenshotRemoved); ok {
			removals++
		}
	}
	if removals != 3 {
		t.Errorf("published %d removal events, want 3", removals)
	}
}

func TestRegistryReplayEvents(t *testing.T) {
	pub := &recordingPublisher{}
	reg := NewRegistry(pub, testLogger())
	first, err := reg.Attach(makePNG(t, 4, 4))
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	second, err := reg.Attach(makePNG(t, 4, 4))
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	replay := reg.ReplayEvents()
	if len(replay) != 2 {
		t.Fatalf("ReplayEvents() returned %d events, want 2", len(replay))
	}
	got0, ok := replay[0].(event.ScreenshotAttached)
	if !ok {
		t.Fatalf("replay[0] = %T, want ScreenshotAttached", replay[0])
	}
	got1 := replay[1].(event.ScreenshotAttached)
	if got0.ID != first.ID || got1.ID != second.ID {
		t.Errorf("replay order = [%s %s], want [%s %s]", got0.ID, got1.ID, first.ID, second.ID)
	}
}

func TestValidMode(t *testing.T) {
	tests := []struct {
		mode string
		want bool
	}{
		{"fullscreen", true},
		{"precision", true},
		{"none", true},
		{"window", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidMode(tt.mode); got != tt.want {
			t.Errorf("ValidMode(%q) = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestUnavailableCapturer(t *testing.T) {
	_, err := Unavailable{}.CaptureFullscreen(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}
