package capture

import (
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/deskmind-ai/deskmind/internal/event"
)

// Screenshot is one image attached to the next query. Data is
// base64-encoded PNG.
type Screenshot struct {
	ID        string
	MediaType string
	Data      string
}

// Registry holds the screenshots attached to the pending query and
// mirrors every change to connected clients.
type Registry struct {
	events event.Publisher
	logger *slog.Logger

	mu    sync.Mutex
	shots []Screenshot
}

// NewRegistry creates an empty registry.
func NewRegistry(events event.Publisher, logger *slog.Logger) *Registry {
	return &Registry{
		events: events,
		logger: logger.With("component", "capture"),
	}
}

// Attach normalizes raw image bytes, stores the result, and announces
// it. The returned screenshot carries the assigned id.
func (r *Registry) Attach(raw []byte) (Screenshot, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return Screenshot{}, err
	}
	shot := Screenshot{
		ID:        uuid.NewString(),
		MediaType: "image/png",
		Data:      base64.StdEncoding.EncodeToString(normalized),
	}

	r.mu.Lock()
	r.shots = append(r.shots, shot)
	count := len(r.shots)
	r.mu.Unlock()

	r.logger.Debug("screenshot attached", "id", shot.ID, "attached", count)
	r.events.Publish(event.ScreenshotAttached{ID: shot.ID, Data: shot.Data})
	return shot, nil
}

// Remove detaches one screenshot by id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	found := false
	for i, shot := range r.shots {
		if shot.ID == id {
			r.shots = append(r.shots[:i], r.shots[i+1:]...)
			found = true
			break
		}
	}
	r.mu.Unlock()

	if found {
		r.events.Publish(event.ScreenshotRemoved{ID: id})
	} else {
		r.logger.Debug("screenshot not found", "id", id)
	}
	return found
}

// List returns a snapshot of the attached screenshots in attach order.
func (r *Registry) List() []Screenshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Screenshot, len(r.shots))
	copy(out, r.shots)
	return out
}

// Count returns how many screenshots are attached.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shots)
}

// Clear detaches everything, announcing each removal so clients drop
// their chips. Used after attachments are embedded into history and on
// context clear.
func (r *Registry) Clear() int {
	r.mu.Lock()
	cleared := r.shots
	r.shots = nil
	r.mu.Unlock()

	for _, shot := range cleared {
		r.events.Publish(event.ScreenshotRemoved{ID: shot.ID})
	}
	return len(cleared)
}

// ReplayEvents returns the attach events a newly connected client
// needs to reconstruct the current attachment list.
func (r *Registry) ReplayEvents() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.shots))
	for i, shot := range r.shots {
		out[i] = event.ScreenshotAttached{ID: shot.ID, Data: shot.Data}
	}
	return out
}
