// Package orchestrator drives the request lifecycle: it owns the
// in-memory conversation, gates concurrent submissions, runs the tool
// loop and the streaming final answer, and persists finished turns.
// Exactly one turn is in flight at a time; everything it learns is
// broadcast through the event bus so every attached frontend stays in
// sync.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/deskmind-ai/deskmind/internal/capture"
	"github.com/deskmind-ai/deskmind/internal/event"
	"github.com/deskmind-ai/deskmind/internal/llm"
	"github.com/deskmind-ai/deskmind/internal/retriever"
	"github.com/deskmind-ai/deskmind/internal/skills"
	"github.com/deskmind-ai/deskmind/internal/store"
	"github.com/deskmind-ai/deskmind/internal/terminal"
	"github.com/deskmind-ai/deskmind/internal/toolserver"
)

var (
	// ErrBusy rejects a submission while another turn is in flight.
	ErrBusy = errors.New("a request is already being processed")
	// ErrEmptyQuery rejects a blank submission.
	ErrEmptyQuery = errors.New("empty query")
)

const busyMessage = "A request is already being processed"

// Resolver routes a model selection to a concrete provider.
// *llm.Registry implements it.
type Resolver interface {
	Resolve(model string) (*llm.Resolved, error)
	DefaultModel() string
}

// Recorder captures audio and transcribes it on stop. The engine ships
// no implementation; desktop shells plug one in. A nil recorder makes
// the recording frames answer with an error event.
type Recorder interface {
	Start() error
	Stop() (string, error)
}

// Options wire an Orchestrator. Everything except Capturer, Recorder,
// Skills and Logger is required.
type Options struct {
	Events      event.Publisher
	Store       *store.Store
	Providers   Resolver
	Manager     *toolserver.Manager
	Terminal    *terminal.Service
	Retriever   *retriever.Retriever
	Skills      *skills.Registry
	Screenshots *capture.Registry
	Capturer    capture.Capturer
	Recorder    Recorder
	Logger      *slog.Logger
}

// historyEntry is one in-memory chat message, kept in the shape the
// providers will see on later turns.
type historyEntry struct {
	role      string
	content   string
	images    []string // base64 payloads, user messages only
	model     string   // assistant messages only
	timestamp float64
}

// Orchestrator serializes turns and fans their effects out to the
// event bus, the store, and the terminal subsystem.
type Orchestrator struct {
	logger    *slog.Logger
	events    event.Publisher
	store     *store.Store
	providers Resolver
	manager   *toolserver.Manager
	terminal  *terminal.Service
	retriever *retriever.Retriever
	skills    *skills.Registry
	shots     *capture.Registry
	capturer  capture.Capturer
	recorder  Recorder

	// baseCtx parents every turn so daemon shutdown cancels in-flight
	// work. Turns deliberately do not inherit the connection context of
	// the frame that started them; closing a browser tab must not kill
	// the request.
	baseCtx context.Context

	seq atomic.Uint64

	mu          sync.Mutex
	current     *RequestContext
	history     []historyEntry
	convID      string
	convTitle   string
	model       string
	captureMode string
}

// New builds an Orchestrator. ctx is the daemon context; cancelling it
// aborts any in-flight turn.
func New(ctx context.Context, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capturer := opts.Capturer
	if capturer == nil {
		capturer = capture.Unavailable{}
	}
	reg := opts.Skills
	if reg == nil {
		reg = skills.NewRegistry()
	}
	return &Orchestrator{
		logger:      logger.With("component", "orchestrator"),
		events:      opts.Events,
		store:       opts.Store,
		providers:   opts.Providers,
		manager:     opts.Manager,
		terminal:    opts.Terminal,
		retriever:   opts.Retriever,
		skills:      reg,
		shots:       opts.Screenshots,
		capturer:    capturer,
		recorder:    opts.Recorder,
		baseCtx:     ctx,
		captureMode: capture.ModeNone,
	}
}

// Busy reports whether a turn is currently in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil && !o.current.IsDone()
}

// SelectedModel returns the sticky model choice, falling back to the
// configured default.
func (o *Orchestrator) SelectedModel() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.model != "" {
		return o.model
	}
	return o.providers.DefaultModel()
}

// ConversationID returns the active conversation id, empty before the
// first turn is persisted.
func (o *Orchestrator) ConversationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.convID
}

// Submit starts a new turn. The turn runs on its own goroutine; Submit
// returns once it is accepted. A non-empty model becomes the sticky
// selection for this and later turns. An empty captureMode falls back
// to the mode set via SetCaptureMode.
func (o *Orchestrator) Submit(content, captureMode, model string) error {
	query := strings.TrimSpace(content)
	if query == "" {
		o.events.Publish(event.Error{Message: "Empty query"})
		return ErrEmptyQuery
	}

	forced, cleaned := o.skills.ParseSlashPrefix(query)
	if cleaned == "" {
		// A slash command with nothing behind it.
		o.events.Publish(event.Error{Message: "Empty query"})
		return ErrEmptyQuery
	}

	o.mu.Lock()
	if o.current != nil && !o.current.IsDone() {
		o.mu.Unlock()
		o.events.Publish(event.Error{Message: busyMessage})
		return ErrBusy
	}
	if model != "" {
		o.model = model
	}
	if captureMode == "" {
		captureMode = o.captureMode
	}
	rc := newRequestContext(o.baseCtx, o.seq.Add(1), forced)
	// Cancelling the turn also sweeps the terminal: pending approvals
	// denied, subprocesses killed, PTY sessions terminated.
	rc.OnCancel(o.terminal.CancelAll)
	o.current = rc
	o.mu.Unlock()

	o.logger.Info("turn accepted", "request", rc.ID, "skills", forced)
	go o.runTurn(rc, query, cleaned, captureMode)
	return nil
}

// Stop cancels the in-flight turn; its cancellation callback sweeps
// the terminal subsystem. When idle, Stop still sweeps, clearing any
// background sessions left behind by earlier turns.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	rc := o.current
	o.mu.Unlock()
	if rc != nil && !rc.IsDone() {
		o.logger.Info("stop requested", "request", rc.ID)
		rc.Cancel()
		return
	}
	o.terminal.CancelAll()
}

// ClearContext drops the in-memory history, pending screenshots, and
// terminal state. Refused while a turn is in flight.
func (o *Orchestrator) ClearContext() error {
	o.mu.Lock()
	if o.current != nil && !o.current.IsDone() {
		o.mu.Unlock()
		o.events.Publish(event.Error{Message: busyMessage})
		return ErrBusy
	}
	o.history = nil
	o.convID = ""
	o.convTitle = ""
	o.mu.Unlock()

	o.shots.Clear()
	o.terminal.Reset()
	o.events.Publish(event.ContextCleared{})
	o.logger.Info("context cleared")
	return nil
}

// SetCaptureMode stores the default screenshot mode for submissions
// that do not carry one. Unknown modes are dropped.
func (o *Orchestrator) SetCaptureMode(mode string) {
	if !capture.ValidMode(mode) {
		o.logger.Warn("ignoring unknown capture mode", "mode", mode)
		return
	}
	o.mu.Lock()
	o.captureMode = mode
	o.mu.Unlock()
	o.events.Publish(event.CaptureModeChanged{Mode: mode})
}

// ListConversations broadcasts a page of stored conversation summaries.
func (o *Orchestrator) ListConversations(ctx context.Context, limit, offset int) {
	summaries, err := o.store.ListConversations(ctx, limit, offset)
	if err != nil {
		o.events.Publish(event.Error{Message: fmt.Sprintf("Error listing conversations: %v", err)})
		return
	}
	o.events.Publish(event.ConversationList{
		Conversations: toSummaries(summaries),
		Offset:        offset,
	})
}

// LoadConversation broadcasts a stored conversation for display. It
// does not touch the active context; see ResumeConversation for that.
func (o *Orchestrator) LoadConversation(ctx context.Context, id string) {
	conv, err := o.store.GetConversation(ctx, id)
	if err != nil {
		o.events.Publish(event.Error{Message: fmt.Sprintf("Error loading conversation: %v", err)})
		return
	}
	if conv == nil {
		o.events.Publish(event.Error{Message: "Conversation not found: " + id})
		return
	}
	messages, err := o.store.GetMessages(ctx, id)
	if err != nil {
		o.events.Publish(event.Error{Message: fmt.Sprintf("Error loading conversation: %v", err)})
		return
	}
	o.events.Publish(event.ConversationLoaded{
		ConversationID: id,
		Messages:       toConversationMessages(messages),
	})
}

// DeleteConversation removes a stored conversation. Deleting the
// active one also resets the in-memory context, since its rows are
// gone and later persistence would dangle.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) {
	if err := o.store.DeleteConversation(ctx, id); err != nil {
		o.events.Publish(event.Error{Message: fmt.Sprintf("Error deleting conversation: %v", err)})
		return
	}
	o.mu.Lock()
	if o.convID == id {
		o.convID = ""
		o.convTitle = ""
		o.history = nil
	}
	o.mu.Unlock()
	o.events.Publish(event.ConversationDeleted{ConversationID: id})
}

// SearchConversations broadcasts matches for a query; an empty query
// returns the most recent conversations instead.
func (o *Orchestrator) SearchConversations(ctx context.Context, query string) {
	query = strings.TrimSpace(query)
	var (
		summaries []store.Summary
		err       error
	)
	if query == "" {
		summaries, err = o.store.ListConversations(ctx, 50, 0)
	} else {
		summaries, err = o.store.SearchConversations(ctx, query, 20)
	}
	if err != nil {
		o.events.Publish(event.Error{Message: fmt.Sprintf("Error searching conversations: %v", err)})
		return
	}
	o.events.Publish(event.SearchResults{
		Query:   query,
		Results: toSummaries(summaries),
	})
}

// ResumeConversation loads a stored conversation into the active
// context, replacing the in-memory history. Pending screenshots are
// discarded; they belonged to the abandoned thread.
func (o *Orchestrator) ResumeConversation(ctx context.Context, id string) error {
	o.mu.Lock()
	if o.current != nil && !o.current.IsDone() {
		o.mu.Unlock()
		o.events.Publish(event.Error{Message: busyMessage})
		return ErrBusy
	}
	o.mu.Unlock()

	conv, err := o.store.GetConversation(ctx, id)
	if err != nil {
		o.events.Publish(event.Error{Message: fmt.Sprintf("Error resuming conversation: %v", err)})
		return err
	}
	if conv == nil {
		o.events.Publish(event.Error{Message: "Conversation not found: " + id})
		return fmt.Errorf("conversation not found: %s", id)
	}
	stored, err := o.store.GetMessages(ctx, id)
	if err != nil {
		o.events.Publish(event.Error{Message: fmt.Sprintf("Error resuming conversation: %v", err)})
		return err
	}

	entries := make([]historyEntry, 0, len(stored))
	for _, msg := range stored {
		entries = append(entries, historyEntry{
			role:      msg.Role,
			content:   msg.Content,
			images:    msg.Images,
			model:     msg.Model,
			timestamp: msg.CreatedAt,
		})
	}

	o.mu.Lock()
	o.history = entries
	o.convID = id
	o.convTitle = conv.Title
	o.mu.Unlock()

	o.shots.Clear()
	o.terminal.Bind(id, len(entries))

	o.events.Publish(event.ConversationResumed{
		ConversationID: id,
		Title:          conv.Title,
		Messages:       toConversationMessages(stored),
	})
	o.events.Publish(event.TokenUsage{
		InputTokens:  conv.TotalInputTokens,
		OutputTokens: conv.TotalOutputTokens,
		TotalTokens:  conv.TotalInputTokens + conv.TotalOutputTokens,
	})
	o.logger.Info("conversation resumed", "conversation", id, "messages", len(entries))
	return nil
}

// StartRecording begins audio capture on the configured recorder.
func (o *Orchestrator) StartRecording() {
	if o.recorder == nil {
		o.events.Publish(event.Error{Message: "Recording not available"})
		return
	}
	if err := o.recorder.Start(); err != nil {
		o.events.Publish(event.Error{Message: fmt.Sprintf("Error starting recording: %v", err)})
	}
}

// StopRecording ends audio capture and broadcasts the transcription.
func (o *Orchestrator) StopRecording() {
	if o.recorder == nil {
		o.events.Publish(event.Error{Message: "Recording not available"})
		return
	}
	text, err := o.recorder.Stop()
	if err != nil {
		o.events.Publish(event.Error{Message: fmt.Sprintf("Error transcribing recording: %v", err)})
		return
	}
	o.events.Publish(event.TranscriptionResult{Text: text})
}

// SavePushSubscription persists a frontend's Web Push subscription so
// the notifier can reach it across restarts.
func (o *Orchestrator) SavePushSubscription(ctx context.Context, subscription json.RawMessage) {
	if len(subscription) == 0 {
		return
	}
	if err := o.store.SetSetting(ctx, store.SettingPushSubscription, string(subscription)); err != nil {
		o.logger.Error("save push subscription", "error", err)
		return
	}
	o.logger.Info("push subscription saved")
}

// HandleFrame routes one parsed inbound frame. The parser already
// dropped anything outside the catalog.
func (o *Orchestrator) HandleFrame(ctx context.Context, frame event.Frame) {
	switch f := frame.(type) {
	case *event.SubmitQuery:
		o.Submit(f.Content, f.CaptureMode, f.Model)
	case *event.StopStreaming:
		o.Stop()
	case *event.ClearContext:
		o.ClearContext()
	case *event.RemoveScreenshot:
		o.shots.Remove(f.ID)
	case *event.SetCaptureMode:
		o.SetCaptureMode(f.Mode)
	case *event.GetConversations:
		o.ListConversations(ctx, f.Limit, f.Offset)
	case *event.LoadConversation:
		o.LoadConversation(ctx, f.ConversationID)
	case *event.DeleteConversation:
		o.DeleteConversation(ctx, f.ConversationID)
	case *event.SearchConversations:
		o.SearchConversations(ctx, f.Query)
	case *event.ResumeConversation:
		o.ResumeConversation(ctx, f.ConversationID)
	case *event.StartRecording:
		o.StartRecording()
	case *event.StopRecording:
		o.StopRecording()
	case *event.TerminalApprovalResponse:
		o.terminal.ResolveApproval(f.RequestID, f.Approved, f.Remember)
	case *event.TerminalSessionResponse:
		o.terminal.ResolveSession(f.RequestID, f.Approved)
	case *event.TerminalResize:
		o.terminal.ResizeAll(f.Cols, f.Rows)
	case *event.TerminalKill:
		o.terminal.Kill(f.SessionID)
	case *event.PushSubscribe:
		o.SavePushSubscription(ctx, f.Subscription)
	}
}

func toSummaries(in []store.Summary) []event.ConversationSummary {
	out := make([]event.ConversationSummary, len(in))
	for i, s := range in {
		out[i] = event.ConversationSummary{ID: s.ID, Title: s.Title, Date: s.Date}
	}
	return out
}

func toConversationMessages(in []store.Message) []event.ConversationMessage {
	out := make([]event.ConversationMessage, len(in))
	for i, m := range in {
		out[i] = event.ConversationMessage{
			Role:      m.Role,
			Content:   m.Content,
			Images:    m.Images,
			Model:     m.Model,
			Timestamp: m.CreatedAt,
		}
	}
	return out
}
