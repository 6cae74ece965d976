// Package terminal runs shell commands on the model's behalf under
// user control. An approval gate sits in front of every command, a
// blocklist under that, plain subprocess execution handles simple
// commands, and PTY sessions handle interactive CLIs that need a real
// terminal across multiple tool calls.
package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/deskmind-ai/deskmind/internal/config"
	"github.com/deskmind-ai/deskmind/internal/event"
	"github.com/deskmind-ai/deskmind/internal/store"
)

// Ask levels. "always" prompts for every command, "on-miss" skips the
// prompt for remembered signatures, "off" never prompts.
const (
	AskAlways = "always"
	AskOnMiss = "on-miss"
	AskOff    = "off"
)

const (
	defaultApprovalTimeout = 120 * time.Second
	maxPendingEvents       = 256
)

// Decision is the user's answer to an approval prompt.
type Decision struct {
	Approved bool
	Remember bool
}

// EventRecorder persists terminal event rows. *store.Store satisfies
// it; tests substitute a capture.
type EventRecorder interface {
	SaveTerminalEvent(ctx context.Context, ev *store.TerminalEvent) error
}

// Service owns approvals, session mode, the active subprocess, and all
// PTY sessions for one daemon.
type Service struct {
	logger   *slog.Logger
	events   event.Publisher
	recorder EventRecorder
	history  *ApprovalStore

	shell         string
	allowPatterns []glob.Glob

	// approvalTimeout is how long a prompt waits for the user.
	approvalTimeout time.Duration

	mu          sync.Mutex
	askLevel    string
	sessionMode bool

	pendingApprovals map[string]chan Decision
	pendingSessions  map[string]chan bool

	activeCmd       *exec.Cmd
	activeRequestID string
	sessions        map[string]*Session
	ptyCols         int
	ptyRows         int

	conversationID string
	messageIndex   int
	pendingEvents  []store.TerminalEvent
}

// New builds the terminal service. recorder may be nil, in which case
// nothing is persisted.
func New(cfg config.Terminal, approvalsPath string, events event.Publisher, recorder EventRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	level := cfg.AskLevel
	if !validAskLevel(level) {
		level = AskOnMiss
	}
	var patterns []glob.Glob
	for _, p := range cfg.AllowPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			logger.Warn("invalid terminal allow pattern", "pattern", p, "error", err)
			continue
		}
		patterns = append(patterns, g)
	}
	return &Service{
		logger:           logger.With("component", "terminal"),
		events:           events,
		recorder:         recorder,
		history:          NewApprovalStore(approvalsPath),
		shell:            cfg.Shell,
		allowPatterns:    patterns,
		approvalTimeout:  defaultApprovalTimeout,
		askLevel:         level,
		pendingApprovals: make(map[string]chan Decision),
		pendingSessions:  make(map[string]chan bool),
		sessions:         make(map[string]*Session),
		ptyCols:          120,
		ptyRows:          24,
	}
}

func validAskLevel(level string) bool {
	return level == AskAlways || level == AskOnMiss || level == AskOff
}

// AskLevel returns the current ask level.
func (s *Service) AskLevel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.askLevel
}

// SetAskLevel switches the ask level at runtime.
func (s *Service) SetAskLevel(level string) error {
	if !validAskLevel(level) {
		return fmt.Errorf("invalid ask level %q", level)
	}
	s.mu.Lock()
	s.askLevel = level
	s.mu.Unlock()
	return nil
}

// Approvals exposes the remembered-approval store for the CLI and the
// settings API.
func (s *Service) Approvals() *ApprovalStore {
	return s.history
}

// SessionMode reports whether session mode is active.
func (s *Service) SessionMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionMode
}

// CheckApproval decides whether a command may run, blocking on the
// user when a prompt is needed. The returned request id identifies the
// execution in every subsequent terminal event.
func (s *Service) CheckApproval(ctx context.Context, command, cwd string) (bool, string) {
	requestID := uuid.NewString()

	s.mu.Lock()
	level := s.askLevel
	session := s.sessionMode
	s.mu.Unlock()

	if session || level == AskOff {
		return true, requestID
	}
	if s.allowedByPattern(command) {
		return true, requestID
	}
	if level == AskOnMiss && s.history.IsApproved(command) {
		return true, requestID
	}

	ch := make(chan Decision, 1)
	s.mu.Lock()
	s.pendingApprovals[requestID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pendingApprovals, requestID)
		s.mu.Unlock()
	}()

	s.events.Publish(event.TerminalApprovalRequest{
		RequestID: requestID,
		Command:   command,
		Cwd:       cwd,
	})

	select {
	case d := <-ch:
		if d.Approved && d.Remember {
			if err := s.history.Remember(command); err != nil {
				s.logger.Warn("failed to remember approval", "error", err)
			}
		}
		return d.Approved, requestID
	case <-time.After(s.approvalTimeout):
		return false, requestID
	case <-ctx.Done():
		return false, requestID
	}
}

func (s *Service) allowedByPattern(command string) bool {
	for _, g := range s.allowPatterns {
		if g.Match(command) {
			return true
		}
	}
	return false
}

// ResolveApproval delivers the user's answer to a pending prompt.
// Unknown request ids are ignored.
func (s *Service) ResolveApproval(requestID string, approved, remember bool) {
	s.mu.Lock()
	ch, ok := s.pendingApprovals[requestID]
	if ok {
		delete(s.pendingApprovals, requestID)
	}
	s.mu.Unlock()
	if ok {
		ch <- Decision{Approved: approved, Remember: remember}
	}
}

// RequestSession asks the user to grant session mode, blocking until
// answered or the deadline passes. On approval every later command in
// the turn auto-approves.
func (s *Service) RequestSession(ctx context.Context, reason string) bool {
	requestID := uuid.NewString()
	ch := make(chan bool, 1)

	s.mu.Lock()
	s.pendingSessions[requestID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pendingSessions, requestID)
		s.mu.Unlock()
	}()

	s.events.Publish(event.TerminalSessionRequest{
		RequestID: requestID,
		Reason:    reason,
	})

	var approved bool
	select {
	case approved = <-ch:
	case <-time.After(s.approvalTimeout):
	case <-ctx.Done():
	}

	if approved {
		s.mu.Lock()
		s.sessionMode = true
		s.mu.Unlock()
		s.events.Publish(event.TerminalSessionStarted{})
	}
	return approved
}

// ResolveSession answers a pending session-mode request.
func (s *Service) ResolveSession(requestID string, approved bool) {
	s.mu.Lock()
	ch, ok := s.pendingSessions[requestID]
	if ok {
		delete(s.pendingSessions, requestID)
	}
	s.mu.Unlock()
	if ok {
		ch <- approved
	}
}

// EndSession leaves session mode at the model's request.
func (s *Service) EndSession() {
	s.mu.Lock()
	s.sessionMode = false
	s.mu.Unlock()
	s.events.Publish(event.TerminalSessionEnded{})
}

// ExpireSession ends session mode at the end of a turn. Nothing is
// published when session mode was never granted.
func (s *Service) ExpireSession() {
	s.mu.Lock()
	active := s.sessionMode
	s.sessionMode = false
	s.mu.Unlock()
	if active {
		s.events.Publish(event.TerminalSessionEnded{})
	}
}

// CancelAll denies every pending prompt and terminates the active
// subprocess and every PTY session. Killed sessions still get their
// completion event. Safe to call repeatedly.
func (s *Service) CancelAll() {
	s.mu.Lock()
	approvals := s.pendingApprovals
	s.pendingApprovals = make(map[string]chan Decision)
	sessionReqs := s.pendingSessions
	s.pendingSessions = make(map[string]chan bool)
	active := s.activeCmd
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, ch := range approvals {
		ch <- Decision{}
	}
	for _, ch := range sessionReqs {
		ch <- false
	}
	if active != nil {
		killGroup(active)
	}
	for _, sess := range sessions {
		sess.terminate()
		if sess.claimCompletion() {
			s.events.Publish(event.TerminalCommandComplete{
				RequestID:  sess.RequestID,
				SessionID:  sess.ID,
				Command:    sess.Command,
				ExitCode:   -1,
				DurationMs: sess.durationMs(),
				Background: sess.isDetached(),
			})
		}
	}
}

// Kill handles the frontend kill control: one PTY session by id, or
// the active subprocess plus every session when the id is empty.
func (s *Service) Kill(sessionID string) {
	const reason = "Process killed by user"
	if sessionID != "" {
		s.killSession(sessionID, reason)
		return
	}

	s.mu.Lock()
	active := s.activeCmd
	requestID := s.activeRequestID
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if active != nil {
		killGroup(active)
		s.events.Publish(event.TerminalOutput{
			RequestID: requestID,
			Text:      "\x1b[31m[" + reason + "]\x1b[0m",
			Stream:    true,
		})
	}
	for _, id := range ids {
		s.killSession(id, reason)
	}
}

// Reset drops all terminal state: prompts, processes, session mode,
// queued events, and the conversation binding.
func (s *Service) Reset() {
	s.CancelAll()
	s.mu.Lock()
	s.sessionMode = false
	s.pendingEvents = nil
	s.conversationID = ""
	s.messageIndex = 0
	s.mu.Unlock()
}

// Bind points terminal event persistence at a conversation and message
// position. An empty conversation id queues events in memory until
// FlushPending.
func (s *Service) Bind(conversationID string, messageIndex int) {
	s.mu.Lock()
	s.conversationID = conversationID
	s.messageIndex = messageIndex
	s.mu.Unlock()
}

// recordEvent persists one terminal event, queueing it when no
// conversation exists yet. The queue drops its oldest entry past the
// cap.
func (s *Service) recordEvent(ctx context.Context, ev store.TerminalEvent) {
	s.mu.Lock()
	ev.MessageIndex = s.messageIndex
	convID := s.conversationID
	if convID == "" {
		if len(s.pendingEvents) >= maxPendingEvents {
			s.pendingEvents = s.pendingEvents[1:]
		}
		s.pendingEvents = append(s.pendingEvents, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ev.ConversationID = convID
	s.persistEvent(ctx, ev)
}

func (s *Service) persistEvent(ctx context.Context, ev store.TerminalEvent) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SaveTerminalEvent(ctx, &ev); err != nil {
		s.logger.Warn("failed to save terminal event", "error", err)
	}
}

// FlushPending persists every queued event under the newly created
// conversation and empties the queue.
func (s *Service) FlushPending(ctx context.Context, conversationID string) {
	s.mu.Lock()
	queued := s.pendingEvents
	s.pendingEvents = nil
	s.mu.Unlock()

	for _, ev := range queued {
		ev.ConversationID = conversationID
		s.persistEvent(ctx, ev)
	}
}

// startRunningNotice tells the user once when a command is still
// running after ten seconds. The returned stop function is idempotent.
func (s *Service) startRunningNotice(requestID, command string) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-time.After(runningNoticeAfter):
			s.events.Publish(event.TerminalRunningNotice{
				RequestID:      requestID,
				Command:        command,
				ElapsedSeconds: int(runningNoticeAfter.Seconds()),
			})
		case <-done:
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
