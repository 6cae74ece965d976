package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/deskmind-ai/deskmind/internal/event"
)

const (
	// textBufferLines bounds the ANSI-stripped history kept per session.
	textBufferLines = 2000
	defaultYield    = 10 * time.Second
)

// Session is one live PTY process the model can drive across tool
// calls with send_input, read_output, and kill_process.
type Session struct {
	ID        string
	RequestID string
	Command   string
	Cwd       string

	cmd   *exec.Cmd
	ptmx  *os.File
	start time.Time
	done  chan struct{}

	mu       sync.Mutex
	text     []string // stripped complete lines, bounded
	partial  string   // trailing text with no newline yet
	alive    bool
	exitCode int
	detached bool // yielded back to the model, still running
	reported bool // completion event published
}

// appendText folds a raw chunk into the stripped line buffer.
func (sess *Session) appendText(chunk string) {
	stripped := strings.ReplaceAll(ansi.Strip(chunk), "\r", "")

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.partial += stripped
	for {
		i := strings.IndexByte(sess.partial, '\n')
		if i < 0 {
			break
		}
		sess.text = append(sess.text, sess.partial[:i])
		sess.partial = sess.partial[i+1:]
	}
	if len(sess.text) > textBufferLines {
		sess.text = sess.text[len(sess.text)-textBufferLines:]
	}
}

// recentOutput returns the last n stripped lines, the in-progress
// partial line included.
func (sess *Session) recentOutput(n int) string {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	lines := sess.text
	if sess.partial != "" {
		lines = append(append([]string{}, sess.text...), sess.partial)
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Alive reports whether the session's process is still running.
func (sess *Session) Alive() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.alive
}

// ExitCode returns the process exit code, valid once Alive is false.
func (sess *Session) ExitCode() int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.exitCode
}

func (sess *Session) durationMs() int64 {
	return time.Since(sess.start).Milliseconds()
}

// markDetached flags a background session that outlived its yield window.
func (sess *Session) markDetached() {
	sess.mu.Lock()
	sess.detached = true
	sess.mu.Unlock()
}

func (sess *Session) isDetached() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.detached
}

// claimCompletion reports whether the caller should publish the
// completion event for this session. A session completes once, no
// matter which path (exit, timeout, kill, watcher) gets there first.
func (sess *Session) claimCompletion() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.reported {
		return false
	}
	sess.reported = true
	return true
}

// waitDone waits up to d for process exit. True when it finished.
func (sess *Session) waitDone(d time.Duration) bool {
	select {
	case <-sess.done:
		return true
	case <-time.After(d):
		return false
	}
}

// terminate kills the PTY child and waits for the reader to drain.
// Safe to call on an already exited session.
func (sess *Session) terminate() {
	sess.mu.Lock()
	if sess.alive && sess.cmd.Process != nil {
		_ = sess.cmd.Process.Kill()
	}
	sess.mu.Unlock()
	sess.ptmx.Close()
	<-sess.done
}

// ExecutePTY runs a command inside a pseudoterminal so interactive
// CLIs see a real terminal. Background sessions outlive the tool call:
// after yield they return a session id and stay registered for
// send_input, read_output, and kill_process.
func (s *Service) ExecutePTY(ctx context.Context, command, cwd string, timeoutSecs int, env map[string]string, requestID string, background bool, yieldMs int) ExecResult {
	workDir, failMsg := preCheck(command, cwd, env)
	if failMsg != "" {
		return ExecResult{Output: failMsg, ExitCode: 1}
	}

	ceiling := maxTimeout
	if background {
		ceiling = maxBackgroundTimeout
	}
	timeout := clampTimeout(timeoutSecs, ceiling)

	cmd := exec.Command(s.shellPath(), "-c", command)
	cmd.Dir = workDir
	cmd.Env = append(buildEnv(env), "TERM=xterm-256color")

	s.mu.Lock()
	cols, rows := s.ptyCols, s.ptyRows
	s.mu.Unlock()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return ExecResult{Output: fmt.Sprintf("Error launching PTY: %v", err), ExitCode: 1}
	}

	sess := &Session{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Command:   command,
		Cwd:       workDir,
		cmd:       cmd,
		ptmx:      ptmx,
		start:     time.Now(),
		done:      make(chan struct{}),
		alive:     true,
	}

	// Registered before the first wait so kill and cancel can always
	// find it.
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	go s.readSession(sess)

	if background {
		yield := time.Duration(yieldMs) * time.Millisecond
		if yield <= 0 {
			yield = defaultYield
		}
		if sess.waitDone(yield) {
			return s.finishSession(sess, 100)
		}
		sess.markDetached()
		go s.watchDetached(sess)
		return ExecResult{
			Output: fmt.Sprintf("Process running (session_id: %s).\n--- Recent Output ---\n%s",
				sess.ID, sess.recentOutput(100)),
			DurationMs: sess.durationMs(),
			SessionID:  sess.ID,
		}
	}

	if sess.waitDone(timeout) {
		return s.finishSession(sess, 200)
	}

	// Foreground timeout: kill, report, and unregister.
	s.unregister(sess.ID)
	sess.terminate()
	secs := int(timeout.Seconds())
	s.events.Publish(event.TerminalOutput{
		RequestID: requestID,
		SessionID: sess.ID,
		Text:      fmt.Sprintf("\x1b[31m[Command timed out after %ds]\x1b[0m", secs),
		Stream:    true,
		Raw:       true,
	})
	if sess.claimCompletion() {
		s.events.Publish(event.TerminalCommandComplete{
			RequestID:  requestID,
			SessionID:  sess.ID,
			Command:    command,
			ExitCode:   -1,
			DurationMs: sess.durationMs(),
		})
	}
	return ExecResult{
		Output:     sess.recentOutput(200) + fmt.Sprintf("\n[Timed out after %ds]", secs),
		ExitCode:   -1,
		DurationMs: sess.durationMs(),
		TimedOut:   true,
	}
}

// readSession pumps PTY output until the process exits: raw chunks go
// to the clients for rendering, stripped text into the session buffer.
func (s *Service) readSession(sess *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			sess.appendText(chunk)
			s.events.Publish(event.TerminalOutput{
				RequestID: sess.RequestID,
				SessionID: sess.ID,
				Text:      chunk,
				Stream:    true,
				Raw:       true,
			})
		}
		if err != nil {
			break
		}
	}
	sess.ptmx.Close()

	code := 0
	if err := sess.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	sess.mu.Lock()
	sess.alive = false
	sess.exitCode = code
	sess.mu.Unlock()
	close(sess.done)
}

// finishSession reports a completed PTY command and unregisters it.
func (s *Service) finishSession(sess *Session, tailLines int) ExecResult {
	s.unregister(sess.ID)
	exitCode := sess.ExitCode()
	durationMs := sess.durationMs()
	if sess.claimCompletion() {
		s.events.Publish(event.TerminalCommandComplete{
			RequestID:  sess.RequestID,
			SessionID:  sess.ID,
			Command:    sess.Command,
			ExitCode:   exitCode,
			DurationMs: durationMs,
		})
	}
	return ExecResult{
		Output:     sess.recentOutput(tailLines),
		ExitCode:   exitCode,
		DurationMs: durationMs,
	}
}

// watchDetached publishes the completion of a background session that
// exits on its own after yielding. The session stays registered so
// read_output can still fetch its tail.
func (s *Service) watchDetached(sess *Session) {
	<-sess.done
	if !sess.claimCompletion() {
		return
	}
	s.events.Publish(event.TerminalCommandComplete{
		RequestID:  sess.RequestID,
		SessionID:  sess.ID,
		Command:    sess.Command,
		ExitCode:   sess.ExitCode(),
		DurationMs: sess.durationMs(),
		Background: true,
	})
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// killSession terminates one session and reports it to the clients.
func (s *Service) killSession(id, reason string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	sess.terminate()

	s.events.Publish(event.TerminalOutput{
		RequestID: sess.RequestID,
		SessionID: sess.ID,
		Text:      fmt.Sprintf("\x1b[31m[%s]\x1b[0m", reason),
		Stream:    true,
		Raw:       true,
	})
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
	return true
}

// KillProcess terminates a session at the model's request.
func (s *Service) KillProcess(sessionID string) string {
	if !s.killSession(sessionID, "Process killed by LLM request") {
		return fmt.Sprintf("Error: No active session with ID %s", sessionID)
	}
	return fmt.Sprintf("Session %s terminated", sessionID)
}

// SendInput writes text to a live session and returns whatever output
// appeared within the wait window.
func (s *Service) SendInput(ctx context.Context, sessionID, text string, pressEnter bool, waitMs int) string {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Sprintf("Error: No active session with ID %s", sessionID)
	}
	if !sess.Alive() {
		return fmt.Sprintf("Error: Session %s has already exited", sessionID)
	}

	decoded := decodeEscapes(text)
	if pressEnter && !strings.HasSuffix(decoded, "\r") && !strings.HasSuffix(decoded, "\n") {
		decoded += "\r"
	}
	if _, err := sess.ptmx.Write([]byte(decoded)); err != nil {
		return fmt.Sprintf("Error sending input: %v", err)
	}

	if waitMs > 0 {
		select {
		case <-time.After(time.Duration(waitMs) * time.Millisecond):
		case <-sess.done:
		case <-ctx.Done():
		}
	}

	state := "running"
	if !sess.Alive() {
		state = "exited"
	}
	return fmt.Sprintf("Input sent. Session is %s.\n--- Recent Output ---\n%s", state, sess.recentOutput(50))
}

// ReadOutput returns recent ANSI-stripped output from a session.
func (s *Service) ReadOutput(sessionID string, lines int) string {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Sprintf("Error: No active session with ID %s", sessionID)
	}
	if lines <= 0 {
		lines = 50
	}

	state := "running"
	if !sess.Alive() {
		state = "exited"
	}
	return fmt.Sprintf("[Session %s — %s, %ds elapsed]\n--- Output (%d lines) ---\n%s",
		sessionID, state, sess.durationMs()/1000, lines, sess.recentOutput(lines))
}

// ResizeAll propagates the frontend terminal size to every live
// session and remembers it for future ones.
func (s *Service) ResizeAll(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	s.mu.Lock()
	s.ptyCols, s.ptyRows = cols, rows
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	size := &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
	for _, sess := range sessions {
		if sess.Alive() {
			_ = pty.Setsize(sess.ptmx, size)
		}
	}
}

// decodeEscapes interprets the backslash escapes the model writes
// inside JSON strings (\n, \r, \t, \e, \xHH, \uHHHH) so control
// characters actually reach the PTY.
func decodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i += 2
		case 'r':
			b.WriteByte('\r')
			i += 2
		case 't':
			b.WriteByte('\t')
			i += 2
		case 'e':
			b.WriteByte(0x1b)
			i += 2
		case '\\':
			b.WriteByte('\\')
			i += 2
		case 'x':
			if i+4 <= len(s) {
				if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 4
					continue
				}
			}
			b.WriteByte(s[i])
			i++
		case 'u':
			if i+6 <= len(s) {
				if v, err := strconv.ParseUint(s[i+2:i+6], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 6
					continue
				}
			}
			b.WriteByte(s[i])
			i++
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}
