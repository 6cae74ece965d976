package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/deskmind-ai/deskmind/internal/event"
)

// Execution ceilings. Foreground commands are clamped hard so a stuck
// build cannot hold the turn; background PTY sessions get a longer
// leash.
const (
	maxTimeout           = 120 * time.Second
	maxBackgroundTimeout = 1800 * time.Second
	runningNoticeAfter   = 10 * time.Second
)

// PATH and environment captured at process start. Every child runs
// with this PATH so a prompt-injected export cannot redirect which
// binaries commands resolve to.
var (
	startupPath = os.Getenv("PATH")
	startupEnv  = os.Environ()
)

// ExecResult is the outcome of one command execution.
type ExecResult struct {
	Output     string
	ExitCode   int
	DurationMs int64
	TimedOut   bool
	// SessionID is set only when a background session is still running.
	SessionID string
}

func clampTimeout(secs int, ceiling time.Duration) time.Duration {
	d := time.Duration(secs) * time.Second
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// preCheck validates the working directory and the blocklist. A
// non-empty fail message aborts execution and goes straight back to
// the model.
func preCheck(command, cwd string, env map[string]string) (string, string) {
	workDir := cwd
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	if !filepath.IsAbs(workDir) {
		if abs, err := filepath.Abs(workDir); err == nil {
			workDir = abs
		}
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return "", fmt.Sprintf("Error: Working directory does not exist: %s", workDir)
	}
	if blocked, reason := checkBlocklist(command); blocked {
		return "", "BLOCKED: " + reason
	}
	if injected, reason := checkPathInjection(env); injected {
		return "", "BLOCKED: " + reason
	}
	return workDir, ""
}

// shellPath picks the shell used for -c execution.
func (s *Service) shellPath() string {
	if s.shell != "" {
		return s.shell
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// buildEnv assembles a child environment from the startup snapshot
// plus tool-supplied extras. The pinned PATH goes last because the
// last entry wins.
func buildEnv(extra map[string]string) []string {
	env := make([]string, 0, len(startupEnv)+len(extra)+1)
	env = append(env, startupEnv...)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return append(env, "PATH="+startupPath)
}

// setProcGroup puts the child in its own process group so shell
// pipelines die together.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup terminates the child's whole process group.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}

// Execute runs a command under the shell, streaming each output line
// to the clients as it appears. Stderr is merged into stdout, matching
// what the user would see in their own terminal.
func (s *Service) Execute(ctx context.Context, command, cwd string, timeoutSecs int, env map[string]string, requestID string) ExecResult {
	workDir, failMsg := preCheck(command, cwd, env)
	if failMsg != "" {
		return ExecResult{Output: failMsg, ExitCode: 1}
	}

	timeout := clampTimeout(timeoutSecs, maxTimeout)
	start := time.Now()

	cmd := exec.Command(s.shellPath(), "-c", command)
	cmd.Dir = workDir
	cmd.Env = buildEnv(env)
	setProcGroup(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return ExecResult{Output: fmt.Sprintf("Error executing command: %v", err), ExitCode: 1}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return ExecResult{Output: fmt.Sprintf("Error executing command: %v", err), ExitCode: 1}
	}
	// The child holds its own copy of the write end.
	pw.Close()

	s.mu.Lock()
	s.activeCmd = cmd
	s.activeRequestID = requestID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.activeCmd = nil
		s.activeRequestID = ""
		s.mu.Unlock()
	}()

	// Watchdog kills the process group on timeout or turn cancel,
	// which closes the pipe and ends the scan loop.
	killed := make(chan bool, 1)
	stopWatchdog := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	go func() {
		select {
		case <-timer.C:
			killGroup(cmd)
			killed <- true
		case <-ctx.Done():
			killGroup(cmd)
			killed <- false
		case <-stopWatchdog:
		}
	}()

	var lines []string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		lines = append(lines, line)
		s.events.Publish(event.TerminalOutput{
			RequestID: requestID,
			Text:      line,
			Stream:    true,
		})
	}
	pr.Close()

	waitErr := cmd.Wait()
	close(stopWatchdog)

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			lines = append(lines, fmt.Sprintf("Error executing command: %v", waitErr))
			exitCode = 1
		}
	}

	// A kill surfaces through Wait as a signal exit (-1); the channel
	// only tells us whether it was the timer.
	var timedOut bool
	select {
	case timedOut = <-killed:
	default:
	}

	durationMs := time.Since(start).Milliseconds()

	output := "(no output)"
	if len(lines) > 0 {
		output = strings.Join(lines, "\n")
	}

	if timedOut {
		notice := fmt.Sprintf("Command timed out after %d seconds", int(timeout.Seconds()))
		output += "\n" + notice
		s.events.Publish(event.TerminalOutput{
			RequestID: requestID,
			Text:      "\x1b[31m⏱ " + notice + "\x1b[0m",
			Stream:    true,
		})
		exitCode = -1
	} else if exitCode != 0 {
		output += fmt.Sprintf("\n[exit code: %d]", exitCode)
	}

	s.events.Publish(event.TerminalCommandComplete{
		RequestID:  requestID,
		ExitCode:   exitCode,
		DurationMs: durationMs,
	})

	return ExecResult{
		Output:     output,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		TimedOut:   timedOut,
	}
}
