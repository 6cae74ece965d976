package terminal

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/deskmind-ai/deskmind/internal/config"
	"github.com/deskmind-ai/deskmind/internal/event"
)

func TestExecuteStreamsAndCompletes(t *testing.T) {
	svc, pub, _ := newTestService(t, config.Terminal{AskLevel: AskOff})

	res := svc.Execute(context.Background(), "echo hello; echo world", "", 10, nil, "req-1")

	if res.Output != "hello\nworld" {
		t.Errorf("Output = %q, want %q", res.Output, "hello\nworld")
	}
	if res.ExitCode != 0 || res.TimedOut {
		t.Errorf("ExitCode = %d, TimedOut = %v, want 0 and false", res.ExitCode, res.TimedOut)
	}

	var lines []string
	for _, e := range pub.snapshot() {
		if out, ok := e.(event.TerminalOutput); ok {
			lines = append(lines, out.Text)
		}
	}
	if want := []string{"hello", "world"}; !reflect.DeepEqual(lines, want) {
		t.Errorf("streamed lines = %v, want %v", lines, want)
	}

	completes := pub.count(func(e event.Event) bool {
		c, ok := e.(event.TerminalCommandComplete)
		return ok && c.RequestID == "req-1" && c.ExitCode == 0
	})
	if completes != 1 {
		t.Errorf("complete events = %d, want 1", completes)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	svc, _, _ := newTestService(t, config.Terminal{AskLevel: AskOff})

	res := svc.Execute(context.Background(), "exit 3", "", 10, nil, "req-2")

	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if want := "(no output)\n[exit code: 3]"; res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
}

func TestExecuteTimeout(t *testing.T) {
	svc, pub, _ := newTestService(t, config.Terminal{AskLevel: AskOff})

	res := svc.Execute(context.Background(), "sleep 5", "", 1, nil, "req-3")

	if !res.TimedOut {
		t.Fatal("expected timeout")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if !strings.Contains(res.Output, "Command timed out after 1 seconds") {
		t.Errorf("Output = %q, missing timeout notice", res.Output)
	}

	notices := pub.count(func(e event.Event) bool {
		out, ok := e.(event.TerminalOutput)
		return ok && strings.Contains(out.Text, "timed out")
	})
	if notices != 1 {
		t.Errorf("timeout notices = %d, want 1", notices)
	}
}

func TestExecuteRejectedBeforeStart(t *testing.T) {
	svc, pub, _ := newTestService(t, config.Terminal{AskLevel: AskOff})

	tests := []struct {
		name    string
		command string
		cwd     string
		env     map[string]string
		prefix  string
	}{
		{"blocked path", "cat /etc/passwd", "", nil, "BLOCKED: Command touches protected OS path"},
		{"path override", "ls", "", map[string]string{"PATH": "/evil"}, "BLOCKED: PATH override rejected"},
		{"missing workdir", "ls", "/no/such/dir-xyz", nil, "Error: Working directory does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.Execute(context.Background(), tt.command, tt.cwd, 10, tt.env, "req-4")
			if !strings.HasPrefix(res.Output, tt.prefix) {
				t.Errorf("Output = %q, want prefix %q", res.Output, tt.prefix)
			}
			if res.ExitCode != 1 {
				t.Errorf("ExitCode = %d, want 1", res.ExitCode)
			}
		})
	}

	// Nothing executed, so nothing completed.
	if n := pub.count(func(e event.Event) bool {
		_, ok := e.(event.TerminalCommandComplete)
		return ok
	}); n != 0 {
		t.Errorf("complete events for rejected commands = %d, want 0", n)
	}
}

func TestExecuteEnvPassthrough(t *testing.T) {
	svc, _, _ := newTestService(t, config.Terminal{AskLevel: AskOff})

	res := svc.Execute(context.Background(), "echo $DESKMIND_TEST_VALUE", "",
		10, map[string]string{"DESKMIND_TEST_VALUE": "marker-42"}, "req-5")

	if res.Output != "marker-42" {
		t.Errorf("Output = %q, want marker-42", res.Output)
	}
}

func TestExecuteCancelled(t *testing.T) {
	svc, _, _ := newTestService(t, config.Terminal{AskLevel: AskOff})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := svc.Execute(ctx, "sleep 5", "", 30, nil, "req-6")

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("cancel did not interrupt execution (took %v)", elapsed)
	}
	if res.TimedOut {
		t.Error("cancel reported as timeout")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for a killed process", res.ExitCode)
	}
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		secs    int
		ceiling time.Duration
		want    time.Duration
	}{
		{0, maxTimeout, maxTimeout},
		{-5, maxTimeout, maxTimeout},
		{30, maxTimeout, 30 * time.Second},
		{500, maxTimeout, maxTimeout},
		{500, maxBackgroundTimeout, 500 * time.Second},
		{99999, maxBackgroundTimeout, maxBackgroundTimeout},
	}
	for _, tt := range tests {
		if got := clampTimeout(tt.secs, tt.ceiling); got != tt.want {
			t.Errorf("clampTimeout(%d, %v) = %v, want %v", tt.secs, tt.ceiling, got, tt.want)
		}
	}
}

func TestBuildEnvPinsPath(t *testing.T) {
	old := startupPath
	startupPath = "/pinned/bin"
	defer func() { startupPath = old }()

	env := buildEnv(map[string]string{"FOO": "bar"})

	if last := env[len(env)-1]; last != "PATH=/pinned/bin" {
		t.Errorf("last env entry = %q, want the pinned PATH", last)
	}
	found := false
	for _, kv := range env {
		if kv == "FOO=bar" {
			found = true
		}
	}
	if !found {
		t.Error("extra env var not passed through")
	}
}
