package terminal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deskmind-ai/deskmind/internal/store"
	"github.com/deskmind-ai/deskmind/internal/toolserver"
)

// ServerName is the owner reported for intercepted terminal tools.
const ServerName = "terminal"

// interceptedTools never reach a tool server; the service handles them
// in-process so approval and session state stay in one place.
var interceptedTools = map[string]bool{
	"run_command":          true,
	"request_session_mode": true,
	"end_session_mode":     true,
	"send_input":           true,
	"read_output":          true,
	"kill_process":         true,
	"get_environment":      true,
	"find_files":           true,
}

// Handles reports whether a tool name belongs to the terminal.
func Handles(name string) bool {
	return interceptedTools[name]
}

type runCommandArgs struct {
	Command    string            `json:"command"`
	Cwd        string            `json:"cwd"`
	Timeout    int               `json:"timeout"`
	Env        map[string]string `json:"env"`
	PTY        bool              `json:"pty"`
	Background bool              `json:"background"`
	YieldMs    int               `json:"yield_ms"`
}

type sessionModeArgs struct {
	Reason string `json:"reason"`
}

type sendInputArgs struct {
	SessionID  string `json:"session_id"`
	InputText  string `json:"input_text"`
	PressEnter *bool  `json:"press_enter"`
	WaitMs     *int   `json:"wait_ms"`
}

type readOutputArgs struct {
	SessionID string `json:"session_id"`
	Lines     int    `json:"lines"`
}

type killProcessArgs struct {
	SessionID string `json:"session_id"`
}

type findFilesArgs struct {
	Pattern   string `json:"pattern"`
	Directory string `json:"directory"`
}

func unmarshalArgs(raw json.RawMessage, v any) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, v)
	}
}

// HandleTool executes one intercepted terminal tool. Failures come
// back as strings for the model, mirroring the tool-server contract.
func (s *Service) HandleTool(ctx context.Context, name string, args json.RawMessage) string {
	switch name {
	case "run_command":
		return s.runCommand(ctx, args)

	case "request_session_mode":
		var a sessionModeArgs
		unmarshalArgs(args, &a)
		if a.Reason == "" {
			a.Reason = "Autonomous operation requested"
		}
		if s.RequestSession(ctx, a.Reason) {
			return "session started"
		}
		return "session request denied"

	case "end_session_mode":
		s.EndSession()
		return "session ended"

	case "send_input":
		var a sendInputArgs
		unmarshalArgs(args, &a)
		if a.SessionID == "" {
			return "Error: session_id is required"
		}
		pressEnter := true
		if a.PressEnter != nil {
			pressEnter = *a.PressEnter
		}
		if a.InputText == "" && !pressEnter {
			return "Error: input_text is required when press_enter is false"
		}
		waitMs := 3000
		if a.WaitMs != nil {
			waitMs = *a.WaitMs
		}
		return s.SendInput(ctx, a.SessionID, a.InputText, pressEnter, waitMs)

	case "read_output":
		var a readOutputArgs
		unmarshalArgs(args, &a)
		if a.SessionID == "" {
			return "Error: session_id is required"
		}
		return s.ReadOutput(a.SessionID, a.Lines)

	case "kill_process":
		var a killProcessArgs
		unmarshalArgs(args, &a)
		if a.SessionID == "" {
			return "Error: session_id is required"
		}
		return s.KillProcess(a.SessionID)

	case "get_environment":
		return s.GetEnvironment(ctx)

	case "find_files":
		var a findFilesArgs
		unmarshalArgs(args, &a)
		if a.Pattern == "" {
			return "Error: pattern is required"
		}
		return FindFiles(a.Pattern, a.Directory)

	default:
		return fmt.Sprintf("Unknown terminal tool: %s", name)
	}
}

// runCommand is the approval-gated execution path shared by plain and
// PTY commands.
func (s *Service) runCommand(ctx context.Context, args json.RawMessage) string {
	var a runCommandArgs
	unmarshalArgs(args, &a)
	if a.Command == "" {
		return "Error: command is required"
	}

	approved, requestID := s.CheckApproval(ctx, a.Command, a.Cwd)
	if !approved {
		s.recordEvent(ctx, store.TerminalEvent{
			Command:    a.Command,
			ExitCode:   -1,
			FullOutput: "Command denied by user",
			Cwd:        a.Cwd,
			Denied:     true,
			PTY:        a.PTY,
			Background: a.Background,
		})
		return "Command denied by user"
	}

	stopNotice := s.startRunningNotice(requestID, a.Command)
	defer stopNotice()

	var res ExecResult
	if a.PTY {
		res = s.ExecutePTY(ctx, a.Command, a.Cwd, a.Timeout, a.Env, requestID, a.Background, a.YieldMs)
	} else {
		res = s.Execute(ctx, a.Command, a.Cwd, a.Timeout, a.Env, requestID)
	}

	s.recordEvent(ctx, store.TerminalEvent{
		Command:    a.Command,
		ExitCode:   res.ExitCode,
		FullOutput: res.Output,
		Cwd:        a.Cwd,
		DurationMs: res.DurationMs,
		TimedOut:   res.TimedOut,
		PTY:        a.PTY,
		Background: a.Background,
	})

	return res.Output
}

// Tools returns the terminal toolset in the same census shape the
// manager uses for external servers. These are always exposed to the
// model; dropping kill_process or send_input mid-conversation would
// strand running sessions.
func Tools() []toolserver.Tool {
	return []toolserver.Tool{
		{
			Name: "run_command",
			Description: "Run a shell command and return its combined stdout and stderr. " +
				"Set pty=true for interactive or TUI programs (vim, htop, REPLs) that need a real terminal; " +
				"their output renders live in the user's terminal panel. " +
				"Set background=true for long-running commands: instead of blocking you get a session_id plus " +
				"recent output after yield_ms, and can interact later with send_input, read_output, and kill_process. " +
				"timeout is in seconds (max 120 foreground, 1800 background). " +
				"Commands touching protected OS paths are blocked, and PATH cannot be overridden via env.",
			Server:   ServerName,
			AlwaysOn: true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "Shell command to execute",
					},
					"cwd": map[string]any{
						"type":        "string",
						"description": "Working directory (absolute path)",
					},
					"timeout": map[string]any{
						"type":        "integer",
						"description": "Seconds before force-killing (max 120 foreground, 1800 background)",
					},
					"env": map[string]any{
						"type":        "object",
						"description": "Extra environment variables; PATH is rejected",
					},
					"pty": map[string]any{
						"type":        "boolean",
						"description": "Run in a pseudoterminal for interactive programs",
					},
					"background": map[string]any{
						"type":        "boolean",
						"description": "Return a session_id instead of waiting for completion",
					},
					"yield_ms": map[string]any{
						"type":        "integer",
						"description": "Milliseconds to wait before yielding a background session (default 10000)",
					},
				},
				"required": []string{"command"},
			},
		},
		{
			Name: "request_session_mode",
			Description: "Request autonomous operation for a multi-step task: commands run without per-command " +
				"approval until your turn ends. The user may deny, in which case each command still needs " +
				"individual approval. Returns 'session started' or 'session request denied'.",
			Server:   ServerName,
			AlwaysOn: true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "What you plan to do and roughly how many commands it takes",
					},
				},
			},
		},
		{
			Name: "end_session_mode",
			Description: "End autonomous operation early. Session mode expires automatically when your turn ends, " +
				"so this is only needed to give up access before you finish.",
			Server:   ServerName,
			AlwaysOn: true,
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name: "send_input",
			Description: "Send input to a running session started with run_command(pty=true, background=true). " +
				"Enter is pressed automatically unless press_enter=false. Control characters escape as " +
				"\\x03 for Ctrl-C and \\x1b for Escape. Waits wait_ms and returns recent output, so a separate " +
				"read_output call is usually unnecessary.",
			Server:   ServerName,
			AlwaysOn: true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{
						"type":        "string",
						"description": "Session to write to",
					},
					"input_text": map[string]any{
						"type":        "string",
						"description": "Text to send; backslash escapes are decoded",
					},
					"press_enter": map[string]any{
						"type":        "boolean",
						"description": "Append Enter after the text (default true)",
					},
					"wait_ms": map[string]any{
						"type":        "integer",
						"description": "Milliseconds to wait for output before returning (default 3000)",
					},
				},
				"required": []string{"session_id"},
			},
		},
		{
			Name: "read_output",
			Description: "Read recent output from a background session with ANSI codes stripped. " +
				"The raw stream renders in the user's terminal panel regardless.",
			Server:   ServerName,
			AlwaysOn: true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{
						"type":        "string",
						"description": "Session to read from",
					},
					"lines": map[string]any{
						"type":        "integer",
						"description": "How many trailing lines to return (default 50)",
					},
				},
				"required": []string{"session_id"},
			},
		},
		{
			Name: "kill_process",
			Description: "Terminate a background session and clean it up. " +
				"Always call this when finished with an interactive program.",
			Server:   ServerName,
			AlwaysOn: true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{
						"type":        "string",
						"description": "Session to terminate",
					},
				},
				"required": []string{"session_id"},
			},
		},
		{
			Name: "get_environment",
			Description: "Report the machine commands run on: OS, shell, working directory, and versions of " +
				"common dev tools (git, node, python3, go, docker). Call this before assuming a tool exists.",
			Server:   ServerName,
			AlwaysOn: true,
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name: "find_files",
			Description: "Find files matching a glob pattern under a directory without shelling out. " +
				"Supports ** for recursive matching. Never requires user approval.",
			Server:   ServerName,
			AlwaysOn: true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{
						"type":        "string",
						"description": "Glob pattern, e.g. **/*.go",
					},
					"directory": map[string]any{
						"type":        "string",
						"description": "Directory to search (default: current working directory)",
					},
				},
				"required": []string{"pattern"},
			},
		},
	}
}
