// Package toolserver manages the lifecycle of MCP tool-server child
// processes and exposes their tools to the rest of the daemon under a
// single flat namespace.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deskmind-ai/deskmind/internal/config"
)

// Failure kinds for Connect. ErrSpawn means the child process never
// started; ErrHandshake means it started but the MCP initialize
// exchange failed or timed out.
var (
	ErrSpawn     = errors.New("tool server process failed to start")
	ErrHandshake = errors.New("tool server failed MCP handshake")
)

const handshakeTimeout = 30 * time.Second

// startupPath is captured once at daemon start. Every child server
// runs with it so nothing a model does in one session can redirect
// which binaries another server resolves.
var startupPath = os.Getenv("PATH")

// Tool is one registered tool with its owning server.
type Tool struct {
	Name        string
	Description string
	Server      string
	AlwaysOn    bool
	Schema      map[string]any
}

// Server wraps one MCP stdio child process.
type Server struct {
	def     config.ServerDef
	client  *mcp.Client
	session *mcp.ClientSession
	tools   []Tool
}

func newServer(def config.ServerDef) *Server {
	return &Server{def: def}
}

// Start spawns the child, completes the MCP handshake, and lists its
// tools. The child process is bound to ctx so daemon shutdown reaps
// it; only the handshake itself is bounded by a shorter deadline.
func (s *Server) Start(ctx context.Context) error {
	s.client = mcp.NewClient(&mcp.Implementation{
		Name:    "deskmind",
		Version: "1.0.0",
	}, nil)

	cmd := exec.CommandContext(ctx, s.def.Command, s.def.Args...)
	cmd.Env = append(os.Environ(), envPairs(s.def.Env)...)
	cmd.Env = append(cmd.Env, "PATH="+startupPath)

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	session, err := s.client.Connect(hsCtx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return fmt.Errorf("server %s: %w: %w", s.def.Name, classifyStartErr(err), err)
	}
	s.session = session

	if err := s.listTools(hsCtx); err != nil {
		s.session.Close()
		s.session = nil
		return fmt.Errorf("server %s: %w: %w", s.def.Name, ErrHandshake, err)
	}
	return nil
}

// Stop closes the session, which terminates the child process.
func (s *Server) Stop() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	s.tools = nil
	return err
}

// Tools returns the tool census captured at handshake time.
func (s *Server) Tools() []Tool {
	return s.tools
}

func (s *Server) listTools(ctx context.Context) error {
	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}
	s.tools = make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := make(map[string]any)
		if t.InputSchema != nil {
			if m, ok := t.InputSchema.(map[string]any); ok {
				schema = m
			}
		}
		s.tools = append(s.tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			Server:      s.def.Name,
			AlwaysOn:    s.def.AlwaysOn,
			Schema:      schema,
		})
	}
	return nil
}

// Call invokes a tool and joins its text blocks. A tool-reported error
// comes back as the tool's own message text, not a Go error, so the
// model can read it.
func (s *Server) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if s.session == nil {
		return "", fmt.Errorf("server %s is not running", s.def.Name)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	result, err := s.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return "", err
	}

	text := joinTextBlocks(result.Content)
	if result.IsError && text == "" {
		return "", fmt.Errorf("tool %s failed without a message", name)
	}
	return text, nil
}

func joinTextBlocks(content []mcp.Content) string {
	var blocks []string
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			blocks = append(blocks, v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				blocks = append(blocks, string(data))
			}
		}
	}
	return strings.Join(blocks, "\n")
}

func classifyStartErr(err error) error {
	var execErr *exec.Error
	var pathErr *fs.PathError
	if errors.As(err, &execErr) || errors.As(err, &pathErr) {
		return ErrSpawn
	}
	return ErrHandshake
}

func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}
