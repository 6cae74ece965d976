package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/deskmind-ai/deskmind/internal/config"
)

// CallTimeout is the hard ceiling on a single tool call.
const CallTimeout = 180 * time.Second

// Manager owns the connected tool servers and the flat tool registry.
// Tool names are globally unique: the first server to register a name
// keeps it, later duplicates are rejected with a log line.
type Manager struct {
	logger *slog.Logger

	// connectMu serializes connect/disconnect so the registry check
	// and insert stay atomic across the handshake.
	connectMu sync.Mutex

	mu      sync.RWMutex
	servers map[string]*Server
	tools   map[string]*registeredTool
	order   []string

	onChange func()
}

type registeredTool struct {
	tool   Tool
	server *Server
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger.With("component", "toolserver"),
		servers: make(map[string]*Server),
		tools:   make(map[string]*registeredTool),
	}
}

// OnChange registers a callback invoked after the tool census changes.
// The retriever re-embeds from it.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Manager) notifyChange() {
	m.mu.RLock()
	fn := m.onChange
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Connect spawns one server and registers its tools. Connecting an
// already-connected server is a no-op.
func (m *Manager) Connect(ctx context.Context, def config.ServerDef) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.RLock()
	_, exists := m.servers[def.Name]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	srv := newServer(def)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	registered := m.register(srv)
	m.logger.Info("tool server connected", "server", def.Name, "tools", registered)
	m.notifyChange()
	return nil
}

// register inserts a connected server's tools into the flat registry.
// Names another server already owns are rejected, first one wins.
func (m *Manager) register(srv *Server) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.servers[srv.def.Name] = srv
	registered := 0
	for _, tool := range srv.Tools() {
		if existing, ok := m.tools[tool.Name]; ok {
			m.logger.Warn("duplicate tool name rejected",
				"tool", tool.Name, "server", srv.def.Name, "owner", existing.tool.Server)
			continue
		}
		m.tools[tool.Name] = &registeredTool{tool: tool, server: srv}
		m.order = append(m.order, tool.Name)
		registered++
	}
	return registered
}

// ConnectAll connects every configured server that does not need the
// Google token. Failures are logged and skipped so one bad server
// cannot take the daemon down.
func (m *Manager) ConnectAll(ctx context.Context, defs []config.ServerDef) {
	for _, def := range defs {
		if def.RequiresGoogleToken {
			continue
		}
		if err := m.Connect(ctx, def); err != nil {
			m.logger.Error("tool server connect failed", "server", def.Name, "error", err)
		}
	}
}

// ConnectGoogleServers connects the servers gated on a Google OAuth
// token. It does nothing until the token file exists; when it does,
// the path is injected into each child's environment. Returns how many
// servers were newly connected.
func (m *Manager) ConnectGoogleServers(ctx context.Context, defs []config.ServerDef) int {
	tokenPath := config.GoogleTokenPath()
	if tokenPath == "" {
		return 0
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return 0
	}

	connected := 0
	for _, def := range defs {
		if !def.RequiresGoogleToken || m.Connected(def.Name) {
			continue
		}
		env := make(map[string]string, len(def.Env)+1)
		for k, v := range def.Env {
			env[k] = v
		}
		env["GOOGLE_TOKEN_FILE"] = tokenPath
		def.Env = env

		if err := m.Connect(ctx, def); err != nil {
			m.logger.Error("google tool server connect failed", "server", def.Name, "error", err)
			continue
		}
		connected++
	}
	return connected
}

// Connected reports whether a server is currently attached.
func (m *Manager) Connected(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.servers[name]
	return ok
}

// Disconnect stops one server and drops its tools from the registry.
func (m *Manager) Disconnect(name string) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	srv, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.servers, name)

	kept := m.order[:0]
	for _, toolName := range m.order {
		if reg := m.tools[toolName]; reg != nil && reg.tool.Server == name {
			delete(m.tools, toolName)
			continue
		}
		kept = append(kept, toolName)
	}
	m.order = kept
	m.mu.Unlock()

	err := srv.Stop()
	m.logger.Info("tool server disconnected", "server", name)
	m.notifyChange()
	return err
}

// Cleanup stops every server. Used on daemon shutdown, so no change
// notification fires.
func (m *Manager) Cleanup() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	servers := make([]*Server, 0, len(m.servers))
	for _, srv := range m.servers {
		servers = append(servers, srv)
	}
	m.servers = make(map[string]*Server)
	m.tools = make(map[string]*registeredTool)
	m.order = nil
	m.mu.Unlock()

	for _, srv := range servers {
		if err := srv.Stop(); err != nil {
			m.logger.Warn("tool server stop failed", "error", err)
		}
	}
}

// Owner names the server a tool belongs to, or "" when unknown.
func (m *Manager) Owner(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if reg, ok := m.tools[name]; ok {
		return reg.tool.Server
	}
	return ""
}

// Has reports whether a tool name is registered.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tools[name]
	return ok
}

// Tools returns the registered tools in registration order.
func (m *Manager) Tools() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tool, 0, len(m.order))
	for _, name := range m.order {
		if reg, ok := m.tools[name]; ok {
			out = append(out, reg.tool)
		}
	}
	return out
}

// ToolNames returns the registered tool names in registration order.
func (m *Manager) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.order...)
}

// ServerInfo is a connected server with its registered tool names.
type ServerInfo struct {
	Name  string
	Tools []string
}

// Servers lists connected servers sorted by name.
func (m *Manager) Servers() []ServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byServer := make(map[string][]string)
	for _, name := range m.order {
		if reg, ok := m.tools[name]; ok {
			byServer[reg.tool.Server] = append(byServer[reg.tool.Server], name)
		}
	}
	infos := make([]ServerInfo, 0, len(m.servers))
	for name := range m.servers {
		infos = append(infos, ServerInfo{Name: name, Tools: byServer[name]})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// CallTool routes one tool call. All failures come back as strings the
// model can read and recover from: unknown names carry a fuzzy
// suggestion, timeouts name the server, and empty results get a
// placeholder.
func (m *Manager) CallTool(ctx context.Context, name string, args json.RawMessage) string {
	m.mu.RLock()
	reg, ok := m.tools[name]
	m.mu.RUnlock()

	if !ok {
		msg := fmt.Sprintf("Error: Unknown tool '%s'", name)
		if suggestion := m.suggest(name); suggestion != "" {
			msg += fmt.Sprintf(". Did you mean '%s'?", suggestion)
		}
		return msg
	}

	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	output, err := reg.server.Call(callCtx, name, args)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Sprintf("Error: Tool '%s' (server '%s') timed out after %.0fs",
				name, reg.tool.Server, CallTimeout.Seconds())
		}
		return fmt.Sprintf("Error: %v", err)
	}
	if output == "" {
		return "Tool returned no output."
	}
	return output
}

func (m *Manager) suggest(name string) string {
	names := m.ToolNames()
	matches := fuzzy.Find(name, names)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}
