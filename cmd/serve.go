package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskmind-ai/deskmind/internal/bus"
	"github.com/deskmind-ai/deskmind/internal/capture"
	"github.com/deskmind-ai/deskmind/internal/config"
	"github.com/deskmind-ai/deskmind/internal/embedding"
	"github.com/deskmind-ai/deskmind/internal/event"
	"github.com/deskmind-ai/deskmind/internal/llm"
	"github.com/deskmind-ai/deskmind/internal/notify"
	"github.com/deskmind-ai/deskmind/internal/orchestrator"
	"github.com/deskmind-ai/deskmind/internal/retriever"
	"github.com/deskmind-ai/deskmind/internal/server"
	"github.com/deskmind-ai/deskmind/internal/signalutil"
	"github.com/deskmind-ai/deskmind/internal/store"
	"github.com/deskmind-ai/deskmind/internal/terminal"
	"github.com/deskmind-ai/deskmind/internal/toolserver"
)

// googleTokenPollInterval is how often the daemon checks for the OAuth
// token file so the Google servers attach once the browser flow
// finishes, without a restart.
const googleTokenPollInterval = 30 * time.Second

var (
	serveHost     string
	servePort     int
	serveToken    string
	serveLogLevel string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deskmind daemon",
	Long: `Run the deskmind daemon: connect the configured tool servers, open
the conversation store, and listen for frontend connections.

Endpoints:
  GET  /ws                     WebSocket event stream + inbound frames
  GET  /api/health
  GET  /api/terminal/settings
  GET  /api/conversations
  GET  /api/servers
  GET  /api/models

Configuration is read from ~/.config/deskmind/config.yaml and tool
servers from servers.yaml next to it. Flags override the config file.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default from config)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token for API auth")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalutil.NotifyContext(context.Background())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		if servePort <= 0 || servePort > 65535 {
			return fmt.Errorf("invalid --port %d (must be 1-65535)", servePort)
		}
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("token") {
		cfg.Server.AuthToken = serveToken
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = serveLogLevel
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	dataDir, err := config.GetDataDir()
	if err != nil {
		return err
	}

	st, err := store.Open(filepath.Join(dataDir, "conversations.db"))
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer st.Close()

	providers := llm.NewRegistry(cfg)

	// The hub replays ready plus the attached-screenshot list to every
	// client that connects, so a reopened frontend sees current state.
	var shots *capture.Registry
	hub := bus.NewHub(ctx, logger, func() []event.Event {
		replay := []event.Event{event.Ready{}}
		if shots != nil {
			replay = append(replay, shots.ReplayEvents()...)
		}
		return replay
	})
	go hub.Run()

	// Out-of-band notifiers wrap the hub; events reach them only when
	// no frontend client is connected. Everything the engine publishes
	// goes through this wrapper.
	var events event.Publisher = hub
	if senders := buildSenders(cfg, st, logger); len(senders) > 0 {
		events = notify.New(hub, hub.ClientCount, senders, logger)
	}
	shots = capture.NewRegistry(events, logger)

	term := terminal.New(cfg.Terminal, filepath.Join(dataDir, "exec-approvals.json"), events, st, logger)

	manager := toolserver.NewManager(logger)
	defer manager.Cleanup()

	serverDefs, err := config.LoadServers()
	if err != nil {
		return err
	}

	retr, err := buildRetriever(cfg, logger)
	if err != nil {
		return err
	}
	retr.Probe(ctx)

	// Keep the retriever cache in lockstep with tool registration. The
	// census always includes the terminal's intercepted tools.
	reembed := func() {
		census := append(terminal.Tools(), manager.Tools()...)
		rtools := make([]retriever.Tool, len(census))
		for i, t := range census {
			rtools[i] = retriever.Tool{Name: t.Name, Description: t.Description, AlwaysOn: t.AlwaysOn}
		}
		if err := retr.Reembed(ctx, rtools); err != nil {
			logger.Warn("tool re-embedding failed", "error", err)
		}
	}
	manager.OnChange(reembed)
	manager.ConnectAll(ctx, serverDefs)
	manager.ConnectGoogleServers(ctx, serverDefs)
	reembed()

	if anyRequiresGoogleToken(serverDefs) {
		go pollGoogleServers(ctx, manager, serverDefs)
	}

	orch := orchestrator.New(ctx, orchestrator.Options{
		Events:      events,
		Store:       st,
		Providers:   providers,
		Manager:     manager,
		Terminal:    term,
		Retriever:   retr,
		Screenshots: shots,
		Capturer:    capture.DetectCapturer(),
		Logger:      logger,
	})
	orch.SetCaptureMode(cfg.Capture.Mode)

	srv, err := server.New(server.Options{
		Config:   cfg.Server,
		Hub:      hub,
		Frames:   func(f event.Frame) { orch.HandleFrame(ctx, f) },
		Terminal: term,
		Store:    st,
		Models:   providers,
		Servers:  manager,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	logger.Info("deskmind daemon ready",
		"addr", cfg.Server.Addr(),
		"auth", authSummary(cfg.Server.AuthToken),
		"servers", len(serverDefs),
		"default_model", providers.DefaultModel(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	orch.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	hub.Stop()
	return nil
}

// buildSenders assembles the configured attention notifiers. Both are
// optional; a misconfigured Telegram bot fails startup loudly because
// silently dropping notifications defeats their purpose.
func buildSenders(cfg *config.Config, st *store.Store, logger *slog.Logger) []notify.Sender {
	var senders []notify.Sender
	tg, err := notify.NewTelegram(cfg.Notify.Telegram)
	if err != nil {
		logger.Error("telegram notifier init failed", "error", err)
	} else if tg != nil {
		senders = append(senders, tg)
		logger.Info("telegram notifier enabled")
	}
	if wp := notify.NewWebPush(cfg.Notify.WebPush, st, logger); wp != nil {
		senders = append(senders, wp)
		logger.Info("webpush notifier enabled")
	}
	return senders
}

// buildRetriever creates the tool retriever. backend "off" disables
// retrieval outright; an unreachable backend merely leaves it disabled
// after the probe.
func buildRetriever(cfg *config.Config, logger *slog.Logger) (*retriever.Retriever, error) {
	var provider embedding.Provider
	if cfg.Retriever.Backend != "off" {
		var err error
		provider, err = embedding.New(cfg, cfg.Retriever.Backend)
		if err != nil {
			return nil, fmt.Errorf("configure embedding backend: %w", err)
		}
	}
	return retriever.New(retriever.Options{
		Provider: provider,
		Model:    cfg.Retriever.Model,
		TopK:     cfg.Retriever.TopK,
		Logger:   logger,
	}), nil
}

func anyRequiresGoogleToken(defs []config.ServerDef) bool {
	for _, def := range defs {
		if def.RequiresGoogleToken {
			return true
		}
	}
	return false
}

// pollGoogleServers retries the token-gated servers until every one is
// attached. ConnectGoogleServers is a cheap stat() when the token file
// is still missing.
func pollGoogleServers(ctx context.Context, manager *toolserver.Manager, defs []config.ServerDef) {
	ticker := time.NewTicker(googleTokenPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			manager.ConnectGoogleServers(ctx, defs)
			done := true
			for _, def := range defs {
				if def.RequiresGoogleToken && !manager.Connected(def.Name) {
					done = false
					break
				}
			}
			if done {
				return
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func authSummary(token string) string {
	if token != "" {
		return "bearer required"
	}
	return "open (loopback only)"
}
