// Package server exposes the engine over HTTP: a WebSocket endpoint
// carrying the event stream and inbound frames, plus a small REST
// surface for the settings the frontend reads outside the socket.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/deskmind-ai/deskmind/internal/bus"
	"github.com/deskmind-ai/deskmind/internal/config"
	"github.com/deskmind-ai/deskmind/internal/store"
	"github.com/deskmind-ai/deskmind/internal/terminal"
	"github.com/deskmind-ai/deskmind/internal/toolserver"
)

// ModelLister reports the model strings the daemon can route.
// *llm.Registry implements it.
type ModelLister interface {
	Available() []string
	DefaultModel() string
}

// ServerLister reports connected tool servers. *toolserver.Manager
// implements it.
type ServerLister interface {
	Servers() []toolserver.ServerInfo
}

// Options wire a Server. Servers and Logger are optional.
type Options struct {
	Config   config.Server
	Hub      *bus.Hub
	Frames   bus.FrameHandler
	Terminal *terminal.Service
	Store    *store.Store
	Models   ModelLister
	Servers  ServerLister
	Logger   *slog.Logger
}

// Server is the daemon's HTTP front.
type Server struct {
	cfg      config.Server
	hub      *bus.Hub
	frames   bus.FrameHandler
	terminal *terminal.Service
	store    *store.Store
	models   ModelLister
	servers  ServerLister
	logger   *slog.Logger

	upgrader websocket.Upgrader
	handler  http.Handler
	httpSrv  *http.Server
}

// New builds the server and its routes. Binding a non-loopback host
// without an auth token is refused; the REST surface can clear command
// approvals and must not be reachable from the network unauthenticated.
func New(opts Options) (*Server, error) {
	if opts.Config.AuthToken == "" && !isLoopbackHost(opts.Config.Host) {
		return nil, fmt.Errorf("refusing to serve on %q without an auth token", opts.Config.Host)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      opts.Config,
		hub:      opts.Hub,
		frames:   opts.Frames,
		terminal: opts.Terminal,
		store:    opts.Store,
		models:   opts.Models,
		servers:  opts.Servers,
		logger:   logger.With("component", "server"),
		upgrader: newUpgrader(opts.Config.AllowedOrigins),
	}
	s.handler = s.routes()
	return s, nil
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	return h == "127.0.0.1" || h == "localhost" || h == "::1"
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	// Health and the socket sit outside the bearer check; the socket
	// does its own (browsers cannot set headers on WebSocket dials).
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.auth)
	api.HandleFunc("/terminal/settings", s.handleTerminalSettings).Methods(http.MethodGet)
	api.HandleFunc("/terminal/settings/ask-level", s.handleSetAskLevel).Methods(http.MethodPut)
	api.HandleFunc("/terminal/approvals", s.handleListApprovals).Methods(http.MethodGet)
	api.HandleFunc("/terminal/approvals", s.handleClearApprovals).Methods(http.MethodDelete)
	api.HandleFunc("/conversations", s.handleConversations).Methods(http.MethodGet)
	api.HandleFunc("/servers", s.handleServers).Methods(http.MethodGet)
	api.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/models/enabled", s.handleEnabledModels).Methods(http.MethodGet)
	api.HandleFunc("/models/enabled", s.handleSetEnabledModels).Methods(http.MethodPut)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

// Handler returns the routed handler, CORS included. Exposed for
// httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// auth guards the REST subrouter with the configured bearer token. A
// blank token disables the check; New already forced loopback for
// that case.
func (s *Server) auth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			respondError(w, http.StatusUnauthorized, "invalid authentication credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

func newUpgrader(origins []string) websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
			continue
		}
		if o != "" {
			allowed[o] = struct{}{}
		}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients (the ask CLI) send no Origin.
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// handleWS upgrades the connection, attaches it to the hub, and starts
// both pumps. The hub replays connection-time state before the client
// sees any later broadcast.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" && !s.authorized(r) {
		respondError(w, http.StatusUnauthorized, "invalid authentication credentials")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	client := bus.NewClient(s.hub, conn, s.frames)
	s.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
	s.logger.Debug("websocket client attached", "remote", r.RemoteAddr)
}

// Start listens on the configured address. It returns early errors
// (port in use, bad address) instead of hiding them on a goroutine.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.handler,
		// No blanket read/write timeouts; /ws connections are
		// long-lived and manage their own deadlines.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		s.logger.Info("listening", "addr", s.cfg.Addr())
		return nil
	}
}

// Stop shuts the listener down, waiting for in-flight requests up to
// the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
