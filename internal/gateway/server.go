// Package gateway exposes the HTTP control API, the provider webhook
// endpoint, and a WebSocket event stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/msgvault/msgvault/internal/config"
	"github.com/msgvault/msgvault/internal/history"
	"github.com/msgvault/msgvault/internal/ingest"
	"github.com/msgvault/msgvault/internal/logging"
	"github.com/msgvault/msgvault/internal/provider"
	"github.com/msgvault/msgvault/internal/session"
	"github.com/msgvault/msgvault/internal/store"
)

// Server is the msgvault gateway HTTP + WebSocket server.
type Server struct {
	cfg        config.GatewayConfig
	log        *logging.Logger
	hub        *Hub
	manager    *session.Manager
	ingestor   *ingest.Ingestor
	messages   *store.MessageStore
	rules      *store.RuleStore
	reconciler *history.Reconciler
	qr         func(payload string) (string, error)

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// Deps are the wired components the gateway serves.
type Deps struct {
	Hub        *Hub
	Manager    *session.Manager
	Ingestor   *ingest.Ingestor
	Messages   *store.MessageStore
	Rules      *store.RuleStore
	Reconciler *history.Reconciler
}

// New creates a gateway server.
func New(cfg config.GatewayConfig, deps Deps, log *logging.Logger) *Server {
	return &Server{
		cfg:        cfg,
		log:        log.Sub("gateway"),
		hub:        deps.Hub,
		manager:    deps.Manager,
		ingestor:   deps.Ingestor,
		messages:   deps.Messages,
		rules:      deps.Rules,
		reconciler: deps.Reconciler,
		qr:         provider.EncodeQR,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin
// headers. With no origins configured, only same-origin or non-browser
// clients are allowed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins serving. It blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Msg("gateway server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades the connection and streams hub events until the
// client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(1 * 1024 * 1024)

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new websocket client")

	out := s.hub.add(conn)
	go s.hub.writeLoop(conn, out)

	// Drain the read side so pings and closes are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.remove(conn)
	conn.Close()
}
