// Package ws runs the draft gateway: a WebSocket endpoint through which an
// editing client streams field contents and receives moderation state as the
// author types.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/logging"
	"github.com/whisper/contentguard/internal/metrics"
	"github.com/whisper/contentguard/internal/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 10000,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades HTTP requests to WebSocket connections and runs one read
// goroutine per connection. Each connection owns timers for its drafts, so
// the goroutine-per-connection model keeps that state next to the reader.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(connID string)
	allowConnect func(r *http.Request) bool
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
	log          *zap.Logger
}

// NewServer creates a Server. onMessage is called from the connection's read
// goroutine for every complete text frame.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		onMessage: onMessage,
		done:      make(chan struct{}),
		startedAt: time.Now(),
		log:       logging.Named("ws"),
	}
}

// Handler returns the HTTP handler serving /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start begins accepting connections and runs the heartbeat. It blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	StartHeartbeat(s, s.config.Heartbeat)

	s.log.Info("server listening",
		zap.String("addr", s.config.ListenAddr),
		zap.Int("max_conns", s.config.MaxConnections))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// SetOnDisconnect registers a callback invoked once when a connection is
// removed, whatever the cause.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// SetConnectFilter installs a check run before every upgrade; returning
// false rejects the request with 429.
func (s *Server) SetConnectFilter(fn func(r *http.Request) bool) {
	s.allowConnect = fn
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if s.allowConnect != nil && !s.allowConnect(r) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(uuid.NewString(), conn)
	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()

	msg, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: c.ID,
	})
	if err == nil {
		err = s.write(c, msg)
	}
	if err != nil {
		s.log.Warn("send session_created failed", zap.String("session", c.ID), zap.Error(err))
	}

	s.log.Debug("new connection", zap.String("session", c.ID), zap.Int("total", s.conns.Count()))
	go s.readLoop(c)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// readLoop reads messages until the connection fails or closes. Control
// frames are answered here; oversized messages close the connection.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	rd := &wsutil.Reader{
		Source:       c.Conn,
		State:        ws.StateServerSide,
		CheckUTF8:    true,
		MaxFrameSize: protocol.MaxFrameBytes,
	}
	for {
		header, err := rd.NextFrame()
		if err != nil {
			if errors.Is(err, wsutil.ErrFrameTooLarge) {
				s.log.Warn("frame too large", zap.String("session", c.ID))
			}
			return
		}
		c.Touch()

		if header.OpCode.IsControl() {
			payload, err := io.ReadAll(rd)
			if err != nil {
				return
			}
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				_ = c.writeFrame(ws.NewPongFrame(payload))
			}
			continue
		}

		if header.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(rd, protocol.MaxFrameBytes+1))
		if err != nil {
			return
		}
		if len(data) > protocol.MaxFrameBytes {
			s.log.Warn("message too large", zap.String("session", c.ID))
			return
		}
		if len(data) == 0 || s.onMessage == nil {
			continue
		}
		s.onMessage(c, data)
	}
}

// RemoveConnection unregisters and closes c. Only the first call for a given
// connection has any effect.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
	s.log.Debug("connection closed", zap.String("session", c.ID), zap.Int("total", s.conns.Count()))
}

// SendMessage writes a text frame to the connection identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return s.write(c, data)
}

func (s *Server) write(c *Connection, data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return c.WriteMessage(data)
}

// Connections returns the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the listener and heartbeat and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	close(s.done)

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	return err
}

// remoteIP strips the port from r.RemoteAddr.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
