// Package transport serves the hermitd wire protocol on a Unix-domain
// socket. Each connection is strict request/response; any number of
// connections (up to a cap) are served concurrently.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/net/netutil"
)

// levelTrace mirrors config.LevelTrace for per-connection tracing.
const levelTrace = slog.Level(-8)

// Defaults applied when [Config] fields are zero.
const (
	DefaultSocketPath     = "/tmp/hermitd.sock"
	DefaultSocketMode     = os.FileMode(0o666)
	DefaultMaxConnections = 64

	// MaxMessageSize bounds one framed message in either framing.
	MaxMessageSize = 1 << 20
)

// Framing selects how messages are delimited on a connection.
type Framing string

// Supported framings.
const (
	// FramingLine carries one message per newline-terminated line.
	FramingLine Framing = "line"
	// FramingWebSocket carries one message per websocket text message,
	// after an HTTP upgrade at "/".
	FramingWebSocket Framing = "websocket"
)

// Handler answers one raw message. The dispatcher satisfies it.
type Handler interface {
	Handle(ctx context.Context, raw []byte) []byte
}

// Config describes where and how to listen.
type Config struct {
	SocketPath     string
	Framing        Framing
	SocketMode     os.FileMode
	MaxConnections int
	Logger         *slog.Logger
}

// Server accepts connections and feeds their messages to a Handler.
type Server struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a Server. Call [Server.Serve] to start it.
func NewServer(cfg Config, h Handler) *Server {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.Framing == "" {
		cfg.Framing = FramingLine
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = DefaultSocketMode
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: h,
		logger:  cfg.Logger.With("component", "transport"),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve listens on the socket and blocks until ctx is cancelled. On
// return every connection is closed and the socket file removed.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	defer os.Remove(s.cfg.SocketPath)

	s.logger.Info("listening",
		"socket", s.cfg.SocketPath,
		"framing", s.cfg.Framing,
		"max_connections", s.cfg.MaxConnections,
	)

	switch s.cfg.Framing {
	case FramingLine:
		return s.serveLines(ctx, ln)
	case FramingWebSocket:
		return s.serveWebSocket(ctx, ln)
	default:
		ln.Close()
		return fmt.Errorf("unknown framing %q", s.cfg.Framing)
	}
}

func (s *Server) listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := removeStaleSocket(s.cfg.SocketPath); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, s.cfg.SocketMode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return netutil.LimitListener(ln, s.cfg.MaxConnections), nil
}

// removeStaleSocket deletes a leftover socket from a previous run. Any
// other kind of file at the path is left alone.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket path: %w", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("socket path %s exists and is not a socket", path)
	}
	return os.Remove(path)
}

// track registers a live connection. It returns false once the server
// is shutting down. Every successful track must be paired with untrack.
func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != nil {
		delete(s.conns, c)
	}
	s.wg.Done()
}

// closeAll closes every tracked connection and refuses new ones.
func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = nil
}
