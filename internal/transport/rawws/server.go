package rawws

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"

	"github.com/omochice/roomchat/internal/chat"
)

const handshakeTimeout = 10 * time.Second

// Server accepts TCP connections, upgrades them to WebSocket and delegates
// to a chat.Handler.
type Server struct {
	address  string
	handler  chat.Handler
	logger   *slog.Logger
	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]bool
	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	wg       sync.WaitGroup
}

// New creates a raw WebSocket server that uses the provided handler.
func New(address string, handler chat.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address: address,
		handler: handler,
		logger:  logger,
		conns:   make(map[net.Conn]bool),
		ctx:     ctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
	}
}

// Listen binds the listening socket. Start calls it if needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start raw websocket server: %w", err)
	}
	s.listener = listener
	return nil
}

// Start starts accepting connections. It blocks until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	s.logger.Info("raw websocket server started", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.logger.Warn("failed to accept connection", "error", err)
				continue
			}
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.serve(conn)
	}
}

// track registers conn unless Stop has begun. Stop closes quit under the
// same lock, so no wg.Add can follow its Wait.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[conn] = true
	s.wg.Add(1)
	return true
}

// Stop stops the server and closes live connections.
func (s *Server) Stop() {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		return
	default:
	}
	close(s.quit)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := ws.Upgrade(conn); err != nil {
		s.logger.Warn("websocket handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	s.handler.HandleConn(s.ctx, NewConn(conn, ws.StateServerSide))
}

// Dialer opens client connections with gobwas/ws.
type Dialer struct{}

// Dial connects to a ws:// URL served by Server.
func (Dialer) Dial(ctx context.Context, url string) (chat.Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return newBufferedConn(conn, br, ws.StateClientSide), nil
}
