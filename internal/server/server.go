package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/omochice/roomchat/internal/transport/rawws"
)

// Config holds the listening addresses of a Server.
type Config struct {
	// Addr serves HTTP: the /ws endpoint, the REST API and metrics.
	Addr string
	// RawAddr, when set, also accepts WebSocket clients on a bare TCP
	// listener.
	RawAddr string
}

// Server runs the HTTP listener and the optional raw WebSocket listener in
// front of one Dispatcher.
type Server struct {
	cfg        Config
	dispatcher *Dispatcher
	logger     *slog.Logger
	http       *http.Server
	raw        *rawws.Server
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server. handler is usually the result of NewRouter.
func New(cfg Config, d *Dispatcher, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.http = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked WebSocket connections outlive Shutdown; cancelling the
		// base context ends their read loops.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	if cfg.RawAddr != "" {
		s.raw = rawws.New(cfg.RawAddr, d, logger)
	}
	return s
}

// Listen binds every configured listener without serving.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		listener, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		s.listener = listener
	}
	if s.raw != nil {
		return s.raw.Listen()
	}
	return nil
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	if s.raw != nil {
		go func() {
			if err := s.raw.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	s.logger.Info("server started", "addr", s.Addr(), "raw_addr", s.RawAddr())

	go func() {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		errCh <- s.http.Serve(listener)
	}()

	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, closes live ones and waits for
// their teardown or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.raw != nil {
		s.raw.Stop()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Addr returns the HTTP listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// RawAddr returns the raw WebSocket listening address, if enabled.
func (s *Server) RawAddr() string {
	if s.raw == nil {
		return ""
	}
	return s.raw.Addr()
}
