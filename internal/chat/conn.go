// Package chat provides the connection registry and validation rules shared
// by every transport.
package chat

import (
	"context"
	"errors"
)

// ErrUnsupportedFrame is returned by Read when the peer sends a frame that
// is not a text frame.
var ErrUnsupportedFrame = errors.New("unsupported frame type")

// Conn abstracts a bidirectional message-oriented connection.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read reads a single text frame (one JSON envelope).
	// Returns io.EOF when connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single text frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Handler serves one accepted connection until it closes.
type Handler interface {
	HandleConn(ctx context.Context, conn Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn Conn)

// HandleConn calls f(ctx, conn).
func (f HandlerFunc) HandleConn(ctx context.Context, conn Conn) {
	f(ctx, conn)
}
