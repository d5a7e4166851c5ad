// Package ws provides the WebSocket transport served over HTTP.
package ws

import (
	"context"
	"errors"
	"io"
	"net"

	"nhooyr.io/websocket"

	"github.com/omochice/roomchat/internal/chat"
)

// ReadLimit bounds a single inbound frame. History frames carry up to 50
// messages of 5000 characters each.
const ReadLimit = 1 << 20

// Conn adapts nhooyr.io/websocket to chat.Conn interface.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string
}

// NewConn wraps a websocket.Conn with empty remote address.
func NewConn(conn *websocket.Conn) *Conn {
	return NewConnWithAddr(conn, "")
}

// NewConnWithAddr wraps a websocket.Conn with the specified remote address.
func NewConnWithAddr(conn *websocket.Conn, addr string) *Conn {
	conn.SetReadLimit(ReadLimit)
	return &Conn{conn: conn, remoteAddr: addr}
}

// Read implements chat.Conn.
// Reads a text message from the WebSocket connection.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		if isClosed(err) {
			return nil, io.EOF
		}
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, chat.ErrUnsupportedFrame
	}
	return data, nil
}

// Write implements chat.Conn.
// Writes a text message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil && isClosed(err) {
		return nil
	}
	return err
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
