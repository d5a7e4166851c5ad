// Package rawws provides a WebSocket transport on a plain TCP listener,
// framed with gobwas/ws instead of net/http.
package rawws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/roomchat/internal/chat"
)

// Conn adapts a WebSocket-upgraded net.Conn to chat.Conn interface.
type Conn struct {
	conn  net.Conn
	r     io.Reader
	state ws.State
	wmu   sync.Mutex
	once  sync.Once
}

// NewConn wraps an upgraded net.Conn. state tells which side of the
// handshake this end is on, which decides frame masking.
func NewConn(conn net.Conn, state ws.State) *Conn {
	return &Conn{conn: conn, r: conn, state: state}
}

func newBufferedConn(conn net.Conn, br *bufio.Reader, state ws.State) *Conn {
	c := NewConn(conn, state)
	if br != nil {
		c.r = &pooledReader{br: br, conn: conn}
	}
	return c
}

// pooledReader serves the bytes buffered during the handshake, then hands
// the bufio.Reader back to gobwas and reads the socket directly.
type pooledReader struct {
	br   *bufio.Reader
	conn net.Conn
}

func (r *pooledReader) Read(p []byte) (int, error) {
	if r.br == nil {
		return r.conn.Read(p)
	}
	n, err := r.br.Read(p)
	if r.br.Buffered() == 0 {
		ws.PutReader(r.br)
		r.br = nil
		if err == io.EOF {
			err = nil
		}
	}
	return n, err
}

// Read implements chat.Conn.
// Control frames are answered inline; only text frames are returned.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer func() {
		stop()
		c.conn.SetReadDeadline(time.Time{})
	}()

	data, op, err := wsutil.ReadData(lockedReadWriter{c}, c.state)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var closed wsutil.ClosedError
		if errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	if op != ws.OpText {
		return nil, chat.ErrUnsupportedFrame
	}
	return data, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := wsutil.WriteMessage(c.conn, c.state, ws.OpText, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close implements chat.Conn. It sends a close frame before closing the
// socket.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.wmu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		wsutil.WriteMessage(c.conn, c.state, ws.OpClose, body)
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// lockedReadWriter lets wsutil answer pings and close frames from the read
// path without racing the writer goroutine.
type lockedReadWriter struct {
	c *Conn
}

func (rw lockedReadWriter) Read(p []byte) (int, error) {
	return rw.c.r.Read(p)
}

func (rw lockedReadWriter) Write(p []byte) (int, error) {
	rw.c.wmu.Lock()
	defer rw.c.wmu.Unlock()
	return rw.c.conn.Write(p)
}
