// Package client keeps a live view of the chat: one shared Connection with
// reconnects, the join handshake, the reconciled message list and the user
// directory.
package client

import (
	"context"
	"errors"

	"github.com/omochice/roomchat/pkg/protocol"
)

var (
	ErrNotConnected       = errors.New("not connected")
	ErrNotReady           = errors.New("connection not ready")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrJoinTimeout        = errors.New("join timed out")
	ErrAlreadyJoined      = errors.New("already joined under a different username")
	ErrJoinInProgress     = errors.New("join already in progress under a different username")
	ErrDisconnected       = errors.New("disconnected")
	ErrReconnectExhausted = errors.New("connection failed after multiple attempts")
	ErrQueueFull          = errors.New("send queue full")
	ErrClosed             = errors.New("connection closed")
)

// ServerError is a rejection reported by the server.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string {
	return e.Reason
}

// State is an immutable snapshot of everything the client knows. Its
// slices must not be modified.
type State struct {
	Status      Status
	Join        JoinState
	CurrentUser *protocol.User
	Messages    []protocol.Message
	Users       []protocol.User
	Rooms       []protocol.Room
}

// OnlineUsers returns the online part of Users.
func (s State) OnlineUsers() []protocol.User {
	return filterUsers(s.Users, true)
}

// OfflineUsers returns the offline part of Users.
func (s State) OfflineUsers() []protocol.User {
	return filterUsers(s.Users, false)
}

// Client is one view onto a shared Connection.
type Client struct {
	conn        *Connection
	updates     <-chan State
	unsubscribe func()
}

// New creates a view of conn. Close releases its update subscription.
func New(conn *Connection) *Client {
	updates, unsubscribe := conn.Subscribe()
	return &Client{conn: conn, updates: updates, unsubscribe: unsubscribe}
}

// Close stops update delivery. The shared Connection stays open.
func (c *Client) Close() {
	c.unsubscribe()
}

// Updates delivers the newest State after every change.
func (c *Client) Updates() <-chan State {
	return c.updates
}

func (c *Client) State() State {
	return c.conn.State()
}

func (c *Client) IsConnected() bool {
	return c.conn.State().Status.Connected
}

func (c *Client) IsReconnecting() bool {
	return c.conn.State().Status.Reconnecting
}

func (c *Client) Messages() []protocol.Message {
	return c.conn.State().Messages
}

func (c *Client) Users() []protocol.User {
	return c.conn.State().Users
}

func (c *Client) Rooms() []protocol.Room {
	return c.conn.State().Rooms
}

func (c *Client) CurrentUser() (protocol.User, bool) {
	if u := c.conn.State().CurrentUser; u != nil {
		return *u, true
	}
	return protocol.User{}, false
}

// Error returns the last error shown to the user, or "".
func (c *Client) Error() string {
	return c.conn.State().Status.Error
}

// ClearError dismisses the current error.
func (c *Client) ClearError() error {
	return c.conn.do(func() { c.conn.status.Error = "" })
}

func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

func (c *Client) Disconnect() error {
	return c.conn.Disconnect()
}

func (c *Client) SendMessage(ctx context.Context, req SendRequest) (protocol.Message, error) {
	return c.conn.SendMessage(ctx, req)
}

func (c *Client) JoinChat(ctx context.Context, username string) (protocol.User, error) {
	return c.conn.JoinChat(ctx, username)
}
