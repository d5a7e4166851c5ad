package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/pkg/protocol"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultJoinTimeout    = 5 * time.Second
	DefaultHeartbeat      = 30 * time.Second
	DefaultReconnectBase  = time.Second
	DefaultReconnectMax   = 30 * time.Second
	DefaultMaxAttempts    = 5

	defaultQueueSize = 64
	mailboxSize      = 64

	errInvalidServerMessage = "invalid message from server"
)

// Dialer opens a transport to the chat server. Both transport packages
// provide one.
type Dialer interface {
	Dial(ctx context.Context, url string) (chat.Conn, error)
}

// Options configures a Connection. Zero durations take the defaults above.
type Options struct {
	URL            string
	Dialer         Dialer
	ConnectTimeout time.Duration
	JoinTimeout    time.Duration
	Heartbeat      time.Duration
	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
	MaxAttempts    int
	QueueSize      int
	Logger         *slog.Logger
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = DefaultReconnectBase
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = DefaultReconnectMax
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Status describes the transport side of a Connection.
type Status struct {
	Connected    bool
	Reconnecting bool
	Attempts     int
	NextDelay    time.Duration
	Exhausted    bool
	Error        string
}

// Backoff returns the delay before reconnect attempt number attempts:
// base doubled attempts times, capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	d := base
	for range attempts {
		d *= 2
		if d >= max {
			return max
		}
	}
	return min(d, max)
}

// transport is one open socket together with its goroutines.
type transport struct {
	gen  uint64
	conn chat.Conn
	out  chan []byte
	done chan struct{}
}

// Connection is the single shared link to the chat server. Every transport
// event, timer and state change runs on one loop goroutine; public methods
// post work to it and read published snapshots.
type Connection struct {
	opts   Options
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mailbox chan func()
	stopped chan struct{}

	// Owned by the loop.
	tr             *transport
	gen            uint64
	wantOpen       bool
	status         Status
	reconnectTimer *time.Timer
	session        session
	messages       *MessageLog
	directory      *Directory

	mu       sync.RWMutex
	snapshot State
	subs     map[int]chan State
	nextSub  int
}

// NewConnection starts the loop of a Connection bound to ctx. Cancelling
// ctx, or calling Close, tears it down.
func NewConnection(ctx context.Context, opts Options) *Connection {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		opts:      opts,
		logger:    opts.Logger.With("url", opts.URL),
		ctx:       ctx,
		cancel:    cancel,
		mailbox:   make(chan func(), mailboxSize),
		stopped:   make(chan struct{}),
		session:   newSession(),
		messages:  NewMessageLog(),
		directory: NewDirectory(),
		subs:      make(map[int]chan State),
	}
	c.snapshot = c.buildState()
	go c.run()
	return c
}

func (c *Connection) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case fn := <-c.mailbox:
			fn()
			c.publish()
		}
	}
}

// post queues fn on the loop. It reports false once the Connection is closed.
func (c *Connection) post(fn func()) bool {
	select {
	case c.mailbox <- fn:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// do runs fn on the loop and waits for it. It must not be called from the
// loop itself.
func (c *Connection) do(fn func()) error {
	done := make(chan struct{})
	if !c.post(func() {
		fn()
		close(done)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrClosed
	}
}

// Connect opens a transport unless one is already open. Concurrent calls
// share a single attempt.
func (c *Connection) Connect(ctx context.Context) error {
	_, err, _ := c.group.Do("connect", func() (any, error) {
		return nil, c.connect(ctx)
	})
	return err
}

func (c *Connection) connect(ctx context.Context) error {
	var open bool
	if err := c.do(func() {
		open = c.tr != nil
		c.wantOpen = true
		c.stopReconnect()
	}); err != nil {
		return err
	}
	if open {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	conn, err := c.opts.Dialer.Dial(dialCtx, c.opts.URL)
	if err != nil {
		err = fmt.Errorf("failed to connect: %w", err)
		if doErr := c.do(func() { c.connectFailed(err) }); doErr != nil {
			return doErr
		}
		return err
	}

	var accepted bool
	if err := c.do(func() { accepted = c.opened(conn) }); err != nil || !accepted {
		conn.Close()
		if err == nil {
			err = ErrDisconnected
		}
		return err
	}
	return nil
}

// Disconnect closes the transport and stops reconnecting until the next
// Connect.
func (c *Connection) Disconnect() error {
	return c.do(func() {
		c.wantOpen = false
		c.stopReconnect()
		c.status.Reconnecting = false
		c.status.NextDelay = 0
		if c.tr != nil {
			c.closeTransport()
			c.disconnected(true)
		} else {
			c.directory.MarkAllOffline(c.opts.Now())
		}
		c.logger.Info("disconnected")
	})
}

// Close tears the Connection down for good.
func (c *Connection) Close() {
	c.cancel()
	<-c.stopped
}

// Status returns the latest published transport status.
func (c *Connection) Status() Status {
	return c.State().Status
}

func (c *Connection) opened(conn chat.Conn) bool {
	if !c.wantOpen || c.tr != nil {
		return false
	}
	c.gen++
	tr := &transport{
		gen:  c.gen,
		conn: conn,
		out:  make(chan []byte, c.opts.QueueSize),
		done: make(chan struct{}),
	}
	c.tr = tr
	c.status = Status{Connected: true}
	c.logger.Info("connected", "remote", conn.RemoteAddr())

	go c.readLoop(tr)
	go c.writeLoop(tr)
	go c.heartbeat(tr)

	c.rejoin()
	return true
}

func (c *Connection) connectFailed(err error) {
	c.logger.Warn("connect failed", "error", err)
	c.status.Error = err.Error()
	if c.wantOpen {
		c.scheduleReconnect()
	}
}

func (c *Connection) transportClosed(gen uint64, err error) {
	if c.tr == nil || c.tr.gen != gen {
		return
	}
	c.logger.Warn("connection lost", "error", err)
	c.closeTransport()
	c.disconnected(false)
	c.status.Error = "connection lost"
	if c.wantOpen {
		c.scheduleReconnect()
	}
}

// disconnected resets everything that only lives as long as a transport.
func (c *Connection) disconnected(explicit bool) {
	c.status.Connected = false
	c.session.disconnected()
	if n := c.messages.DropPending(); n > 0 {
		c.logger.Debug("dropped unconfirmed messages", "count", n)
	}
	if explicit {
		c.directory.MarkAllOffline(c.opts.Now())
	} else {
		c.directory.MarkOthersOffline(c.opts.Now())
	}
}

func (c *Connection) scheduleReconnect() {
	if c.status.Attempts >= c.opts.MaxAttempts {
		c.status.Reconnecting = false
		c.status.NextDelay = 0
		c.status.Exhausted = true
		c.status.Error = ErrReconnectExhausted.Error()
		c.logger.Error("giving up reconnecting", "attempts", c.status.Attempts)
		return
	}
	c.status.Attempts++
	delay := Backoff(c.status.Attempts, c.opts.ReconnectBase, c.opts.ReconnectMax)
	c.status.Reconnecting = true
	c.status.NextDelay = delay
	c.logger.Info("reconnect scheduled", "attempt", c.status.Attempts, "delay", delay)

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.post(func() {
			if c.reconnectTimer != t || !c.wantOpen {
				return
			}
			c.reconnectTimer = nil
			go func() {
				// connectFailed has already recorded the failure in status.
				if err := c.Connect(c.ctx); err != nil {
					c.logger.Debug("reconnect attempt failed", "error", err)
				}
			}()
		})
	})
	c.reconnectTimer = t
}

func (c *Connection) stopReconnect() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Connection) closeTransport() {
	tr := c.tr
	c.tr = nil
	close(tr.done)
	close(tr.out)
	tr.conn.Close()
}

func (c *Connection) shutdown() {
	c.stopReconnect()
	if c.tr != nil {
		c.closeTransport()
	}
	c.session.disconnected()
	c.mu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
}

// send encodes ev onto the open transport without blocking the loop.
func (c *Connection) send(ev protocol.Event) error {
	if c.tr == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ev.EventType(), err)
	}
	select {
	case c.tr.out <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Connection) readLoop(tr *transport) {
	for {
		data, err := tr.conn.Read(c.ctx)
		if err != nil {
			c.post(func() { c.transportClosed(tr.gen, err) })
			return
		}

		ev, err := protocol.DecodeFromServer(data)
		if err != nil {
			var unknown *protocol.UnknownEventError
			if errors.As(err, &unknown) {
				c.logger.Debug("ignoring unknown event", "eventType", unknown.Type)
				continue
			}
			c.logger.Warn("failed to decode event", "error", err)
			if !c.post(func() {
				if c.tr == tr {
					c.status.Error = errInvalidServerMessage
				}
			}) {
				return
			}
			continue
		}
		if !c.post(func() {
			if c.tr == tr {
				c.handleEvent(ev)
			}
		}) {
			return
		}
	}
}

func (c *Connection) writeLoop(tr *transport) {
	for data := range tr.out {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectTimeout)
		err := tr.conn.Write(ctx, data)
		cancel()
		if err != nil {
			// The reader sees the close and reports it to the loop.
			c.logger.Warn("failed to write", "error", err)
			tr.conn.Close()
			return
		}
	}
}

func (c *Connection) heartbeat(tr *transport) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-tr.done:
			return
		case <-ticker.C:
			c.post(func() {
				if c.tr == tr {
					if err := c.send(protocol.Ping{}); err != nil {
						c.logger.Debug("heartbeat not sent", "error", err)
					}
				}
			})
		}
	}
}

func (c *Connection) handleEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.Joined:
		c.joined(e)
	case protocol.MessagePush:
		c.messages.Reconcile(e.Message)
	case protocol.MessageSent:
		c.messages.Reconcile(e.Message)
	case protocol.MessageHistory:
		c.messages.Replace(e.Messages)
	case protocol.Users:
		c.directory.SetUsers(e.Users)
	case protocol.UserLeft:
		c.directory.MarkOffline(e.User.ID, e.User.LastSeen)
	case protocol.Rooms:
		c.directory.SetRooms(e.Rooms)
	case protocol.Pong:
		c.logger.Debug("pong")
	case protocol.Error:
		c.serverError(e)
	}
}

func (c *Connection) serverError(e protocol.Error) {
	c.logger.Warn("server error", "reason", e.Reason, "clientId", e.ClientID, "requestId", e.RequestID)
	c.status.Error = e.Reason
	if e.ClientID != "" {
		c.messages.RemovePending(e.ClientID)
	}
	if e.ClientID == "" {
		c.joinRejected(e)
	}
}

// State returns the latest published snapshot.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Subscribe returns a channel that receives the newest State after every
// change. Slow readers only see the latest one.
func (c *Connection) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshot
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Connection) publish() {
	s := c.buildState()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = s
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (c *Connection) buildState() State {
	s := State{
		Status:   c.status,
		Join:     c.session.state,
		Messages: c.messages.Messages(),
		Users:    c.directory.Users(),
		Rooms:    c.directory.Rooms(),
	}
	if u, ok := c.directory.CurrentUser(); ok {
		s.CurrentUser = &u
	}
	return s
}
