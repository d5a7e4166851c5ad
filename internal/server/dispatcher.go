// Package server implements the chat dispatcher and its HTTP surface.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/pkg/protocol"
)

const (
	// DefaultHistoryLimit is the number of messages sent on connect.
	DefaultHistoryLimit = 50

	defaultWriteTimeout = 10 * time.Second
	closeTimeout        = 5 * time.Second
)

// Client-visible rejection reasons.
const (
	reasonInvalidFormat = "invalid message format"
	reasonJoinRequired  = "join required before sending messages"
	reasonJoinFailed    = "failed to join chat"
	reasonSendFailed    = "failed to process message"
	reasonInitialData   = "failed to load initial data"
	reasonRoomNotFound  = "room not found"
	reasonNotMember     = "not a member of this room"
)

// Options configures a Dispatcher.
type Options struct {
	HistoryLimit int
	QueueSize    int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *Metrics
	Tracer       trace.Tracer
	Now          func() time.Time
}

// Dispatcher owns the connection registry, routes decoded events to their
// handlers and keeps stored presence in line with live connections.
type Dispatcher struct {
	store        Store
	registry     *chat.Registry
	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	historyLimit int
	queueSize    int
	writeTimeout time.Duration
	now          func() time.Time

	// presenceMu serializes reconcile-then-broadcast of the user list.
	presenceMu sync.Mutex
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher over store.
func NewDispatcher(store Store, opts Options) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		historyLimit: opts.HistoryLimit,
		queueSize:    opts.QueueSize,
		writeTimeout: opts.WriteTimeout,
		now:          opts.Now,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("github.com/omochice/roomchat/internal/server")
	}
	if d.historyLimit <= 0 {
		d.historyLimit = DefaultHistoryLimit
	}
	if d.writeTimeout <= 0 {
		d.writeTimeout = defaultWriteTimeout
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	d.registry = chat.NewRegistry(d.logger)
	return d
}

// Registry exposes the live connection registry.
func (d *Dispatcher) Registry() *chat.Registry {
	return d.registry
}

// Wait blocks until every connection handled so far has been torn down.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// HandleConn implements chat.Handler. It serves conn until it closes or ctx
// is cancelled.
func (d *Dispatcher) HandleConn(ctx context.Context, conn chat.Conn) {
	d.wg.Add(1)
	defer d.wg.Done()

	client := chat.NewClient(conn, d.queueSize)
	logger := d.logger.With("conn", client.ID, "remote", conn.RemoteAddr())

	d.registry.Register(client)
	d.metrics.connOpened()
	logger.Info("client connected")

	writerDone := make(chan struct{})
	go d.writeLoop(client, logger, writerDone)

	d.sendHistory(ctx, client, logger)
	d.broadcastUserList(ctx)

	d.readLoop(ctx, client, logger)

	d.handleClose(client, logger)
	<-writerDone
	conn.Close()
	d.metrics.connClosed()
	logger.Info("client disconnected")
}

func (d *Dispatcher) writeLoop(client *chat.Client, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for data := range client.Outgoing {
		ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
		err := client.Conn.Write(ctx, data)
		cancel()
		if err != nil {
			logger.Warn("failed to write to client", "error", err)
			// Unblock the reader; the queue is drained once it unregisters.
			client.Conn.Close()
			for range client.Outgoing {
			}
			return
		}
	}
}

func (d *Dispatcher) readLoop(ctx context.Context, client *chat.Client, logger *slog.Logger) {
	for {
		data, err := client.Conn.Read(ctx)
		if err != nil {
			if errors.Is(err, chat.ErrUnsupportedFrame) {
				d.metrics.decodeError()
				d.reject(client, "frame", protocol.Error{Reason: reasonInvalidFormat})
				continue
			}
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Warn("error reading from client", "error", err)
			}
			return
		}

		ev, err := protocol.DecodeFromClient(data)
		if err != nil {
			var unknown *protocol.UnknownEventError
			if errors.As(err, &unknown) {
				logger.Warn("unknown event type", "eventType", unknown.Type)
				continue
			}
			logger.Warn("failed to decode message", "error", err)
			d.metrics.decodeError()
			d.reject(client, "decode", protocol.Error{Reason: reasonInvalidFormat})
			continue
		}

		d.dispatch(ctx, client, ev, logger)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, client *chat.Client, ev protocol.Event, logger *slog.Logger) {
	start := time.Now()
	defer d.metrics.observeEvent(string(ev.EventType()), start)

	switch e := ev.(type) {
	case protocol.Join:
		d.handleJoin(ctx, client, e, logger)
	case protocol.SendMessage:
		d.handleMessage(ctx, client, e, logger)
	case protocol.Ping:
		d.send(client, protocol.Pong{})
	}
}

// handleClose releases the connection's identity. Offline state and
// userLeft are only emitted when this was the user's last connection.
func (d *Dispatcher) handleClose(client *chat.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	d.registry.Unregister(client)

	userID, username, bound := client.Identity()
	if !bound {
		return
	}
	if !d.registry.IsUserConnected(userID) {
		now := d.now()
		if err := d.store.SetUserOffline(ctx, userID, now); err != nil {
			logger.Error("failed to mark user offline", "user", username, "error", err)
		}
		d.broadcast(protocol.UserLeft{User: protocol.User{
			ID:       userID,
			Username: username,
			IsOnline: false,
			LastSeen: now,
		}}, nil)
		logger.Info("user left", "user", username)
	}
	d.broadcastUserList(ctx)
}

// broadcastUserList reconciles stored online flags with the registry and
// then pushes the full roster to every connection.
func (d *Dispatcher) broadcastUserList(ctx context.Context) {
	d.presenceMu.Lock()
	defer d.presenceMu.Unlock()

	if err := d.store.ReconcilePresence(ctx, d.registry.OnlineUserIDs(), d.now()); err != nil {
		d.logger.Error("failed to reconcile presence", "error", err)
	}
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		d.logger.Error("failed to list users", "error", err)
		return
	}
	d.broadcast(protocol.Users{Users: users}, nil)
	d.metrics.userListBroadcasted()
}

func (d *Dispatcher) sendHistory(ctx context.Context, client *chat.Client, logger *slog.Logger) {
	messages, err := d.store.FindRecentMessages(ctx, "", d.historyLimit)
	if err != nil {
		logger.Error("failed to load history", "error", err)
		d.reject(client, "history", protocol.Error{Reason: reasonInitialData})
		return
	}
	d.send(client, protocol.MessageHistory{Messages: messages})
}

func (d *Dispatcher) send(client *chat.Client, ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		d.logger.Error("failed to encode event", "eventType", ev.EventType(), "error", err)
		return
	}
	d.registry.Send(client, data)
}

// reject answers a request with an error envelope; cause labels the metric.
func (d *Dispatcher) reject(client *chat.Client, cause string, ev protocol.Error) {
	d.metrics.rejectedEvent(cause)
	d.send(client, ev)
}

func (d *Dispatcher) broadcast(ev protocol.Event, except *chat.Client) {
	data, err := protocol.Encode(ev)
	if err != nil {
		d.logger.Error("failed to encode event", "eventType", ev.EventType(), "error", err)
		return
	}
	d.registry.Broadcast(data, except)
}
