package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/pkg/protocol"
)

// handleJoin binds a username to the connection, finding or creating the
// stored user, and places it in the default room.
func (d *Dispatcher) handleJoin(ctx context.Context, client *chat.Client, req protocol.Join, logger *slog.Logger) {
	ctx, span := d.tracer.Start(ctx, "chat.join",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("chat.conn_id", client.ID)),
	)
	defer span.End()

	username, err := chat.NormalizeUsername(req.Username)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.reject(client, "join", protocol.Error{Reason: err.Error(), RequestID: req.RequestID})
		return
	}
	span.SetAttributes(attribute.String("chat.username", username))

	if _, bound, ok := client.Identity(); ok {
		if bound != username {
			span.SetStatus(codes.Error, "already joined")
			d.reject(client, "join", protocol.Error{
				Reason:    fmt.Sprintf("already joined as %s", bound),
				RequestID: req.RequestID,
			})
			return
		}
		// Re-join under the same name is answered like the first one.
		user, err := d.store.FindUserByUsername(ctx, username)
		if err != nil || user == nil {
			d.joinFailed(client, req, span, logger, err)
			return
		}
		d.send(client, protocol.Joined{User: *user, RequestID: req.RequestID})
		return
	}

	user, err := d.store.UpsertUser(ctx, username)
	if err != nil {
		if errors.Is(err, chat.ErrUsernameTaken) {
			span.SetStatus(codes.Error, err.Error())
			d.reject(client, "join", protocol.Error{Reason: err.Error(), RequestID: req.RequestID})
			return
		}
		d.joinFailed(client, req, span, logger, err)
		return
	}
	client.Bind(user.ID, user.Username)
	span.SetAttributes(attribute.String("chat.user_id", user.ID))

	if _, err := d.store.EnsureRoom(ctx, protocol.DefaultRoomID, protocol.DefaultRoomName); err != nil {
		logger.Error("failed to ensure default room", "error", err)
	} else if err := d.store.UpsertRoomParticipant(ctx, protocol.DefaultRoomID, user.ID, protocol.RoleMember); err != nil {
		logger.Error("failed to add participant", "user", user.Username, "error", err)
	}

	d.send(client, protocol.Joined{User: *user, RequestID: req.RequestID})
	logger.Info("user joined", "user", user.Username)

	if rooms, err := d.store.FindRooms(ctx); err != nil {
		logger.Error("failed to list rooms", "error", err)
	} else {
		d.send(client, protocol.Rooms{Rooms: rooms})
	}

	d.broadcastUserList(ctx)
	span.SetStatus(codes.Ok, "")
}

func (d *Dispatcher) joinFailed(client *chat.Client, req protocol.Join, span trace.Span, logger *slog.Logger, err error) {
	if err == nil {
		err = errors.New("user vanished during join")
	}
	logger.Error("failed to join", "username", req.Username, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.reject(client, "join", protocol.Error{Reason: reasonJoinFailed, RequestID: req.RequestID})
}
