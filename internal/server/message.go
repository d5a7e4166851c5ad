package server

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/pkg/protocol"
)

// handleMessage persists a message from a joined connection, confirms it to
// the sender and pushes it to everyone else.
func (d *Dispatcher) handleMessage(ctx context.Context, client *chat.Client, req protocol.SendMessage, logger *slog.Logger) {
	ctx, span := d.tracer.Start(ctx, "chat.message",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("chat.conn_id", client.ID),
			attribute.String("chat.room_id", req.RoomID),
		),
	)
	defer span.End()

	fail := func(reason string) {
		span.SetStatus(codes.Error, reason)
		d.reject(client, "message", protocol.Error{Reason: reason, ClientID: req.ClientID})
	}

	userID, username, ok := client.Identity()
	if !ok {
		fail(reasonJoinRequired)
		return
	}

	content, err := chat.NormalizeMessage(req.Content)
	if err != nil {
		fail(err.Error())
		return
	}

	room, err := d.store.FindRoom(ctx, req.RoomID)
	if err != nil {
		logger.Error("failed to find room", "room", req.RoomID, "error", err)
		fail(reasonSendFailed)
		return
	}
	if room == nil {
		if req.RoomID != protocol.DefaultRoomID {
			fail(reasonRoomNotFound)
			return
		}
		if room, err = d.store.EnsureRoom(ctx, protocol.DefaultRoomID, protocol.DefaultRoomName); err != nil {
			logger.Error("failed to ensure default room", "error", err)
			fail(reasonSendFailed)
			return
		}
	}
	if !room.HasParticipant(userID) {
		if room.ID != protocol.DefaultRoomID {
			fail(reasonNotMember)
			return
		}
		if err := d.store.UpsertRoomParticipant(ctx, room.ID, userID, protocol.RoleMember); err != nil {
			logger.Error("failed to add participant", "user", username, "error", err)
			fail(reasonSendFailed)
			return
		}
	}

	msg := &protocol.Message{
		ClientID:       req.ClientID,
		Content:        content,
		SenderID:       userID,
		SenderUsername: username,
		RoomID:         room.ID,
		Type:           req.Type,
		Status:         protocol.StatusSent,
		Metadata:       req.Metadata,
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		logger.Error("failed to create message", "user", username, "error", err)
		span.RecordError(err)
		fail(reasonSendFailed)
		return
	}
	d.metrics.messageStored()
	span.SetAttributes(attribute.String("chat.message_id", msg.ID))

	if err := d.store.SetRoomLastMessage(ctx, room.ID, msg.ID); err != nil {
		logger.Warn("failed to update room last message", "room", room.ID, "error", err)
	}

	d.send(client, protocol.MessageSent{Message: *msg})
	d.broadcast(protocol.MessagePush{Message: *msg}, client)
	span.SetStatus(codes.Ok, "")
}
