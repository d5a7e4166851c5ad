package server

import (
	"context"
	"time"

	"github.com/omochice/roomchat/pkg/protocol"
)

// Store is the persistence the dispatcher needs. Lookups of absent records
// return nil without an error.
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*protocol.User, error)
	UpsertUser(ctx context.Context, username string) (*protocol.User, error)
	SetUserOffline(ctx context.Context, userID string, at time.Time) error
	ListUsers(ctx context.Context) ([]protocol.User, error)
	ReconcilePresence(ctx context.Context, onlineIDs []string, at time.Time) error

	CreateMessage(ctx context.Context, msg *protocol.Message) error
	FindRecentMessages(ctx context.Context, roomID string, limit int) ([]protocol.Message, error)

	FindRooms(ctx context.Context) ([]protocol.Room, error)
	FindRoom(ctx context.Context, id string) (*protocol.Room, error)
	EnsureRoom(ctx context.Context, id, name string) (*protocol.Room, error)
	UpsertRoomParticipant(ctx context.Context, roomID, userID string, role protocol.Role) error
	SetRoomLastMessage(ctx context.Context, roomID, messageID string) error
}
