package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/pkg/protocol"
)

// ErrNotFound is returned by updates that match no row.
var ErrNotFound = errors.New("record not found")

// Repository provides access to chat storage. Lookups of absent records
// return nil without an error.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository creates a new chat repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// FindUserByUsername retrieves a user by exact username.
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*protocol.User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	u := user.toProtocol()
	return &u, nil
}

// UpsertUser finds the user by exact username or creates it, then marks
// it online. A name that differs from an existing one only by case yields
// chat.ErrUsernameTaken.
func (r *Repository) UpsertUser(ctx context.Context, username string) (*protocol.User, error) {
	var user User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&user, "username = ?", username).Error
		switch {
		case err == nil:
			user.IsOnline = true
			if err := tx.Model(&user).Update("is_online", true).Error; err != nil {
				return fmt.Errorf("failed to mark user online: %w", err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			now := r.now()
			user = User{
				ID:          uuid.New().String(),
				Username:    username,
				UsernameKey: strings.ToLower(username),
				IsOnline:    true,
				LastSeen:    now,
			}
			if err := tx.Create(&user).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return chat.ErrUsernameTaken
				}
				return fmt.Errorf("failed to create user: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("failed to find user: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}
	u := user.toProtocol()
	return &u, nil
}

// SetUserOffline marks a user offline and stamps lastSeen.
func (r *Repository) SetUserOffline(ctx context.Context, userID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		Updates(map[string]any{"is_online": false, "last_seen": at.UTC()})
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to mark user offline: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers retrieves all users ordered by username, ignoring case.
func (r *Repository) ListUsers(ctx context.Context) ([]protocol.User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Order("username_key").Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	out := make([]protocol.User, 0, len(users))
	for i := range users {
		out = append(out, users[i].toProtocol())
	}
	return out, nil
}

// ReconcilePresence forces the given users online and every other online
// user offline, stamping lastSeen on the latter.
func (r *Repository) ReconcilePresence(ctx context.Context, onlineIDs []string, at time.Time) error {
	at = at.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&User{}).Where("is_online = ?", true)
		if len(onlineIDs) > 0 {
			stale = stale.Where("id NOT IN ?", onlineIDs)
		}
		if err := stale.Updates(map[string]any{"is_online": false, "last_seen": at}).Error; err != nil {
			return err
		}
		if len(onlineIDs) == 0 {
			return nil
		}
		return tx.Model(&User{}).Where("id IN ?", onlineIDs).Where("is_online = ?", false).
			Update("is_online", true).Error
	})
	if err != nil {
		return fmt.Errorf("failed to reconcile presence: %w", err)
	}
	return nil
}

// CreateMessage persists a confirmed message. ID, status and timestamps are
// assigned when empty.
func (r *Repository) CreateMessage(ctx context.Context, msg *protocol.Message) error {
	now := r.now()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = protocol.StatusSent
	}
	if msg.Type == "" {
		msg.Type = protocol.MessageTypeText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Pending = false

	if err := r.db.WithContext(ctx).Create(messageFromProtocol(msg)).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// FindRecentMessages retrieves up to limit of the newest messages in
// chronological order. An empty roomID searches every room.
func (r *Repository) FindRecentMessages(ctx context.Context, roomID string, limit int) ([]protocol.Message, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if roomID != "" {
		q = q.Where("room_id = ?", roomID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var messages []Message
	if err := q.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	slices.Reverse(messages)
	out := make([]protocol.Message, 0, len(messages))
	for i := range messages {
		out = append(out, messages[i].toProtocol())
	}
	return out, nil
}

func (r *Repository) roomQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at").Order("user_id")
		}).
		Preload("LastMessage")
}

// FindRooms retrieves every room with participants and last message.
func (r *Repository) FindRooms(ctx context.Context) ([]protocol.Room, error) {
	var rooms []Room
	if err := r.roomQuery(ctx).Order("created_at").Order("id").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to find rooms: %w", err)
	}
	out := make([]protocol.Room, 0, len(rooms))
	for i := range rooms {
		out = append(out, rooms[i].toProtocol())
	}
	return out, nil
}

// FindRoom retrieves a room by ID.
func (r *Repository) FindRoom(ctx context.Context, id string) (*protocol.Room, error) {
	var room Room
	if err := r.roomQuery(ctx).First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	out := room.toProtocol()
	return &out, nil
}

// EnsureRoom returns the room with the given ID, creating it if absent.
func (r *Repository) EnsureRoom(ctx context.Context, id, name string) (*protocol.Room, error) {
	room := Room{ID: id, Name: name}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&room).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	found, err := r.FindRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("room %q vanished after create: %w", id, ErrNotFound)
	}
	return found, nil
}

// UpsertRoomParticipant adds userID to the room unless already present.
func (r *Repository) UpsertRoomParticipant(ctx context.Context, roomID, userID string, role protocol.Role) error {
	p := Participant{
		RoomID:   roomID,
		UserID:   userID,
		Role:     string(role),
		JoinedAt: r.now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// SetRoomLastMessage points the room at its newest message.
func (r *Repository) SetRoomLastMessage(ctx context.Context, roomID, messageID string) error {
	result := r.db.WithContext(ctx).Model(&Room{}).Where("id = ?", roomID).
		Update("last_message_id", messageID)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
