package store

import (
	"time"

	"github.com/omochice/roomchat/pkg/protocol"
)

// User is the persisted form of a chat identity. UsernameKey holds the
// lower-cased username and enforces case-insensitive uniqueness.
type User struct {
	ID          string    `gorm:"primarykey;size:36"`
	Username    string    `gorm:"size:30;not null;uniqueIndex"`
	UsernameKey string    `gorm:"size:30;not null;uniqueIndex"`
	IsOnline    bool      `gorm:"not null;default:false;index"`
	LastSeen    time.Time `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the table name for User model.
func (User) TableName() string {
	return "users"
}

func (u *User) toProtocol() protocol.User {
	return protocol.User{
		ID:       u.ID,
		Username: u.Username,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}

// Message is the persisted form of a confirmed chat message.
type Message struct {
	ID             string `gorm:"primarykey;size:36"`
	ClientID       string `gorm:"size:64"`
	Content        string `gorm:"size:5000;not null"`
	SenderID       string `gorm:"size:36;not null;index"`
	SenderUsername string `gorm:"size:30"`
	RoomID         string `gorm:"size:64;not null;index:idx_messages_room_created,priority:1"`
	Type           string `gorm:"size:16;not null;default:text"`
	Status         string `gorm:"size:16;not null;default:sent"`
	FileName       string `gorm:"size:255"`
	FileSize       int64
	MimeType       string    `gorm:"size:100"`
	Timestamp      time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"index:idx_messages_room_created,priority:2"`
}

// TableName returns the table name for Message model.
func (Message) TableName() string {
	return "messages"
}

func (m *Message) toProtocol() protocol.Message {
	msg := protocol.Message{
		ID:             m.ID,
		ClientID:       m.ClientID,
		Content:        m.Content,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		RoomID:         m.RoomID,
		Type:           protocol.MessageType(m.Type),
		Status:         protocol.MessageStatus(m.Status),
		Timestamp:      m.Timestamp,
		CreatedAt:      m.CreatedAt,
	}
	if m.FileName != "" || m.FileSize != 0 || m.MimeType != "" {
		msg.Metadata = &protocol.Metadata{
			FileName: m.FileName,
			FileSize: m.FileSize,
			MimeType: m.MimeType,
		}
	}
	return msg
}

func messageFromProtocol(msg *protocol.Message) *Message {
	m := &Message{
		ID:             msg.ID,
		ClientID:       msg.ClientID,
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		SenderUsername: msg.SenderUsername,
		RoomID:         msg.RoomID,
		Type:           string(msg.Type),
		Status:         string(msg.Status),
		Timestamp:      msg.Timestamp,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.Metadata != nil {
		m.FileName = msg.Metadata.FileName
		m.FileSize = msg.Metadata.FileSize
		m.MimeType = msg.Metadata.MimeType
	}
	return m
}

// Room is a persisted chat room.
type Room struct {
	ID            string        `gorm:"primarykey;size:64"`
	Name          string        `gorm:"size:100;not null"`
	IsPrivate     bool          `gorm:"not null;default:false"`
	Participants  []Participant `gorm:"foreignKey:RoomID"`
	LastMessageID *string       `gorm:"size:36"`
	LastMessage   *Message      `gorm:"foreignKey:LastMessageID"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName returns the table name for Room model.
func (Room) TableName() string {
	return "chat_rooms"
}

func (r *Room) toProtocol() protocol.Room {
	room := protocol.Room{
		ID:           r.ID,
		Name:         r.Name,
		IsPrivate:    r.IsPrivate,
		Participants: make([]protocol.Participant, 0, len(r.Participants)),
		CreatedAt:    r.CreatedAt,
	}
	for _, p := range r.Participants {
		room.Participants = append(room.Participants, protocol.Participant{
			UserID:   p.UserID,
			Role:     protocol.Role(p.Role),
			JoinedAt: p.JoinedAt,
		})
	}
	if r.LastMessage != nil {
		last := r.LastMessage.toProtocol()
		room.LastMessage = &last
	}
	return room
}

// Participant is a user's membership in a room.
type Participant struct {
	RoomID   string    `gorm:"primarykey;size:64"`
	UserID   string    `gorm:"primarykey;size:36;index"`
	Role     string    `gorm:"size:16;not null;default:member"`
	JoinedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for Participant model.
func (Participant) TableName() string {
	return "room_participants"
}
