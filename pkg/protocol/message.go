// Package protocol defines the chat data model and the JSON envelope exchanged
// between clients and the server.
package protocol

import (
	"strings"
	"time"
)

// DefaultRoomID is the room every joined user belongs to.
const (
	DefaultRoomID   = "general"
	DefaultRoomName = "General Chat"
)

// MessageType represents the kind of content a message carries.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeEmoji  MessageType = "emoji"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	return string(mt)
}

// Valid reports whether mt is one of the known message types.
func (mt MessageType) Valid() bool {
	switch mt {
	case MessageTypeText, MessageTypeEmoji, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	default:
		return false
	}
}

// MessageStatus is the delivery state of a confirmed message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Role is a participant's role inside a room.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// User is a chat identity.
type User struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Metadata is opaque attachment information carried alongside a message.
type Metadata struct {
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message represents a chat message.
//
// A locally originated message carries a temporary "pending-" ID and
// Pending=true until the server confirms it.
type Message struct {
	ID             string        `json:"id"`
	ClientID       string        `json:"clientId,omitempty"`
	Content        string        `json:"content"`
	SenderID       string        `json:"senderId"`
	SenderUsername string        `json:"senderUsername,omitempty"`
	RoomID         string        `json:"roomId"`
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	CreatedAt      time.Time     `json:"createdAt"`
	Pending        bool          `json:"pending,omitempty"`
	Metadata       *Metadata     `json:"metadata,omitempty"`
}

// PendingIDPrefix marks IDs assigned to messages that are not yet confirmed.
const PendingIDPrefix = "pending-"

// IsBlank reports whether the message has no visible content.
func (m Message) IsBlank() bool {
	return strings.TrimSpace(m.Content) == ""
}

// Participant is a user's membership in a room.
type Participant struct {
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Room is a chat room with its ordered participant list.
type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	IsPrivate    bool          `json:"isPrivate"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// HasParticipant reports whether userID is a member of the room.
func (r Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
