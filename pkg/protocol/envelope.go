package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the envelope discriminator carried in the "eventType" field.
type EventType string

const (
	EventJoin           EventType = "join"
	EventJoined         EventType = "joined"
	EventMessage        EventType = "message"
	EventMessageSent    EventType = "messageSent"
	EventMessageHistory EventType = "messageHistory"
	EventUsers          EventType = "users"
	EventUserLeft       EventType = "userLeft"
	EventRooms          EventType = "rooms"
	EventPing           EventType = "ping"
	EventPong           EventType = "pong"
	EventError          EventType = "error"
)

// Direction tells the decoder which side produced a frame. The "message"
// event has a different payload in each direction.
type Direction int

const (
	FromClient Direction = iota
	FromServer
)

var (
	// ErrMalformed is returned for frames that are not a valid envelope.
	ErrMalformed = errors.New("malformed envelope")
	// ErrMissingField is returned when a required payload field is absent.
	ErrMissingField = fmt.Errorf("%w: missing required field", ErrMalformed)
	// ErrUnknownEvent is returned for a well-formed envelope whose event
	// type is not understood in the given direction.
	ErrUnknownEvent = errors.New("unknown event type")
)

// FieldError reports a required field that is missing or invalid.
type FieldError struct {
	Event EventType
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: missing or invalid field %q", e.Event, e.Field)
}

func (e *FieldError) Unwrap() error { return ErrMissingField }

// UnknownEventError carries the event type that could not be dispatched.
type UnknownEventError struct {
	Type EventType
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

func (e *UnknownEventError) Unwrap() error { return ErrUnknownEvent }

// Event is one case of the envelope union.
type Event interface {
	EventType() EventType
}

// Join asks the server to bind a username to the connection.
type Join struct {
	Username  string
	RequestID string
}

// Joined confirms a Join.
type Joined struct {
	User      User
	RequestID string
}

// SendMessage is a client's request to post a message.
type SendMessage struct {
	Content  string
	RoomID   string
	Type     MessageType
	ClientID string
	Metadata *Metadata
}

// MessagePush delivers a confirmed message to other connections.
type MessagePush struct {
	Message Message
}

// MessageSent confirms a message to its sender.
type MessageSent struct {
	Message Message
}

// MessageHistory replaces the client's message list.
type MessageHistory struct {
	Messages []Message
}

// Users carries the full user roster.
type Users struct {
	Users []User
}

// UserLeft announces that a user's last connection closed.
type UserLeft struct {
	User User
}

// Rooms carries the rooms visible to the receiver.
type Rooms struct {
	Rooms []Room
}

// Ping is the client heartbeat.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// Error reports a request the server rejected. ClientID or RequestID
// identify the rejected request when known.
type Error struct {
	Reason    string
	ClientID  string
	RequestID string
}

func (Join) EventType() EventType           { return EventJoin }
func (Joined) EventType() EventType         { return EventJoined }
func (SendMessage) EventType() EventType    { return EventMessage }
func (MessagePush) EventType() EventType    { return EventMessage }
func (MessageSent) EventType() EventType    { return EventMessageSent }
func (MessageHistory) EventType() EventType { return EventMessageHistory }
func (Users) EventType() EventType          { return EventUsers }
func (UserLeft) EventType() EventType       { return EventUserLeft }
func (Rooms) EventType() EventType          { return EventRooms }
func (Ping) EventType() EventType           { return EventPing }
func (Pong) EventType() EventType           { return EventPong }
func (Error) EventType() EventType          { return EventError }

// envelope is the flat wire form. Pointer fields distinguish an absent
// field from a zero value.
type envelope struct {
	EventType   EventType    `json:"eventType"`
	Username    *string      `json:"username,omitempty"`
	RequestID   string       `json:"requestId,omitempty"`
	User        *User        `json:"user,omitempty"`
	Content     *string      `json:"content,omitempty"`
	RoomID      *string      `json:"roomId,omitempty"`
	Type        *MessageType `json:"type,omitempty"`
	MessageType *MessageType `json:"messageType,omitempty"`
	ClientID    string       `json:"clientId,omitempty"`
	Metadata    *Metadata    `json:"metadata,omitempty"`
	Message     *Message     `json:"message,omitempty"`
	Messages    *[]Message   `json:"messages,omitempty"`
	Users       *[]User      `json:"users,omitempty"`
	Rooms       *[]Room      `json:"rooms,omitempty"`
	Error       *string      `json:"error,omitempty"`
}

// Encode serializes an event into a single JSON frame.
func Encode(ev Event) ([]byte, error) {
	env, err := toEnvelope(ev)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ev.EventType(), err)
	}
	return data, nil
}

// DecodeFromClient parses a frame sent by a client.
func DecodeFromClient(data []byte) (Event, error) {
	return Decode(data, FromClient)
}

// DecodeFromServer parses a frame sent by the server.
func DecodeFromServer(data []byte) (Event, error) {
	return Decode(data, FromServer)
}

// Decode parses a frame produced by the given side.
func Decode(data []byte, dir Direction) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.EventType == "" {
		return nil, &FieldError{Field: "eventType"}
	}
	if dir == FromClient {
		return env.clientEvent()
	}
	return env.serverEvent()
}

func (env *envelope) clientEvent() (Event, error) {
	switch env.EventType {
	case EventJoin:
		if env.Username == nil {
			return nil, env.missing("username")
		}
		return Join{Username: *env.Username, RequestID: env.RequestID}, nil
	case EventMessage:
		if env.Content == nil {
			return nil, env.missing("content")
		}
		if env.RoomID == nil || *env.RoomID == "" {
			return nil, env.missing("roomId")
		}
		mt := env.Type
		if mt == nil {
			mt = env.MessageType
		}
		if mt == nil || !mt.Valid() {
			return nil, env.missing("type")
		}
		return SendMessage{
			Content:  *env.Content,
			RoomID:   *env.RoomID,
			Type:     *mt,
			ClientID: env.ClientID,
			Metadata: env.Metadata,
		}, nil
	case EventPing:
		return Ping{}, nil
	default:
		return nil, &UnknownEventError{Type: env.EventType}
	}
}

func (env *envelope) serverEvent() (Event, error) {
	switch env.EventType {
	case EventJoined:
		if env.User == nil {
			return nil, env.missing("user")
		}
		return Joined{User: *env.User, RequestID: env.RequestID}, nil
	case EventMessage:
		if env.Message == nil {
			return nil, env.missing("message")
		}
		return MessagePush{Message: *env.Message}, nil
	case EventMessageSent:
		if env.Message == nil {
			return nil, env.missing("message")
		}
		return MessageSent{Message: *env.Message}, nil
	case EventMessageHistory:
		if env.Messages == nil {
			return nil, env.missing("messages")
		}
		return MessageHistory{Messages: *env.Messages}, nil
	case EventUsers:
		if env.Users == nil {
			return nil, env.missing("users")
		}
		return Users{Users: *env.Users}, nil
	case EventUserLeft:
		if env.User == nil {
			return nil, env.missing("user")
		}
		return UserLeft{User: *env.User}, nil
	case EventRooms:
		if env.Rooms == nil {
			return nil, env.missing("rooms")
		}
		return Rooms{Rooms: *env.Rooms}, nil
	case EventPong:
		return Pong{}, nil
	case EventError:
		if env.Error == nil {
			return nil, env.missing("error")
		}
		return Error{Reason: *env.Error, ClientID: env.ClientID, RequestID: env.RequestID}, nil
	default:
		return nil, &UnknownEventError{Type: env.EventType}
	}
}

func (env *envelope) missing(field string) error {
	return &FieldError{Event: env.EventType, Field: field}
}

func toEnvelope(ev Event) (*envelope, error) {
	env := &envelope{EventType: ev.EventType()}
	switch e := ev.(type) {
	case Join:
		env.Username = &e.Username
		env.RequestID = e.RequestID
	case Joined:
		env.User = &e.User
		env.RequestID = e.RequestID
	case SendMessage:
		env.Content = &e.Content
		env.RoomID = &e.RoomID
		env.Type = &e.Type
		env.ClientID = e.ClientID
		env.Metadata = e.Metadata
	case MessagePush:
		env.Message = &e.Message
	case MessageSent:
		env.Message = &e.Message
	case MessageHistory:
		msgs := e.Messages
		if msgs == nil {
			msgs = []Message{}
		}
		env.Messages = &msgs
	case Users:
		users := e.Users
		if users == nil {
			users = []User{}
		}
		env.Users = &users
	case UserLeft:
		env.User = &e.User
	case Rooms:
		rooms := e.Rooms
		if rooms == nil {
			rooms = []Room{}
		}
		env.Rooms = &rooms
	case Ping, Pong:
	case Error:
		env.Error = &e.Reason
		env.ClientID = e.ClientID
		env.RequestID = e.RequestID
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnknownEvent, ev)
	}
	return env, nil
}
