package client

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/roomchat/pkg/protocol"
)

const (
	// pendingMatchWindow bounds how far a confirmation without clientId may
	// drift from the optimistic entry it replaces.
	pendingMatchWindow = 2 * time.Second
	// duplicateWindow catches the same message delivered twice under
	// different ids.
	duplicateWindow = time.Second
)

// SendRequest is a message to post. Empty RoomID and Type mean the default
// room and plain text.
type SendRequest struct {
	Content  string
	RoomID   string
	Type     protocol.MessageType
	Metadata *protocol.Metadata
}

// MessageLog is the ordered local message list, merging optimistic entries
// with server confirmations. It is not safe for concurrent use.
type MessageLog struct {
	messages []protocol.Message
}

// NewMessageLog returns an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

// Messages returns a copy of the list in timestamp order.
func (l *MessageLog) Messages() []protocol.Message {
	return slices.Clone(l.messages)
}

// Len returns the number of entries.
func (l *MessageLog) Len() int {
	return len(l.messages)
}

// AddPending appends an optimistic entry.
func (l *MessageLog) AddPending(m protocol.Message) {
	m.Pending = true
	l.messages = append(l.messages, m)
	l.sort()
}

// Reconcile merges a confirmed message and reports whether the list
// changed.
func (l *MessageLog) Reconcile(m protocol.Message) bool {
	if m.IsBlank() {
		return false
	}
	m.Pending = false

	if i := slices.IndexFunc(l.messages, func(e protocol.Message) bool { return e.ID == m.ID }); i >= 0 {
		if !l.messages[i].Pending {
			return false
		}
		l.messages[i] = m
		l.sort()
		return true
	}

	if m.ClientID != "" {
		if i := slices.IndexFunc(l.messages, func(e protocol.Message) bool {
			return e.Pending && e.ClientID == m.ClientID
		}); i >= 0 {
			l.messages[i] = m
			l.sort()
			return true
		}
	}

	if i := l.matchPending(m); i >= 0 {
		l.messages[i] = m
		l.sort()
		return true
	}

	if slices.ContainsFunc(l.messages, func(e protocol.Message) bool {
		return !e.Pending && e.SenderID == m.SenderID && e.Content == m.Content &&
			within(e.Timestamp, m.Timestamp, duplicateWindow)
	}) {
		return false
	}

	l.messages = append(l.messages, m)
	l.sort()
	return true
}

// matchPending finds an optimistic entry from the same sender sent close to
// m, preferring one with the same content.
func (l *MessageLog) matchPending(m protocol.Message) int {
	candidate := -1
	for i, e := range l.messages {
		if !e.Pending || e.SenderID != m.SenderID {
			continue
		}
		// Both sides carry a correlation id and they differ.
		if e.ClientID != "" && m.ClientID != "" {
			continue
		}
		if !within(e.Timestamp, m.Timestamp, pendingMatchWindow) {
			continue
		}
		if e.Content == m.Content {
			return i
		}
		if candidate < 0 {
			candidate = i
		}
	}
	return candidate
}

// Replace swaps the whole list for a history snapshot.
func (l *MessageLog) Replace(history []protocol.Message) {
	l.messages = l.messages[:0:0]
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.IsBlank() {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		m.Pending = false
		l.messages = append(l.messages, m)
	}
	l.sort()
}

// RemovePending drops the optimistic entry carrying clientID.
func (l *MessageLog) RemovePending(clientID string) bool {
	n := len(l.messages)
	l.messages = slices.DeleteFunc(l.messages, func(e protocol.Message) bool {
		return e.Pending && e.ClientID == clientID
	})
	return len(l.messages) != n
}

// DropPending removes every optimistic entry and returns how many there
// were.
func (l *MessageLog) DropPending() int {
	n := len(l.messages)
	l.messages = slices.DeleteFunc(l.messages, func(e protocol.Message) bool { return e.Pending })
	return n - len(l.messages)
}

func (l *MessageLog) sort() {
	slices.SortStableFunc(l.messages, func(a, b protocol.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

func within(a, b time.Time, d time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff < d
}

// SendMessage appends an optimistic entry and transmits it. It fails
// without touching the list when no transport is open.
func (c *Connection) SendMessage(ctx context.Context, req SendRequest) (protocol.Message, error) {
	var (
		msg protocol.Message
		err error
	)
	if doErr := c.do(func() { msg, err = c.sendMessage(req) }); doErr != nil {
		return protocol.Message{}, doErr
	}
	return msg, err
}

func (c *Connection) sendMessage(req SendRequest) (protocol.Message, error) {
	if c.tr == nil {
		c.status.Error = ErrNotConnected.Error()
		return protocol.Message{}, ErrNotConnected
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return protocol.Message{}, ErrEmptyContent
	}
	if req.RoomID == "" {
		req.RoomID = protocol.DefaultRoomID
	}
	if req.Type == "" {
		req.Type = protocol.MessageTypeText
	}

	now := c.opts.Now()
	msg := protocol.Message{
		ID:        fmt.Sprintf("%s%d", protocol.PendingIDPrefix, now.UnixNano()),
		ClientID:  uuid.NewString(),
		Content:   content,
		RoomID:    req.RoomID,
		Type:      req.Type,
		Status:    protocol.StatusSent,
		Timestamp: now,
		CreatedAt: now,
		Pending:   true,
		Metadata:  req.Metadata,
	}
	if u := c.session.user; u != nil {
		msg.SenderID = u.ID
		msg.SenderUsername = u.Username
	}

	if err := c.send(protocol.SendMessage{
		Content:  content,
		RoomID:   req.RoomID,
		Type:     req.Type,
		ClientID: msg.ClientID,
		Metadata: req.Metadata,
	}); err != nil {
		c.status.Error = err.Error()
		return protocol.Message{}, err
	}
	c.messages.AddPending(msg)
	return msg, nil
}
