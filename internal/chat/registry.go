package chat

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueSize is the outgoing buffer of a client.
const DefaultQueueSize = 32

// Client represents a connected client with transport-agnostic connection.
// It is unbound until a join succeeds.
type Client struct {
	ID       string
	Conn     Conn
	Outgoing chan []byte

	mu       sync.RWMutex
	userID   string
	username string
}

// NewClient wraps conn with a fresh ID and outgoing queue.
func NewClient(conn Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		ID:       uuid.New().String(),
		Conn:     conn,
		Outgoing: make(chan []byte, queueSize),
	}
}

// Bind associates an identity with the client.
func (c *Client) Bind(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
}

// Identity returns the bound identity, if any.
func (c *Client) Identity() (userID, username string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.username, c.userID != ""
}

// Registry tracks live connections and fans frames out to them.
// Every transport shares a single Registry instance.
type Registry struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewRegistry creates a new Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients: make(map[*Client]bool),
		logger:  logger,
	}
}

// Register adds a client to the registry.
func (r *Registry) Register(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client] = true
}

// Unregister removes a client and closes its outgoing queue. It reports
// whether the client was registered.
func (r *Registry) Unregister(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.clients[client] {
		return false
	}
	delete(r.clients, client)
	close(client.Outgoing)
	return true
}

// ClientCount returns number of connected clients.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// OnlineUserIDs returns the distinct user IDs bound to live connections.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.clients))
	ids := make([]string, 0, len(r.clients))
	for client := range r.clients {
		id, _, ok := client.Identity()
		if ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// IsUserConnected reports whether any live connection is bound to userID.
func (r *Registry) IsUserConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for client := range r.clients {
		if id, _, ok := client.Identity(); ok && id == userID {
			return true
		}
	}
	return false
}

// Send queues data for a single client without blocking. It reports whether
// the frame was queued.
func (r *Registry) Send(client *Client, data []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.clients[client] {
		return false
	}
	return r.enqueue(client, data)
}

// Broadcast queues data for every client except the given one (nil for all).
func (r *Registry) Broadcast(data []byte, except *Client) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for client := range r.clients {
		if client == except {
			continue
		}
		if r.enqueue(client, data) {
			sent++
		}
	}
	return sent
}

func (r *Registry) enqueue(client *Client, data []byte) bool {
	select {
	case client.Outgoing <- data:
		return true
	default:
		r.logger.Warn("client channel full, skipping", "conn", client.ID, "remote", client.Conn.RemoteAddr())
		return false
	}
}
