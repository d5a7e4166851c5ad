package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/omochice/roomchat/internal/chat"
)

// Handler upgrades HTTP requests to WebSocket connections and hands them to
// a chat.Handler. It is mounted on the HTTP router.
type Handler struct {
	handler chat.Handler
	opts    *websocket.AcceptOptions
	logger  *slog.Logger
}

// NewHandler creates a Handler. originPatterns lists extra allowed origins
// (see websocket.AcceptOptions); same-host requests are always accepted.
func NewHandler(handler chat.Handler, originPatterns []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		handler: handler,
		opts:    &websocket.AcceptOptions{OriginPatterns: originPatterns},
		logger:  logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, h.opts)
	if err != nil {
		h.logger.Warn("failed to accept websocket connection", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.handler.HandleConn(r.Context(), NewConnWithAddr(wsConn, r.RemoteAddr))
}

// Dialer opens client connections with nhooyr.io/websocket.
type Dialer struct {
	Header http.Header
}

// Dial connects to a ws:// or wss:// URL.
func (d Dialer) Dial(ctx context.Context, url string) (chat.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: d.Header})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	addr := url
	if resp != nil && resp.Request != nil {
		addr = resp.Request.URL.Host
	}
	return NewConnWithAddr(conn, addr), nil
}
