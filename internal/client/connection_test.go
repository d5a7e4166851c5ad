package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/pkg/protocol"
)

const waitTimeout = 2 * time.Second

// fakeConn is an in-memory transport. The test plays the server through
// push and nextSent.
type fakeConn struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	once       sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan []byte, 16),
		fromClient: make(chan []byte, 16),
		closed:     make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.toClient:
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	select {
	case f.fromClient <- data:
		return nil
	case <-f.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string {
	return "fake"
}

func (f *fakeConn) push(t *testing.T, ev protocol.Event) {
	t.Helper()
	data, err := protocol.Encode(ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	f.toClient <- data
}

func (f *fakeConn) nextSent(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case data := <-f.fromClient:
		ev, err := protocol.DecodeFromClient(data)
		if err != nil {
			t.Fatalf("DecodeFromClient(%s) error = %v", data, err)
		}
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("nothing sent")
		return nil
	}
}

// nextSentOf skips frames until one of type T.
func nextSentOf[T protocol.Event](t *testing.T, f *fakeConn) T {
	t.Helper()
	for {
		if ev, ok := f.nextSent(t).(T); ok {
			return ev
		}
	}
}

func (f *fakeConn) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.fromClient:
		t.Errorf("unexpected frame sent: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

// fakeDialer hands out fakeConns; fail decides per call whether to refuse.
type fakeDialer struct {
	calls atomic.Int32
	conns chan *fakeConn

	mu   sync.Mutex
	fail func(call int) error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) setFail(fail func(call int) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (chat.Conn, error) {
	call := int(d.calls.Add(1))
	d.mu.Lock()
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		if err := fail(call); err != nil {
			return nil, err
		}
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("no connection dialed")
		return nil
	}
}

func newTestConnection(t *testing.T, dialer client.Dialer, opts client.Options) *client.Connection {
	t.Helper()
	opts.URL = "ws://chat.test/ws"
	opts.Dialer = dialer
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Heartbeat == 0 {
		opts.Heartbeat = time.Hour
	}
	conn := client.NewConnection(context.Background(), opts)
	t.Cleanup(conn.Close)
	return conn
}

func waitState(t *testing.T, conn *client.Connection, ok func(client.State) bool) client.State {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		s := conn.State()
		if ok(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("state not reached, last: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// connectAndJoin returns a connection joined as alice (u1) and the server
// side of its transport.
func connectAndJoin(t *testing.T, opts client.Options) (*client.Connection, *fakeConn, *fakeDialer) {
	t.Helper()
	dialer := newFakeDialer()
	conn := newTestConnection(t, dialer, opts)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := dialer.next(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.JoinChat(context.Background(), "alice")
		done <- err
	}()
	join := nextSentOf[protocol.Join](t, server)
	server.push(t, protocol.Joined{
		User:      protocol.User{ID: "u1", Username: "alice"},
		RequestID: join.RequestID,
	})
	if err := <-done; err != nil {
		t.Fatalf("JoinChat() error = %v", err)
	}
	return conn, server, dialer
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: time.Second},
		{attempts: 1, want: 2 * time.Second},
		{attempts: 3, want: 8 * time.Second},
		{attempts: 4, want: 16 * time.Second},
		{attempts: 5, want: 30 * time.Second},
		{attempts: 64, want: 30 * time.Second},
	}
	for _, tt := range tests {
		if got := client.Backoff(tt.attempts, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestConnection_SendWhileDisconnected(t *testing.T) {
	conn := newTestConnection(t, newFakeDialer(), client.Options{})

	_, err := conn.SendMessage(context.Background(), client.SendRequest{Content: "hi"})
	if !errors.Is(err, client.ErrNotConnected) {
		t.Fatalf("SendMessage() error = %v, want ErrNotConnected", err)
	}

	s := conn.State()
	if len(s.Messages) != 0 {
		t.Errorf("messages = %v, want none", s.Messages)
	}
	if s.Status.Error != "not connected" {
		t.Errorf("error = %q, want not connected", s.Status.Error)
	}
}

func TestConnection_SendEmpty(t *testing.T) {
	conn, server, _ := connectAndJoin(t, client.Options{})

	if _, err := conn.SendMessage(context.Background(), client.SendRequest{Content: "  \n"}); !errors.Is(err, client.ErrEmptyContent) {
		t.Errorf("SendMessage() error = %v, want ErrEmptyContent", err)
	}
	server.assertQuiet(t)
}

func TestConnection_OptimisticMessage(t *testing.T) {
	tests := []struct {
		name       string
		echoClient bool
	}{
		{name: "clientId echoed", echoClient: true},
		{name: "clientId not echoed", echoClient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, server, _ := connectAndJoin(t, client.Options{})

			sent, err := conn.SendMessage(context.Background(), client.SendRequest{Content: "hi"})
			if err != nil {
				t.Fatalf("SendMessage() error = %v", err)
			}
			s := conn.State()
			if len(s.Messages) != 1 || !s.Messages[0].Pending {
				t.Fatalf("messages = %+v, want one pending entry", s.Messages)
			}

			req := nextSentOf[protocol.SendMessage](t, server)
			if req.Content != "hi" || req.RoomID != protocol.DefaultRoomID || req.Type != protocol.MessageTypeText {
				t.Errorf("request = %+v", req)
			}
			if req.ClientID != sent.ClientID {
				t.Errorf("clientId = %q, want %q", req.ClientID, sent.ClientID)
			}

			confirmed := protocol.Message{
				ID:        "m1",
				Content:   "hi",
				SenderID:  "u1",
				RoomID:    protocol.DefaultRoomID,
				Type:      protocol.MessageTypeText,
				Timestamp: time.Now(),
			}
			if tt.echoClient {
				confirmed.ClientID = req.ClientID
			}
			server.push(t, protocol.MessageSent{Message: confirmed})

			s = waitState(t, conn, func(s client.State) bool {
				return len(s.Messages) == 1 && s.Messages[0].ID == "m1"
			})
			if s.Messages[0].Pending {
				t.Error("confirmed entry still pending")
			}
		})
	}
}

func TestConnection_ServerErrorDropsPending(t *testing.T) {
	conn, server, _ := connectAndJoin(t, client.Options{})

	sent, err := conn.SendMessage(context.Background(), client.SendRequest{Content: "hi", RoomID: "elsewhere"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	nextSentOf[protocol.SendMessage](t, server)
	server.push(t, protocol.Error{Reason: "room not found", ClientID: sent.ClientID})

	s := waitState(t, conn, func(s client.State) bool { return len(s.Messages) == 0 })
	if s.Status.Error != "room not found" {
		t.Errorf("error = %q, want room not found", s.Status.Error)
	}
}

func TestConnection_JoinChat(t *testing.T) {
	conn, server, _ := connectAndJoin(t, client.Options{})

	s := conn.State()
	if s.Join != client.JoinJoined {
		t.Errorf("join state = %v, want joined", s.Join)
	}
	if s.CurrentUser == nil || s.CurrentUser.ID != "u1" || !s.CurrentUser.IsOnline {
		t.Errorf("current user = %+v", s.CurrentUser)
	}

	t.Run("same username is a no-op", func(t *testing.T) {
		user, err := conn.JoinChat(context.Background(), "alice")
		if err != nil {
			t.Fatalf("JoinChat() error = %v", err)
		}
		if user.ID != "u1" {
			t.Errorf("user = %+v", user)
		}
		server.assertQuiet(t)
	})

	t.Run("other username", func(t *testing.T) {
		_, err := conn.JoinChat(context.Background(), "bob")
		if !errors.Is(err, client.ErrAlreadyJoined) {
			t.Errorf("JoinChat() error = %v, want ErrAlreadyJoined", err)
		}
	})
}

func TestConnection_JoinNotReady(t *testing.T) {
	conn := newTestConnection(t, newFakeDialer(), client.Options{})

	if _, err := conn.JoinChat(context.Background(), "alice"); !errors.Is(err, client.ErrNotReady) {
		t.Errorf("JoinChat() error = %v, want ErrNotReady", err)
	}
}

func TestConnection_JoinTimeout(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConnection(t, dialer, client.Options{JoinTimeout: 50 * time.Millisecond})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	_, err := conn.JoinChat(context.Background(), "alice")
	if !errors.Is(err, client.ErrJoinTimeout) {
		t.Fatalf("JoinChat() error = %v, want ErrJoinTimeout", err)
	}
	if s := conn.State(); s.Join != client.JoinIdle {
		t.Errorf("join state = %v, want idle", s.Join)
	}
}

func TestConnection_ConcurrentJoinsShareRequest(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConnection(t, dialer, client.Options{})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := dialer.next(t)

	results := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := conn.JoinChat(context.Background(), "alice")
			results <- err
		}()
	}
	nextSentOf[protocol.Join](t, server)
	// Give the second call time to attach to the pending request.
	waitState(t, conn, func(s client.State) bool { return s.Join == client.JoinJoining })
	time.Sleep(20 * time.Millisecond)

	// No requestId echo: the sole pending join is resolved.
	server.push(t, protocol.Joined{User: protocol.User{ID: "u1", Username: "alice"}})

	for range 2 {
		if err := <-results; err != nil {
			t.Errorf("JoinChat() error = %v", err)
		}
	}
	server.assertQuiet(t)
}

func TestConnection_JoinRejected(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConnection(t, dialer, client.Options{})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := dialer.next(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.JoinChat(context.Background(), "alice")
		done <- err
	}()
	join := nextSentOf[protocol.Join](t, server)
	server.push(t, protocol.Error{Reason: "username already taken", RequestID: join.RequestID})

	err := <-done
	var serverErr *client.ServerError
	if !errors.As(err, &serverErr) || serverErr.Reason != "username already taken" {
		t.Errorf("JoinChat() error = %v, want server rejection", err)
	}
	if s := conn.State(); s.Join != client.JoinIdle {
		t.Errorf("join state = %v, want idle", s.Join)
	}
}

func TestConnection_DisconnectRejectsPendingJoin(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConnection(t, dialer, client.Options{ReconnectBase: time.Hour})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := dialer.next(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.JoinChat(context.Background(), "alice")
		done <- err
	}()
	nextSentOf[protocol.Join](t, server)
	server.Close()

	if err := <-done; !errors.Is(err, client.ErrDisconnected) {
		t.Errorf("JoinChat() error = %v, want ErrDisconnected", err)
	}
}

func TestConnection_CurrentUserForcedOnline(t *testing.T) {
	conn, server, _ := connectAndJoin(t, client.Options{})

	server.push(t, protocol.Users{Users: []protocol.User{
		{ID: "u1", Username: "alice", IsOnline: false},
	}})

	waitState(t, conn, func(s client.State) bool {
		return len(s.Users) == 1 && s.Users[0].ID == "u1" && s.Users[0].IsOnline
	})
}

func TestConnection_HistoryAndRooms(t *testing.T) {
	conn, server, _ := connectAndJoin(t, client.Options{})

	server.push(t, protocol.MessageHistory{Messages: []protocol.Message{
		{ID: "m2", Content: "second", Timestamp: time.Unix(20, 0)},
		{ID: "m1", Content: "first", Timestamp: time.Unix(10, 0)},
		{ID: "m3", Content: " ", Timestamp: time.Unix(30, 0)},
	}})
	server.push(t, protocol.Rooms{Rooms: []protocol.Room{{ID: protocol.DefaultRoomID, Name: protocol.DefaultRoomName}}})

	s := waitState(t, conn, func(s client.State) bool { return len(s.Messages) == 2 && len(s.Rooms) == 1 })
	if s.Messages[0].ID != "m1" || s.Messages[1].ID != "m2" {
		t.Errorf("messages = %v", ids(s.Messages))
	}
}

func TestConnection_ReconnectBackoff(t *testing.T) {
	const unit = 10 * time.Millisecond
	dialer := newFakeDialer()
	release := make(chan struct{})
	defer close(release)
	dialer.setFail(func(call int) error {
		if call <= 4 {
			return errors.New("refused")
		}
		<-release
		return errors.New("refused")
	})
	conn := newTestConnection(t, dialer, client.Options{
		ReconnectBase: unit,
		ReconnectMax:  30 * unit,
	})

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("Connect() succeeded against a refusing dialer")
	}

	// Four failures so far: the fourth follows three prior attempts.
	deadline := time.Now().Add(waitTimeout)
	for dialer.calls.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d dial attempts", dialer.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	status := conn.Status()
	if status.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", status.Attempts)
	}
	if status.NextDelay != 16*unit {
		t.Errorf("next delay = %v, want %v", status.NextDelay, 16*unit)
	}
	if !status.Reconnecting {
		t.Error("not reconnecting")
	}
}

func TestConnection_ReconnectExhausted(t *testing.T) {
	dialer := newFakeDialer()
	dialer.setFail(func(int) error { return errors.New("refused") })
	conn := newTestConnection(t, dialer, client.Options{
		ReconnectBase: time.Millisecond,
		ReconnectMax:  5 * time.Millisecond,
	})

	conn.Connect(context.Background())

	s := waitState(t, conn, func(s client.State) bool { return s.Status.Exhausted })
	if s.Status.Error != "connection failed after multiple attempts" {
		t.Errorf("error = %q", s.Status.Error)
	}
	if s.Status.Reconnecting {
		t.Error("still reconnecting after exhaustion")
	}
	if got := dialer.calls.Load(); got != 1+client.DefaultMaxAttempts {
		t.Errorf("dial calls = %d, want %d", got, 1+client.DefaultMaxAttempts)
	}

	// Only a manual connect retries, and success resets the counter.
	time.Sleep(20 * time.Millisecond)
	if got := dialer.calls.Load(); got != 1+client.DefaultMaxAttempts {
		t.Errorf("dial calls after exhaustion = %d", got)
	}
	dialer.setFail(nil)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("manual Connect() error = %v", err)
	}
	status := conn.Status()
	if !status.Connected || status.Attempts != 0 || status.Exhausted || status.Error != "" {
		t.Errorf("status after manual connect = %+v", status)
	}
}

func TestConnection_AutoRejoin(t *testing.T) {
	conn, server, dialer := connectAndJoin(t, client.Options{ReconnectBase: time.Millisecond})

	server.push(t, protocol.Users{Users: []protocol.User{
		{ID: "u1", Username: "alice", IsOnline: true},
		{ID: "u2", Username: "bob", IsOnline: true},
	}})
	waitState(t, conn, func(s client.State) bool { return len(s.OnlineUsers()) == 2 })

	server.Close()

	// Before the new transport joins, others go offline and alice stays.
	next := dialer.next(t)
	join := nextSentOf[protocol.Join](t, next)
	if join.Username != "alice" {
		t.Errorf("rejoin username = %q, want alice", join.Username)
	}
	s := conn.State()
	if s.Join != client.JoinJoining {
		t.Errorf("join state = %v, want joining", s.Join)
	}
	online := s.OnlineUsers()
	if len(online) != 1 || online[0].ID != "u1" {
		t.Errorf("online = %v, want only alice", usernames(online))
	}

	next.push(t, protocol.Joined{User: protocol.User{ID: "u1", Username: "alice"}, RequestID: join.RequestID})
	waitState(t, conn, func(s client.State) bool { return s.Join == client.JoinJoined && s.Status.Connected })
}

func TestConnection_TransportCloseDropsPending(t *testing.T) {
	conn, server, _ := connectAndJoin(t, client.Options{ReconnectBase: time.Hour})

	if _, err := conn.SendMessage(context.Background(), client.SendRequest{Content: "lost"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	server.Close()

	s := waitState(t, conn, func(s client.State) bool { return !s.Status.Connected })
	if len(s.Messages) != 0 {
		t.Errorf("messages = %v, want none", ids(s.Messages))
	}
	if !s.Status.Reconnecting || s.Status.Attempts != 1 {
		t.Errorf("status = %+v, want first reconnect scheduled", s.Status)
	}
}

func TestConnection_Heartbeat(t *testing.T) {
	_, server, _ := connectAndJoin(t, client.Options{Heartbeat: 20 * time.Millisecond})

	nextSentOf[protocol.Ping](t, server)
	nextSentOf[protocol.Ping](t, server)
}

func TestConnection_ConnectCoalesces(t *testing.T) {
	dialer := newFakeDialer()
	gate := make(chan struct{})
	dialer.setFail(func(int) error {
		<-gate
		return nil
	})
	conn := newTestConnection(t, dialer, client.Options{})

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Connect(context.Background()); err != nil {
				t.Errorf("Connect() error = %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := dialer.calls.Load(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
	// Already open: nothing is dialed.
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := dialer.calls.Load(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
}

func TestConnection_Disconnect(t *testing.T) {
	conn, server, dialer := connectAndJoin(t, client.Options{ReconnectBase: time.Millisecond})

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	select {
	case <-server.closed:
	case <-time.After(waitTimeout):
		t.Fatal("transport not closed")
	}
	s := conn.State()
	if s.Status.Connected || s.Status.Reconnecting {
		t.Errorf("status = %+v", s.Status)
	}
	if s.CurrentUser == nil || s.CurrentUser.IsOnline {
		t.Errorf("current user = %+v, want offline", s.CurrentUser)
	}

	time.Sleep(20 * time.Millisecond)
	if got := dialer.calls.Load(); got != 1 {
		t.Errorf("dial calls = %d, want no reconnect", got)
	}
}

func TestClient_Updates(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConnection(t, dialer, client.Options{})
	c := client.New(conn)
	defer c.Close()

	if c.IsConnected() {
		t.Error("connected before Connect")
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-c.Updates():
			if s.Status.Connected {
				if !c.IsConnected() {
					t.Error("IsConnected() = false after connected update")
				}
				return
			}
		case <-deadline:
			t.Fatal("no connected update")
		}
	}
}

func TestClient_ClearError(t *testing.T) {
	conn := newTestConnection(t, newFakeDialer(), client.Options{})
	c := client.New(conn)
	defer c.Close()

	c.SendMessage(context.Background(), client.SendRequest{Content: "hi"})
	if c.Error() != "not connected" {
		t.Fatalf("Error() = %q", c.Error())
	}
	if err := c.ClearError(); err != nil {
		t.Fatalf("ClearError() error = %v", err)
	}
	if c.Error() != "" {
		t.Errorf("Error() = %q after ClearError", c.Error())
	}
}

func TestConnection_MalformedServerFrames(t *testing.T) {
	conn, server, _ := connectAndJoin(t, client.Options{})

	server.toClient <- []byte(`{"eventType":"typing","user":"bob"}`)
	server.push(t, protocol.Users{Users: []protocol.User{
		{ID: "u1", Username: "alice", IsOnline: true},
		{ID: "u2", Username: "bob", IsOnline: true},
	}})
	s := waitState(t, conn, func(s client.State) bool { return len(s.Users) == 2 })
	if s.Status.Error != "" {
		t.Errorf("unknown event set error %q", s.Status.Error)
	}

	server.toClient <- []byte(`not json`)
	server.toClient <- []byte(`{"eventType":"messageSent"}`)
	server.push(t, protocol.UserLeft{User: protocol.User{ID: "u2", Username: "bob"}})

	s = waitState(t, conn, func(s client.State) bool { return len(s.OfflineUsers()) == 1 })
	if s.Status.Error != "invalid message from server" {
		t.Errorf("error = %q, want invalid message from server", s.Status.Error)
	}
	if !s.Status.Connected {
		t.Error("malformed frame closed the connection")
	}
	if len(s.Messages) != 0 {
		t.Errorf("messages = %v, want none", s.Messages)
	}
}

// blockingDialer never completes a handshake; Dial returns when ctx ends.
type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, url string) (chat.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestConnection_ConnectTimeout(t *testing.T) {
	conn := newTestConnection(t, blockingDialer{}, client.Options{
		ConnectTimeout: 50 * time.Millisecond,
		ReconnectBase:  time.Hour,
		ReconnectMax:   time.Hour,
	})

	start := time.Now()
	err := conn.Connect(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > waitTimeout {
		t.Errorf("Connect() took %v", elapsed)
	}

	s := waitState(t, conn, func(s client.State) bool { return s.Status.Reconnecting })
	if s.Status.Connected {
		t.Error("connected after timeout")
	}
	if s.Status.Attempts != 1 || s.Status.NextDelay != time.Hour {
		t.Errorf("status = %+v, want first reconnect scheduled", s.Status)
	}
}
