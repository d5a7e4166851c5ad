package client_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/server"
	"github.com/omochice/roomchat/internal/store"
	"github.com/omochice/roomchat/internal/transport/rawws"
	"github.com/omochice/roomchat/internal/transport/ws"
	"github.com/omochice/roomchat/pkg/protocol"
)

func startChatServer(t *testing.T) *server.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close(db) })
	repo := store.NewRepository(db)

	d := server.NewDispatcher(repo, server.Options{Logger: logger})
	srv := server.New(server.Config{Addr: "127.0.0.1:0", RawAddr: "127.0.0.1:0"},
		d, server.NewRouter(d, repo, server.RouterOptions{Logger: logger}), logger)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go srv.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func dialChat(t *testing.T, url string, dialer client.Dialer) *client.Client {
	t.Helper()
	conn := client.NewConnection(context.Background(), client.Options{
		URL:    url,
		Dialer: dialer,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(conn.Close)
	c := client.New(conn)
	t.Cleanup(c.Close)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect(%s) error = %v", url, err)
	}
	return c
}

func waitClient(t *testing.T, c *client.Client, ok func(client.State) bool) client.State {
	t.Helper()
	deadline := time.After(5 * time.Second)
	s := c.State()
	for !ok(s) {
		select {
		case s = <-c.Updates():
		case <-deadline:
			t.Fatalf("state not reached, last: %+v", s)
		}
	}
	return s
}

func TestEndToEnd_ChatAcrossTransports(t *testing.T) {
	srv := startChatServer(t)
	ctx := context.Background()

	alice := dialChat(t, "ws://"+srv.Addr()+"/ws", ws.Dialer{})
	bob := dialChat(t, "ws://"+srv.RawAddr(), rawws.Dialer{})

	aliceUser, err := alice.JoinChat(ctx, "alice")
	if err != nil {
		t.Fatalf("alice JoinChat() error = %v", err)
	}
	if _, err := bob.JoinChat(ctx, "bob"); err != nil {
		t.Fatalf("bob JoinChat() error = %v", err)
	}

	waitClient(t, alice, func(s client.State) bool { return len(s.OnlineUsers()) == 2 })
	waitClient(t, bob, func(s client.State) bool {
		return len(s.Rooms) == 1 && s.Rooms[0].ID == protocol.DefaultRoomID
	})

	if _, err := alice.SendMessage(ctx, client.SendRequest{Content: "hi"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	s := waitClient(t, alice, func(s client.State) bool {
		return len(s.Messages) == 1 && !s.Messages[0].Pending
	})
	confirmedID := s.Messages[0].ID
	if s.Messages[0].SenderID != aliceUser.ID {
		t.Errorf("senderId = %q, want %q", s.Messages[0].SenderID, aliceUser.ID)
	}

	s = waitClient(t, bob, func(s client.State) bool { return len(s.Messages) == 1 })
	if s.Messages[0].ID != confirmedID || s.Messages[0].SenderUsername != "alice" {
		t.Errorf("bob sees %+v", s.Messages[0])
	}

	if err := bob.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	s = waitClient(t, alice, func(s client.State) bool { return len(s.OfflineUsers()) == 1 })
	if s.OfflineUsers()[0].Username != "bob" {
		t.Errorf("offline = %+v, want bob", s.OfflineUsers())
	}
}

func TestEndToEnd_HistoryForLateJoiner(t *testing.T) {
	srv := startChatServer(t)
	ctx := context.Background()

	first := dialChat(t, "ws://"+srv.Addr()+"/ws", ws.Dialer{})
	if _, err := first.JoinChat(ctx, "carol"); err != nil {
		t.Fatalf("JoinChat() error = %v", err)
	}
	for _, text := range []string{"one", "two", "three"} {
		if _, err := first.SendMessage(ctx, client.SendRequest{Content: text}); err != nil {
			t.Fatalf("SendMessage(%q) error = %v", text, err)
		}
	}
	waitClient(t, first, func(s client.State) bool {
		if len(s.Messages) != 3 {
			return false
		}
		for _, m := range s.Messages {
			if m.Pending {
				return false
			}
		}
		return true
	})

	late := dialChat(t, "ws://"+srv.RawAddr(), rawws.Dialer{})
	s := waitClient(t, late, func(s client.State) bool { return len(s.Messages) == 3 })
	for i, want := range []string{"one", "two", "three"} {
		if s.Messages[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, s.Messages[i].Content, want)
		}
	}
	if _, ok := late.CurrentUser(); ok {
		t.Error("late joiner has a current user before joining")
	}
}

func TestEndToEnd_UsernameTaken(t *testing.T) {
	srv := startChatServer(t)
	ctx := context.Background()

	first := dialChat(t, "ws://"+srv.Addr()+"/ws", ws.Dialer{})
	if _, err := first.JoinChat(ctx, "dave"); err != nil {
		t.Fatalf("JoinChat() error = %v", err)
	}

	second := dialChat(t, "ws://"+srv.Addr()+"/ws", ws.Dialer{})
	_, err := second.JoinChat(ctx, "DAVE")
	if err == nil || err.Error() != "username already taken" {
		t.Errorf("JoinChat() error = %v, want username already taken", err)
	}
}
