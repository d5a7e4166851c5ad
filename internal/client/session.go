package client

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/pkg/protocol"
)

// JoinState is the presence handshake state of the current transport.
type JoinState int

const (
	JoinIdle JoinState = iota
	JoinJoining
	JoinJoined
)

func (s JoinState) String() string {
	switch s {
	case JoinIdle:
		return "idle"
	case JoinJoining:
		return "joining"
	case JoinJoined:
		return "joined"
	default:
		return "unknown"
	}
}

type joinResult struct {
	user protocol.User
	err  error
}

type pendingJoin struct {
	username string
	waiters  []chan joinResult
	timer    *time.Timer
}

func (p *pendingJoin) resolve(r joinResult) {
	p.timer.Stop()
	for _, w := range p.waiters {
		w <- r
	}
	p.waiters = nil
}

// session is the join handshake. It is owned by the Connection loop.
type session struct {
	state   JoinState
	pending map[string]*pendingJoin
	// rejoinAs is remembered across transports once a join completed.
	rejoinAs string
	user     *protocol.User
}

func newSession() session {
	return session{pending: make(map[string]*pendingJoin)}
}

func (s *session) disconnected() {
	for id, p := range s.pending {
		p.resolve(joinResult{err: ErrDisconnected})
		delete(s.pending, id)
	}
	s.state = JoinIdle
}

// JoinChat announces username on the open transport and waits for the
// server to confirm it.
func (c *Connection) JoinChat(ctx context.Context, username string) (protocol.User, error) {
	name, err := chat.NormalizeUsername(username)
	if err != nil {
		return protocol.User{}, err
	}

	waiter := make(chan joinResult, 1)
	var immediate *joinResult
	if err := c.do(func() { immediate = c.beginJoin(name, waiter) }); err != nil {
		return protocol.User{}, err
	}
	if immediate != nil {
		return immediate.user, immediate.err
	}

	select {
	case r := <-waiter:
		return r.user, r.err
	case <-ctx.Done():
		return protocol.User{}, ctx.Err()
	}
}

// beginJoin returns a result when the join settles without a round trip;
// otherwise waiter receives it later. A nil waiter is used for auto-rejoin.
func (c *Connection) beginJoin(name string, waiter chan joinResult) *joinResult {
	s := &c.session
	switch s.state {
	case JoinJoined:
		if s.user != nil && s.user.Username == name {
			return &joinResult{user: *s.user}
		}
		return &joinResult{err: ErrAlreadyJoined}
	case JoinJoining:
		for _, p := range s.pending {
			if p.username != name {
				return &joinResult{err: ErrJoinInProgress}
			}
			if waiter != nil {
				p.waiters = append(p.waiters, waiter)
			}
			return nil
		}
	}

	if c.tr == nil {
		return &joinResult{err: ErrNotReady}
	}

	requestID := uuid.NewString()
	if err := c.send(protocol.Join{Username: name, RequestID: requestID}); err != nil {
		return &joinResult{err: ErrNotReady}
	}

	p := &pendingJoin{username: name}
	if waiter != nil {
		p.waiters = append(p.waiters, waiter)
	}
	p.timer = time.AfterFunc(c.opts.JoinTimeout, func() {
		c.post(func() { c.joinTimedOut(requestID) })
	})
	s.pending[requestID] = p
	s.state = JoinJoining
	c.logger.Debug("join sent", "username", name, "requestId", requestID)
	return nil
}

// rejoin repeats the last completed join on a fresh transport.
func (c *Connection) rejoin() {
	if c.session.rejoinAs == "" {
		return
	}
	c.logger.Info("rejoining", "username", c.session.rejoinAs)
	if r := c.beginJoin(c.session.rejoinAs, nil); r != nil && r.err != nil {
		c.logger.Warn("rejoin failed", "error", r.err)
	}
}

func (c *Connection) joined(e protocol.Joined) {
	s := &c.session
	id := e.RequestID
	p, ok := s.pending[id]
	if !ok && id == "" && len(s.pending) == 1 {
		for only, sole := range s.pending {
			id, p, ok = only, sole, true
		}
	}
	if !ok {
		c.logger.Debug("unsolicited joined", "requestId", e.RequestID)
		return
	}
	delete(s.pending, id)

	user := e.User
	user.IsOnline = true
	s.user = &user
	s.state = JoinJoined
	s.rejoinAs = user.Username
	c.directory.SetCurrentUser(&user)
	c.logger.Info("joined", "user", user.Username)

	p.resolve(joinResult{user: user})
}

func (c *Connection) joinTimedOut(requestID string) {
	s := &c.session
	p, ok := s.pending[requestID]
	if !ok {
		return
	}
	delete(s.pending, requestID)
	s.state = JoinIdle
	c.status.Error = ErrJoinTimeout.Error()
	c.logger.Warn("join timed out", "username", p.username)
	p.resolve(joinResult{err: ErrJoinTimeout})
}

// joinRejected settles the pending join an error event refers to. Servers
// that do not echo requestId reject the sole pending join.
func (c *Connection) joinRejected(e protocol.Error) {
	s := &c.session
	id := e.RequestID
	p, ok := s.pending[id]
	if !ok && id == "" && len(s.pending) == 1 {
		for only, sole := range s.pending {
			id, p, ok = only, sole, true
		}
	}
	if !ok {
		return
	}
	delete(s.pending, id)
	s.state = JoinIdle
	p.resolve(joinResult{err: &ServerError{Reason: e.Reason}})
}
