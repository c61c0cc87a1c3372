package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"lanchat/protocol"

	"github.com/google/uuid"
)

type inboundKind int

const (
	inboundEnvelope inboundKind = iota
	inboundMalformed
	inboundDisconnect
	inboundExit
)

// inbound is one item of a session queue: a decoded envelope or an internal
// signal from the receiver or the server.
type inbound struct {
	kind inboundKind
	env  protocol.Envelope
	err  error
}

// connChannel is the write side of a connection. Writers are serialized and
// every write carries a deadline; a failed write closes the connection so
// the receiver reports the disconnection.
type connChannel struct {
	mu      sync.Mutex
	conn    net.Conn
	enc     *protocol.Encoder
	timeout time.Duration
}

func (c *connChannel) Send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := c.enc.Encode(env); err != nil {
		if errors.Is(err, protocol.ErrConnClosed) {
			c.conn.Close()
		}
		return err
	}
	return nil
}

// Session is one accepted connection. The queue links its receiver to its
// dispatcher; authentication state belongs to the dispatcher.
type Session struct {
	ID     uuid.UUID
	conn   net.Conn
	remote string
	out    *connChannel
	queue  chan inbound

	closed    chan struct{}
	closeOnce sync.Once

	mu            sync.RWMutex
	accountID     string
	authenticated bool
}

func newSession(conn net.Conn, queueSize int, writeTimeout time.Duration) *Session {
	remote := "pipe"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		ID:     uuid.New(),
		conn:   conn,
		remote: remote,
		out: &connChannel{
			conn:    conn,
			enc:     protocol.NewEncoder(conn),
			timeout: writeTimeout,
		},
		queue:  make(chan inbound, queueSize),
		closed: make(chan struct{}),
	}
}

// enqueue blocks until the item is queued, the session closes or ctx ends.
func (sess *Session) enqueue(ctx context.Context, in inbound) bool {
	select {
	case sess.queue <- in:
		return true
	case <-sess.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

func (sess *Session) close() {
	sess.closeOnce.Do(func() {
		close(sess.closed)
		sess.conn.Close()
	})
}

func (sess *Session) send(env protocol.Envelope) error {
	return sess.out.Send(env)
}

func (sess *Session) login(accountID string) {
	sess.mu.Lock()
	sess.accountID = accountID
	sess.authenticated = true
	sess.mu.Unlock()
}

func (sess *Session) logout() {
	sess.mu.Lock()
	sess.authenticated = false
	sess.mu.Unlock()
}

// Account returns the authenticated account id, or "" before login.
func (sess *Session) Account() string {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	if !sess.authenticated {
		return ""
	}
	return sess.accountID
}

func (sess *Session) Authenticated() bool {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.authenticated
}

// receive decodes envelopes into the queue until the transport fails. A full
// queue stalls the next read.
func (s *Server) receive(sess *Session) {
	dec := protocol.NewDecoder(sess.conn)
	ctx := context.Background()

	for {
		env, err := dec.Decode()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				if !sess.enqueue(ctx, inbound{kind: inboundMalformed, err: err}) {
					return
				}
				continue
			}
			sess.enqueue(ctx, inbound{kind: inboundDisconnect, err: err})
			return
		}

		if !sess.enqueue(ctx, inbound{kind: inboundEnvelope, env: env}) {
			return
		}
	}
}

// dispatch drains the queue in order until a handler or signal ends the
// session, then tears it down.
func (s *Server) dispatch(sess *Session) {
	defer s.teardown(sess)

	for {
		select {
		case in := <-sess.queue:
			if !s.handleInbound(sess, in) {
				return
			}
		case <-sess.closed:
			return
		}
	}
}

func (s *Server) handleInbound(sess *Session, in inbound) bool {
	switch in.kind {
	case inboundEnvelope:
		return s.handleEnvelope(sess, in.env)

	case inboundMalformed:
		s.log.Debug("Malformed envelope from %s: %v", sess.remote, in.err)
		s.reply(sess, protocol.ServerText(protocol.OpUnknownRequest, "data error: malformed envelope"))
		return true

	case inboundExit:
		s.reply(sess, protocol.ServerResponse(protocol.OpServerExit))
		s.log.Info("Sent server exit to %s", s.describe(sess))
		return false

	case inboundDisconnect:
		s.logDisconnect(sess, in.err)
		return false
	}
	return true
}

func (s *Server) logDisconnect(sess *Session, err error) {
	select {
	case <-sess.closed:
		s.log.Debug("Receiver of %s stopped after close", s.describe(sess))
		return
	default:
	}

	switch {
	case protocol.IsOrderlyClose(err):
		s.log.Info("Client %s disconnected", s.describe(sess))
	case protocol.IsTimeout(err):
		s.log.Warn("Client %s timed out: %v", s.describe(sess), err)
	case protocol.IsReset(err):
		s.log.Warn("Client %s connection reset: %v", s.describe(sess), err)
	default:
		s.log.Warn("Client %s dropped: %v", s.describe(sess), err)
	}
}

// teardown is the single cleanup path for logout, deletion, shutdown and
// lost connections.
func (s *Server) teardown(sess *Session) {
	sess.close()

	sess.mu.RLock()
	accountID := sess.accountID
	sess.mu.RUnlock()

	if accountID != "" && s.directory.RemoveChannel(accountID, sess.out) {
		s.pending.forget(accountID)
		s.log.Info("%s is offline", accountID)
	}
	s.untrack(sess)
}

func (s *Server) describe(sess *Session) string {
	if id := sess.Account(); id != "" {
		return id + "@" + sess.remote
	}
	return sess.remote
}

func (s *Server) reply(sess *Session, env protocol.Envelope) {
	if err := s.broadcast.SendToSelf(sess.out, env); err != nil {
		s.log.Debug("reply %s to %s: %v", env.Operation, s.describe(sess), err)
	}
}
