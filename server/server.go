package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"lanchat/logger"
	"lanchat/presence"
	"lanchat/protocol"
	"lanchat/store"

	"github.com/google/uuid"
)

var ErrServerClosed = errors.New("server closed")

type Server struct {
	store     *store.Store
	directory *presence.Directory
	broadcast *presence.Broadcaster
	config    *ServerConfig
	log       *logger.Logger
	handlers  map[protocol.Operation]handler
	pending   *pendingRequests

	dispatchers *Pool
	receivers   *Pool

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	listener net.Listener
	closing  bool
}

type ServerConfig struct {
	Port         int
	WriteTimeout time.Duration
	QueueSize    int
	MaxWorkers   int
	LogoutGrace  time.Duration
}

func New(st *store.Store, config *ServerConfig, log *logger.Logger) *Server {
	if config.QueueSize <= 0 {
		config.QueueSize = 40
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 50
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}

	directory := presence.NewDirectory()
	s := &Server{
		store:       st,
		directory:   directory,
		broadcast:   presence.NewBroadcaster(directory, st, log.WithPrefix("broadcast")),
		config:      config,
		log:         log,
		pending:     newPendingRequests(),
		dispatchers: NewPool("dispatcher", config.MaxWorkers),
		receivers:   NewPool("receiver", config.MaxWorkers),
		sessions:    make(map[uuid.UUID]*Session),
	}
	s.handlers = s.handlerTable()
	return s
}

// Run listens on the configured port and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled or Shutdown
// closes it. Accept errors are logged and do not stop the loop.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.log.Info("lanchat server started on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("listener closed")
				return nil
			}
			s.log.Warn("Error accepting connection: %v", err)
			time.Sleep(5 * time.Millisecond)
			continue
		}

		if _, err := s.startSession(ctx, conn); err != nil {
			s.log.Warn("Dropping connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
		}
	}
}

// Addr returns the listening address, or nil before Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// startSession creates the session for conn and hands its dispatcher and
// receiver to the worker pools. It blocks while either pool is full.
func (s *Server) startSession(ctx context.Context, conn net.Conn) (*Session, error) {
	sess := newSession(conn, s.config.QueueSize, s.config.WriteTimeout)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, ErrServerClosed
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.log.Info("New client connected from %s (session %s)", sess.remote, sess.ID)

	if err := s.dispatchers.Go(ctx, func() { s.dispatch(sess) }); err != nil {
		s.untrack(sess)
		return nil, err
	}
	if err := s.receivers.Go(ctx, func() { s.receive(sess) }); err != nil {
		// the dispatcher is already running and will tear the session down
		sess.close()
		return nil, err
	}
	return sess, nil
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
}

func (s *Server) trackedSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Shutdown delivers a server-exit envelope through every tracked session's
// queue and then stops accepting connections. Sessions whose queue stays
// full until ctx is done are closed directly.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closing = true
	listener := s.listener
	s.mu.Unlock()

	sessions := s.trackedSessions()
	s.log.Info("Shutting down, notifying %d sessions", len(sessions))

	for _, sess := range sessions {
		if !sess.enqueue(ctx, inbound{kind: inboundExit}) {
			sess.close()
		}
	}

	if listener != nil {
		listener.Close()
	}
}

// Wait blocks until every dispatcher and receiver has returned.
func (s *Server) Wait() {
	s.dispatchers.Wait()
	s.receivers.Wait()
}

// Store exposes the domain store, e.g. for saving on shutdown.
func (s *Server) Store() *store.Store {
	return s.store
}

type Stats struct {
	Connections int
	Online      []string
	Accounts    int
	Groups      int
	Memberships int
	Pools       []PoolStatus
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	connections := len(s.sessions)
	s.mu.RUnlock()

	accounts, groups, memberships := s.store.Counts()
	return Stats{
		Connections: connections,
		Online:      s.directory.OnlineIDs(),
		Accounts:    accounts,
		Groups:      groups,
		Memberships: memberships,
		Pools:       []PoolStatus{s.dispatchers.Status(), s.receivers.Status()},
	}
}

type QueueStatus struct {
	SessionID uuid.UUID
	AccountID string
	Remote    string
	Depth     int
	Capacity  int
}

// QueueStatus reports the inbound queue depth of every tracked session,
// deepest first.
func (s *Server) QueueStatus() []QueueStatus {
	sessions := s.trackedSessions()
	out := make([]QueueStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, QueueStatus{
			SessionID: sess.ID,
			AccountID: sess.Account(),
			Remote:    sess.remote,
			Depth:     len(sess.queue),
			Capacity:  cap(sess.queue),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth > out[j].Depth
		}
		return out[i].SessionID.String() < out[j].SessionID.String()
	})
	return out
}
