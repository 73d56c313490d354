package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiyago/server/internal/net/packet"
	"go.uber.org/zap"
)

// Server accepts TCP connections and creates Sessions. Each session
// dispatches its packets onto the shared worker pool.
type Server struct {
	listener net.Listener
	registry *packet.Registry
	pool     *Pool
	nextID   atomic.Uint64

	outSize      int
	pktPerSec    int
	writeTimeout time.Duration

	onClose func(*Session) // installed on every session before Start

	mu       sync.Mutex
	sessions map[uint64]*Session

	log     *zap.Logger
	closeCh chan struct{}
}

func NewServer(bindAddr string, reg *packet.Registry, pool *Pool, outSize, pktPerSec int, writeTimeout time.Duration, onClose func(*Session), log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener:     ln,
		registry:     reg,
		pool:         pool,
		outSize:      outSize,
		pktPerSec:    pktPerSec,
		writeTimeout: writeTimeout,
		onClose:      onClose,
		sessions:     make(map[uint64]*Session),
		log:          log,
		closeCh:      make(chan struct{}),
	}, nil
}

// AcceptLoop runs in its own goroutine. It accepts connections and starts
// sessions until Shutdown closes the listener.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.registry, s.pool, s.outSize, s.pktPerSec, s.writeTimeout, s.log)
		sess.SetOnClose(func(dead *Session) {
			s.mu.Lock()
			delete(s.sessions, dead.ID)
			s.mu.Unlock()
			if s.onClose != nil {
				s.onClose(dead)
			}
		})

		s.mu.Lock()
		s.sessions[id] = sess
		s.mu.Unlock()

		sess.Start()
		s.log.Info(fmt.Sprintf("client connected  session=%d  ip=%s", id, sess.IP))
	}
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops accepting new connections and closes all sessions.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()

	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.Close()
	}
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
