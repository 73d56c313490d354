package net

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiyago/server/internal/net/packet"
	"go.uber.org/zap"
)

// Session represents a single client connection. Network I/O runs in
// dedicated goroutines; every inbound packet is handed to the shared worker
// pool as its own task, so handlers for one connection may overlap in time.
type Session struct {
	ID   uint64
	conn net.Conn

	registry *packet.Registry
	pool     *Pool

	state  atomic.Int32 // packet.SessionState stored as int32
	userID atomic.Int32 // authenticated user id, 0 until handshake
	charID atomic.Int32 // selected character id, 0 until selection

	OutQueue chan []byte // writer goroutine reads from here

	IP string

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// In-flight handler tasks for this session. Close lets them run to
	// completion; sends after close degrade to no-ops.
	tasks sync.WaitGroup

	// onClose runs once all in-flight tasks have drained after Close.
	onClose func(*Session)

	writeTimeout time.Duration

	// Per-second packet rate limiter (readLoop goroutine only, no lock needed)
	pktPerSec  int
	pktCount   int
	pktResetAt int64

	log *zap.Logger
}

func NewSession(conn net.Conn, id uint64, reg *packet.Registry, pool *Pool, outSize, pktPerSec int, writeTimeout time.Duration, log *zap.Logger) *Session {
	s := &Session{
		ID:           id,
		conn:         conn,
		registry:     reg,
		pool:         pool,
		OutQueue:     make(chan []byte, outSize),
		IP:           conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
		pktPerSec:    pktPerSec,
		log:          log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateHandshake))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// SetUserID records the authenticated user after a verified handshake.
func (s *Session) SetUserID(id int32) { s.userID.Store(id) }

func (s *Session) UserID() int32 { return s.userID.Load() }

// SetCharID records the selected character.
func (s *Session) SetCharID(id int32) { s.charID.Store(id) }

func (s *Session) CharID() int32 { return s.charID.Load() }

// SetOnClose installs the callback invoked once the session has closed and
// all of its in-flight handler tasks have finished. Must be called before
// Start.
func (s *Session) SetOnClose(fn func(*Session)) { s.onClose = fn }

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send queues a packet for sending. Safe to call from any number of handler
// goroutines; the single writeLoop is the per-connection serialization point,
// so bytes hit the wire in Send-call order. After Close, Send is a no-op.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	select {
	case s.OutQueue <- data:
	case <-s.closeCh:
	default:
		// Slow consumer: the queue is full and the session gets dropped
		// rather than stalling a worker.
		s.log.Warn("out queue full, disconnecting slow client")
		s.Close()
	}
}

// Close shuts down the session. In-flight handler tasks are not cancelled;
// the onClose callback fires only after they drain.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
		go func() {
			s.tasks.Wait()
			if s.onClose != nil {
				s.onClose(s)
			}
		}()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop runs in its own goroutine. It reads frames from the TCP
// connection and submits one worker-pool task per packet. The loop keeps
// accepting packets while earlier handlers are still blocked on I/O.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		// Per-second packet rate limiter
		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("packet rate exceeded, disconnecting", zap.Int("pps", s.pktCount))
				return
			}
		}

		s.tasks.Add(1)
		ok := s.pool.Submit(func() {
			defer s.tasks.Done()
			s.registry.Dispatch(s, s.State(), payload)
		})
		if !ok {
			s.tasks.Done()
			return // pool shut down, server is stopping
		}
	}
}

// writeLoop runs in its own goroutine. It drains OutQueue and writes framed
// packets to the TCP connection.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if s.writeTimeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := WriteFrame(s.conn, data); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
