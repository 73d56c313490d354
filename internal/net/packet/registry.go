package packet

import (
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents the session's current protocol phase.
type SessionState int

const (
	StateHandshake     SessionState = iota
	StateAuthenticated              // handshake done, at character select
	StateInWorld                    // character selected, playing
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateAuthenticated:
		return "Authenticated"
	case StateInWorld:
		return "InWorld"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// HandlerFunc is the callback signature for packet handlers.
// The session pointer is passed as an opaque interface to avoid import cycles.
type HandlerFunc func(sess any, r *Reader)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// Registry maps opcodes to handlers with state-based access control.
// Populated once at startup; read-only afterwards, so it is safe to call
// Dispatch from many worker goroutines at once.
type Registry struct {
	handlers map[uint16]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[uint16]*handlerEntry),
		log:      log,
	}
}

// Register maps an opcode to a handler, restricted to the given session states.
func (reg *Registry) Register(opcode uint16, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[opcode] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Dispatch finds the handler for the opcode in data[0:2], validates the
// session state, and calls the handler. Unknown opcodes and opcodes sent in
// the wrong state are logged and dropped; neither terminates the connection.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) {
	if len(data) < 2 {
		reg.log.Debug("short packet dropped", zap.Int("size", len(data)))
		return
	}
	r := NewReader(data)
	opcode := r.Opcode()

	entry, ok := reg.handlers[opcode]
	if !ok {
		reg.log.Debug("unknown opcode",
			zap.Uint16("opcode", opcode),
			zap.String("state", state.String()),
		)
		return
	}

	if !entry.allowedStates[state] {
		// Well-behaved clients never send these out of order; a buggy or
		// malicious one gets no response.
		reg.log.Warn("opcode not allowed in state",
			zap.Uint16("opcode", opcode),
			zap.String("state", state.String()),
		)
		return
	}

	reg.safeCall(entry.fn, sess, r, opcode)
}

// safeCall executes a handler with panic recovery so a single bad packet
// cannot take a worker down with it.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, r *Reader, opcode uint16) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Uint16("opcode", opcode),
				zap.Any("panic", rec),
			)
		}
	}()
	fn(sess, r)
}
