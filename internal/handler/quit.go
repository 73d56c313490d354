package handler

import (
	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"go.uber.org/zap"
)

// HandleQuit tears the session down on an orderly client logout. World
// eviction and the position save run from the session close callback, the
// same path an abrupt disconnect takes.
func HandleQuit(sess *net.Session, r *packet.Reader, deps *Deps) {
	deps.Log.Info("client quit",
		zap.Uint64("session", sess.ID),
		zap.Int32("user", sess.UserID()),
		zap.Int32("char", sess.CharID()),
	)
	sess.Close()
}
