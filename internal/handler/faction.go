package handler

import (
	"context"
	"time"

	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"go.uber.org/zap"
)

// HandleAccountFaction processes the faction-selection packet: [C faction].
// The write goes to the store before anything else observes it; on failure
// nothing changes and the client sees no response, reconciling on next load.
func HandleAccountFaction(sess *net.Session, r *packet.Reader, deps *Deps) {
	faction := int16(r.ReadC())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := deps.Users.UpdateFaction(ctx, sess.UserID(), faction); err != nil {
		deps.Log.Error("update faction",
			zap.Int32("user", sess.UserID()),
			zap.Int16("faction", faction),
			zap.Error(err),
		)
		return
	}

	sendAccountFaction(sess, faction)
}
