package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"github.com/shaiyago/server/internal/persist"
	"go.uber.org/zap"
)

// HandleHandshake processes the first packet on a connection:
// [D user id][S session key]. The key was issued by the login server and its
// bcrypt hash sits in the users table; a mismatch gets no response at all.
// On success the session is authenticated and the client receives the
// handshake ack, its character list, and its faction.
func HandleHandshake(sess *net.Session, r *packet.Reader, deps *Deps) {
	userID := r.ReadD()
	sessionKey := r.ReadS()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := deps.Users.FindByID(ctx, userID)
	if err != nil {
		deps.Log.Error("load user", zap.Int32("user", userID), zap.Error(err))
		return
	}
	if user == nil {
		deps.Log.Warn("handshake for unknown user", zap.Int32("user", userID))
		return
	}
	if !persist.VerifySessionKey(user.SessionKeyHash, sessionKey) {
		deps.Log.Warn("handshake session key mismatch", zap.Int32("user", userID))
		return
	}

	sess.SetUserID(userID)
	sess.SetState(packet.StateAuthenticated)

	if err := deps.Users.UpdateLastActive(ctx, userID); err != nil {
		deps.Log.Warn("stamp last active", zap.Int32("user", userID), zap.Error(err))
	}

	deps.Log.Info(fmt.Sprintf("user authenticated  session=%d  user=%d", sess.ID, userID))

	w := packet.NewWriterWithOpcode(packet.OP_GAME_HANDSHAKE)
	w.WriteC(0)
	sess.Send(w.Bytes())

	sendCharacterList(sess, deps)
	sendAccountFaction(sess, user.Faction)
}

// HandlePing echoes the keep-alive.
func HandlePing(sess *net.Session, _ *packet.Reader, _ *Deps) {
	w := packet.NewWriterWithOpcode(packet.OP_PING)
	w.WriteC(0)
	sess.Send(w.Bytes())
}

func sendAccountFaction(sess *net.Session, faction int16) {
	w := packet.NewWriterWithOpcode(packet.OP_ACCOUNT_FACTION)
	w.WriteC(byte(faction))
	sess.Send(w.Bytes())
}
