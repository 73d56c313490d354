package handler

import (
	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"go.uber.org/zap"
)

// HandleMoveCharacter processes a position report:
// [C move type][F x][F y][F z][F angle].
// Position is ephemeral state; it lands in the world registry immediately and
// only reaches the store on logout. No response goes back to the mover.
// TODO: relay the movement to nearby observers once presence broadcast lands.
func HandleMoveCharacter(sess *net.Session, r *packet.Reader, deps *Deps) {
	moveType := r.ReadC()
	x := r.ReadF()
	y := r.ReadF()
	z := r.ReadF()
	angle := r.ReadF()

	player := deps.World.Get(sess.CharID())
	if player == nil {
		deps.Log.Warn("move with no player", zap.Uint64("session", sess.ID))
		return
	}

	player.Move(moveType, x, y, z, angle)
}
