package handler

import (
	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"github.com/shaiyago/server/internal/world"
	"go.uber.org/zap"
)

// HandleEnterMap sends the joining client one connected-character packet per
// player already in the registry. The list comes from a point-in-time
// snapshot, so players appearing or leaving mid-iteration cannot corrupt it.
// Nothing is pushed to the already-present players here.
// TODO: notify present players of the joiner once presence broadcast lands.
func HandleEnterMap(sess *net.Session, r *packet.Reader, deps *Deps) {
	player := deps.World.Get(sess.CharID())
	if player == nil {
		deps.Log.Warn("enter map with no player", zap.Uint64("session", sess.ID))
		return
	}

	for _, other := range deps.World.Snapshot() {
		if other.CharID == player.CharID {
			continue
		}
		sendCharacterConnected(sess, other)
	}
}

func sendCharacterConnected(sess *net.Session, p *world.Player) {
	mapID, x, y, z, angle := p.Position()

	w := packet.NewWriterWithOpcode(packet.OP_CHARACTER_CONNECTED)
	w.WriteD(p.CharID)
	w.WriteC(p.Race)
	w.WriteC(p.Class)
	w.WriteC(p.Gender)
	w.WriteC(p.Mode)
	w.WriteC(p.Hair)
	w.WriteC(p.Face)
	w.WriteC(p.Height)
	w.WriteH(uint16(p.Level))
	w.WriteH(mapID)
	w.WriteF(x)
	w.WriteF(y)
	w.WriteF(z)
	w.WriteF(angle)
	w.WriteS(p.Name)
	sess.Send(w.Bytes())
}
