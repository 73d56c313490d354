package handler

import (
	"context"
	"time"

	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"github.com/shaiyago/server/internal/persist"
	"github.com/shaiyago/server/internal/world"
	"go.uber.org/zap"
)

// HandleMoveItem processes an inventory slot move:
// [C src bag][C src slot][C dst bag][C dst slot].
// The in-memory swap commits atomically under the player lock and the
// response goes out before the store write; persistence is best-effort and a
// failure only logs. When either side is the equipment bag the moving
// player's own client additionally gets an equipment update.
// TODO: push the equipment update to nearby observers once presence
// broadcast lands.
func HandleMoveItem(sess *net.Session, r *packet.Reader, deps *Deps) {
	srcBag := r.ReadC()
	srcSlot := r.ReadC()
	dstBag := r.ReadC()
	dstSlot := r.ReadC()

	player := deps.World.Get(sess.CharID())
	if player == nil {
		deps.Log.Warn("move item with no player", zap.Uint64("session", sess.ID))
		return
	}

	src, dst, ok := player.MoveItem(srcBag, srcSlot, dstBag, dstSlot)
	sendMoveItem(sess, src, dst, ok)
	if !ok {
		return
	}

	if src.Bag == world.EquippedBag || dst.Bag == world.EquippedBag {
		equipped := dst
		if src.Bag == world.EquippedBag {
			equipped = src
		}
		sendEquipment(sess, player.CharID, equipped)
	}

	var moves []persist.SlotMove
	if !src.Empty() {
		moves = append(moves, persist.SlotMove{ItemID: src.ID, Bag: int16(src.Bag), Slot: int16(src.Slot)})
	}
	if !dst.Empty() {
		moves = append(moves, persist.SlotMove{ItemID: dst.ID, Bag: int16(dst.Bag), Slot: int16(dst.Slot)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := deps.Items.UpdateSlots(ctx, player.CharID, moves); err != nil {
		// The swap is already committed in memory; the store catches up on
		// the next successful write or reload.
		deps.Log.Error("persist item move",
			zap.Int32("char", player.CharID),
			zap.Error(err),
		)
	}
}

func sendMoveItem(sess *net.Session, src, dst world.Item, ok bool) {
	w := packet.NewWriterWithOpcode(packet.OP_MOVE_ITEM)
	w.WriteC(boolByte(ok))
	writeItemSlot(w, src)
	writeItemSlot(w, dst)
	sess.Send(w.Bytes())
}

func writeItemSlot(w *packet.Writer, it world.Item) {
	w.WriteC(it.Bag)
	w.WriteC(it.Slot)
	w.WriteD(it.TypeID)
	w.WriteD(it.Count)
}

func sendEquipment(sess *net.Session, charID int32, it world.Item) {
	w := packet.NewWriterWithOpcode(packet.OP_EQUIPMENT)
	w.WriteD(charID)
	w.WriteC(it.Slot)
	w.WriteD(it.TypeID)
	sess.Send(w.Bytes())
}
