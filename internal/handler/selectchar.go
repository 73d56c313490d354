package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"github.com/shaiyago/server/internal/world"
	"go.uber.org/zap"
)

// HandleSelectChar processes character selection: [D char id]. The character
// is loaded with its items and skills, promoted to a live player, and
// inserted into the world registry. Selecting a character the session's user
// does not own is dropped with no response — clients never send that.
func HandleSelectChar(sess *net.Session, r *packet.Reader, deps *Deps) {
	charID := r.ReadD()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row, err := deps.Characters.FindByID(ctx, charID)
	if err != nil {
		deps.Log.Error("load character", zap.Int32("char", charID), zap.Error(err))
		return
	}
	if row == nil || row.UserID != sess.UserID() {
		deps.Log.Warn("select for character not owned",
			zap.Int32("char", charID),
			zap.Int32("user", sess.UserID()),
		)
		return
	}

	player := world.NewPlayer(row.ID, row.UserID, row.Name, sess)
	player.Race = byte(row.Race)
	player.Class = byte(row.Class)
	player.Gender = byte(row.Gender)
	player.Mode = byte(row.Mode)
	player.Hair = byte(row.Hair)
	player.Face = byte(row.Face)
	player.Height = byte(row.Height)
	player.Level = row.Level
	player.SetPosition(uint16(row.MapID), row.PosX, row.PosY, row.PosZ, row.Angle)

	items, err := deps.Items.LoadByCharID(ctx, charID)
	if err != nil {
		deps.Log.Error("load inventory", zap.Int32("char", charID), zap.Error(err))
		return
	}
	for _, it := range items {
		if deps.ItemTable != nil && deps.ItemTable.Get(it.TypeID) == nil {
			deps.Log.Warn("item with unknown template skipped",
				zap.Int32("char", charID),
				zap.Int32("type", it.TypeID),
			)
			continue
		}
		ok := player.AddItem(&world.Item{
			ID:     it.ID,
			TypeID: it.TypeID,
			Count:  it.Count,
			Bag:    byte(it.Bag),
			Slot:   byte(it.Slot),
		})
		if !ok {
			deps.Log.Error("duplicate item slot in store",
				zap.Int32("char", charID),
				zap.Int16("bag", it.Bag),
				zap.Int16("slot", it.Slot),
			)
		}
	}

	skills, err := deps.Skills.LoadByCharID(ctx, charID)
	if err != nil {
		deps.Log.Error("load skills", zap.Int32("char", charID), zap.Error(err))
		return
	}
	for _, sk := range skills {
		player.AddSkill(world.Skill{SkillID: uint16(sk.SkillID), Level: byte(sk.Level)})
	}

	// One in-world character per user: a selection from a second connection
	// evicts whatever this user already has in the world, whether the same
	// character (reconnect) or a different one.
	if other := deps.World.GetByUser(sess.UserID()); other != nil && other.Session != sess {
		deps.Log.Warn("replacing connected player",
			zap.Int32("user", sess.UserID()),
			zap.Int32("evicted_char", other.CharID),
		)
		deps.World.Remove(other.CharID)
		other.Session.Close()
	}
	// Replace-on-insert handles the remaining reconnect race: the newer
	// connection wins and the stale one is closed.
	if prior := deps.World.Add(player); prior != nil && prior.Session != sess {
		prior.Session.Close()
	}

	sess.SetCharID(charID)
	sess.SetState(packet.StateInWorld)

	deps.Log.Info(fmt.Sprintf("character selected  session=%d  char=%d  name=%s", sess.ID, charID, row.Name))

	w := packet.NewWriterWithOpcode(packet.OP_SELECT_CHARACTER)
	w.WriteC(1)
	w.WriteD(charID)
	sess.Send(w.Bytes())
}
