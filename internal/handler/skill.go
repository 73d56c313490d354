package handler

import (
	"context"
	"time"

	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"github.com/shaiyago/server/internal/world"
	"go.uber.org/zap"
)

// HandleLearnSkill processes skill acquisition: [H skill id][C level].
// Success means the in-memory skill set and the durable store already agree;
// everything else — unknown template, duplicate, missing prerequisite,
// failed write — is a plain negative result, never a fault.
func HandleLearnSkill(sess *net.Session, r *packet.Reader, deps *Deps) {
	skillID := r.ReadH()
	level := r.ReadC()

	player := deps.World.Get(sess.CharID())
	if player == nil {
		// Selection never completed or the player was already evicted.
		deps.Log.Warn("learn skill with no player", zap.Uint64("session", sess.ID))
		return
	}

	tmpl := deps.SkillTable.Get(skillID)
	if tmpl == nil {
		sendLearnedSkill(sess, skillID, level, false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok := player.LearnSkill(ctx, skillID, level, world.SkillRule{
		MaxLevel:    tmpl.MaxLevel,
		PrereqSkill: tmpl.PrereqSkill,
		PrereqLevel: tmpl.PrereqLevel,
	}, deps.Skills)

	sendLearnedSkill(sess, skillID, level, ok)
}

func sendLearnedSkill(sess *net.Session, skillID uint16, level byte, ok bool) {
	w := packet.NewWriterWithOpcode(packet.OP_LEARN_SKILL)
	w.WriteC(boolByte(ok))
	w.WriteH(skillID)
	w.WriteC(level)
	sess.Send(w.Bytes())
}
