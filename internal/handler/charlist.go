package handler

import (
	"context"
	"time"

	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"github.com/shaiyago/server/internal/persist"
	"go.uber.org/zap"
)

// sendCharacterList pushes the session user's characters. Sending the list
// is what moves a freshly authenticated client onto the selection screen;
// there is no separate request opcode.
func sendCharacterList(sess *net.Session, deps *Deps) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	chars, err := deps.Characters.ListByUser(ctx, sess.UserID())
	if err != nil {
		deps.Log.Error("load character list", zap.Int32("user", sess.UserID()), zap.Error(err))
		return
	}

	w := packet.NewWriterWithOpcode(packet.OP_CHARACTER_LIST)
	w.WriteC(byte(len(chars)))
	w.WriteC(byte(deps.Config.Character.MaxSlots))
	for i := range chars {
		writeCharEntry(w, &chars[i])
	}
	sess.Send(w.Bytes())
}

func writeCharEntry(w *packet.Writer, c *persist.CharacterRow) {
	w.WriteD(c.ID)
	w.WriteC(byte(c.Slot))
	w.WriteC(byte(c.Race))
	w.WriteC(byte(c.Mode))
	w.WriteC(byte(c.Hair))
	w.WriteC(byte(c.Face))
	w.WriteC(byte(c.Height))
	w.WriteC(byte(c.Class))
	w.WriteC(byte(c.Gender))
	w.WriteH(uint16(c.Level))
	w.WriteS(c.Name)
}
