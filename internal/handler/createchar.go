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

const maxNameLen = 20

// HandleCheckName processes the name-availability packet: [S name].
func HandleCheckName(sess *net.Session, r *packet.Reader, deps *Deps) {
	name := r.ReadS()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	available := name != "" && len(name) <= maxNameLen
	if available {
		exists, err := deps.Characters.NameExists(ctx, name)
		if err != nil {
			deps.Log.Error("check character name", zap.Error(err))
			available = false
		} else {
			available = !exists
		}
	}

	w := packet.NewWriterWithOpcode(packet.OP_CHECK_NAME)
	w.WriteC(boolByte(available))
	sess.Send(w.Bytes())
}

// HandleCreateChar processes character creation:
// [C race][C mode][C hair][C face][C height][C class][C gender][S name].
// Start position and level come from Lua (scripts/character/creation.lua).
//
// The whole check-and-insert runs under the creation lock so two racing
// requests can neither take the same name nor the same slot.
func HandleCreateChar(sess *net.Session, r *packet.Reader, deps *Deps) {
	race := r.ReadC()
	mode := r.ReadC()
	hair := r.ReadC()
	face := r.ReadC()
	height := r.ReadC()
	class := r.ReadC()
	gender := r.ReadC()
	name := r.ReadS()

	if name == "" || len(name) > maxNameLen {
		sendCreatedCharacter(sess, false)
		return
	}

	createData := deps.Scripts.GetCharCreateData(int(race), int(class))
	if createData == nil {
		sendCreatedCharacter(sess, false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deps.createMu.Lock()
	defer deps.createMu.Unlock()

	chars, err := deps.Characters.ListByUser(ctx, sess.UserID())
	if err != nil {
		deps.Log.Error("list characters for create", zap.Error(err))
		sendCreatedCharacter(sess, false)
		return
	}

	// Live servers refuse one slot short of the configured maximum; kept
	// as observed, pending product clarification.
	if len(chars) >= deps.Config.Character.MaxSlots-1 {
		sendCreatedCharacter(sess, false)
		return
	}

	exists, err := deps.Characters.NameExists(ctx, name)
	if err != nil {
		deps.Log.Error("check name for create", zap.Error(err))
		sendCreatedCharacter(sess, false)
		return
	}
	if exists {
		sendCreatedCharacter(sess, false)
		return
	}

	// Lowest free slot
	used := make(map[int16]bool, len(chars))
	for _, c := range chars {
		used[c.Slot] = true
	}
	var freeSlot int16
	for i := int16(0); i < int16(deps.Config.Character.MaxSlots); i++ {
		if !used[i] {
			freeSlot = i
			break
		}
	}

	row := &persist.CharacterRow{
		UserID: sess.UserID(),
		Name:   name,
		Race:   int16(race),
		Mode:   int16(mode),
		Hair:   int16(hair),
		Face:   int16(face),
		Height: int16(height),
		Class:  int16(class),
		Gender: int16(gender),
		Level:  int16(createData.Level),
		Slot:   freeSlot,
		MapID:  int32(createData.StartMap),
		PosX:   float32(createData.StartX),
		PosY:   float32(createData.StartY),
		PosZ:   float32(createData.StartZ),
		Angle:  float32(createData.StartAngle),
	}

	if err := deps.Characters.Create(ctx, row); err != nil {
		deps.Log.Error("create character", zap.String("name", name), zap.Error(err))
		sendCreatedCharacter(sess, false)
		return
	}

	// Starter gear from the creation script, bag 1 onward. The character
	// already exists; a failed grant only logs.
	for i, typeID := range createData.StartItems {
		it := &persist.ItemRow{
			CharID: row.ID,
			TypeID: int32(typeID),
			Bag:    1,
			Slot:   int16(i),
			Count:  1,
		}
		if err := deps.Items.Insert(ctx, it); err != nil {
			deps.Log.Error("grant starter item",
				zap.Int32("char", row.ID),
				zap.Int32("type", it.TypeID),
				zap.Error(err),
			)
		}
	}

	deps.Log.Info(fmt.Sprintf("character created  user=%d  name=%s  slot=%d", sess.UserID(), name, freeSlot))

	sendCreatedCharacter(sess, true)
	sendCharacterList(sess, deps)
}

// HandleDeleteChar processes character deletion: [D char id]. A request for
// a character the session's user does not own is dropped without a response.
func HandleDeleteChar(sess *net.Session, r *packet.Reader, deps *Deps) {
	charID := r.ReadD()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row, err := deps.Characters.FindByID(ctx, charID)
	if err != nil {
		deps.Log.Error("load character for delete", zap.Error(err))
		return
	}
	if row == nil || row.UserID != sess.UserID() {
		deps.Log.Warn("delete for character not owned",
			zap.Int32("char", charID),
			zap.Int32("user", sess.UserID()),
		)
		return
	}

	if err := deps.Characters.SoftDelete(ctx, charID); err != nil {
		deps.Log.Error("delete character", zap.Int32("char", charID), zap.Error(err))
		sendDeletedCharacter(sess, false, charID)
		return
	}

	sendDeletedCharacter(sess, true, charID)
	sendCharacterList(sess, deps)
}

func sendCreatedCharacter(sess *net.Session, ok bool) {
	w := packet.NewWriterWithOpcode(packet.OP_CREATE_CHARACTER)
	w.WriteC(boolByte(ok))
	sess.Send(w.Bytes())
}

func sendDeletedCharacter(sess *net.Session, ok bool, charID int32) {
	w := packet.NewWriterWithOpcode(packet.OP_DELETE_CHARACTER)
	w.WriteC(boolByte(ok))
	w.WriteD(charID)
	sess.Send(w.Bytes())
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
