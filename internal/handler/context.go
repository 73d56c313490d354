package handler

import (
	"context"
	"sync"

	"github.com/shaiyago/server/internal/config"
	"github.com/shaiyago/server/internal/data"
	"github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"github.com/shaiyago/server/internal/persist"
	"github.com/shaiyago/server/internal/scripting"
	"github.com/shaiyago/server/internal/world"
	"go.uber.org/zap"
)

// The persistence gateway is consumed through these interfaces so handlers
// never reach for a global database handle; the pgx repos satisfy them.

type UserStore interface {
	FindByID(ctx context.Context, id int32) (*persist.UserRow, error)
	UpdateFaction(ctx context.Context, id int32, faction int16) error
	UpdateLastActive(ctx context.Context, id int32) error
}

type CharacterStore interface {
	FindByID(ctx context.Context, id int32) (*persist.CharacterRow, error)
	NameExists(ctx context.Context, name string) (bool, error)
	ListByUser(ctx context.Context, userID int32) ([]persist.CharacterRow, error)
	Create(ctx context.Context, c *persist.CharacterRow) error
	SoftDelete(ctx context.Context, id int32) error
	SavePosition(ctx context.Context, id int32, mapID int32, x, y, z, angle float32) error
}

type ItemStore interface {
	Insert(ctx context.Context, it *persist.ItemRow) error
	LoadByCharID(ctx context.Context, charID int32) ([]persist.ItemRow, error)
	UpdateSlots(ctx context.Context, charID int32, moves []persist.SlotMove) error
}

type SkillStore interface {
	LoadByCharID(ctx context.Context, charID int32) ([]persist.SkillRow, error)
	world.SkillStore
}

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Users      UserStore
	Characters CharacterStore
	Items      ItemStore
	Skills     SkillStore
	Config     *config.Config
	Log        *zap.Logger
	World      *world.State
	Scripts    *scripting.Engine
	SkillTable *data.SkillTable
	ItemTable  *data.ItemTable

	// createMu makes the name-uniqueness check and slot allocation of
	// character creation linearizable across connections.
	createMu sync.Mutex
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	// Handshake phase
	reg.Register(packet.OP_GAME_HANDSHAKE,
		[]packet.SessionState{packet.StateHandshake},
		func(sess any, r *packet.Reader) {
			HandleHandshake(sess.(*net.Session), r, deps)
		},
	)

	// Character-select phase
	authStates := []packet.SessionState{packet.StateAuthenticated}

	reg.Register(packet.OP_ACCOUNT_FACTION, authStates,
		func(sess any, r *packet.Reader) {
			HandleAccountFaction(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.OP_CHECK_NAME, authStates,
		func(sess any, r *packet.Reader) {
			HandleCheckName(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.OP_CREATE_CHARACTER, authStates,
		func(sess any, r *packet.Reader) {
			HandleCreateChar(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.OP_DELETE_CHARACTER, authStates,
		func(sess any, r *packet.Reader) {
			HandleDeleteChar(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.OP_SELECT_CHARACTER, authStates,
		func(sess any, r *packet.Reader) {
			HandleSelectChar(sess.(*net.Session), r, deps)
		},
	)

	// In-world phase
	inWorldStates := []packet.SessionState{packet.StateInWorld}

	reg.Register(packet.OP_ENTER_MAP, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleEnterMap(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.OP_LEARN_SKILL, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleLearnSkill(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.OP_MOVE_ITEM, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleMoveItem(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.OP_CHARACTER_MOVE, inWorldStates,
		func(sess any, r *packet.Reader) {
			HandleMoveCharacter(sess.(*net.Session), r, deps)
		},
	)

	// Any active state
	aliveStates := []packet.SessionState{
		packet.StateHandshake, packet.StateAuthenticated, packet.StateInWorld,
	}
	reg.Register(packet.OP_PING, aliveStates,
		func(sess any, r *packet.Reader) {
			HandlePing(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.OP_QUIT,
		[]packet.SessionState{packet.StateAuthenticated, packet.StateInWorld},
		func(sess any, r *packet.Reader) {
			HandleQuit(sess.(*net.Session), r, deps)
		},
	)
}
