package world

import (
	"context"
	"sync"

	"github.com/shaiyago/server/internal/net"
)

// EquippedBag is the bag id reserved for worn equipment; all other bag ids
// are storage.
const EquippedBag byte = 0

// SlotKey addresses one inventory slot. Within one character a (bag, slot)
// pair holds at most one item.
type SlotKey struct {
	Bag  byte
	Slot byte
}

// Item is one item instance in a player's inventory. Bag/Slot mirror the
// item's current SlotKey.
type Item struct {
	ID     int64 // persistence row id
	TypeID int32 // template id
	Count  int32
	Bag    byte
	Slot   byte
}

// Empty reports whether this value describes an empty slot.
func (it Item) Empty() bool { return it.TypeID == 0 }

// Skill is one learned skill.
type Skill struct {
	SkillID uint16
	Level   byte
}

// SkillStore is the durable side of LearnSkill.
type SkillStore interface {
	SaveSkill(ctx context.Context, charID int32, skillID uint16, level byte) error
}

// SkillRule describes what LearnSkill must check before a skill is granted.
// Populated from the skill template table.
type SkillRule struct {
	MaxLevel    byte
	PrereqSkill uint16 // 0 = no prerequisite
	PrereqLevel byte
}

// Player is the live in-memory projection of a connected character: the
// durable record plus transient position. Exclusively owned by the world
// registry while connected. All mutating operations serialize on one
// per-player mutex; packet handlers for the same character may run
// concurrently and must never interleave inside a mutation.
type Player struct {
	CharID int32
	UserID int32
	Name   string

	Session *net.Session

	Race   byte
	Class  byte
	Gender byte
	Mode   byte
	Hair   byte
	Face   byte
	Height byte
	Level  int16

	mu       sync.Mutex
	mapID    uint16
	posX     float32
	posY     float32
	posZ     float32
	angle    float32
	moveType byte
	items    map[SlotKey]*Item
	skills   map[uint16]Skill
}

func NewPlayer(charID, userID int32, name string, sess *net.Session) *Player {
	return &Player{
		CharID:  charID,
		UserID:  userID,
		Name:    name,
		Session: sess,
		items:   make(map[SlotKey]*Item),
		skills:  make(map[uint16]Skill),
	}
}

// SetPosition seeds the transient position from the durable record at load
// time, before the player is visible to anyone.
func (p *Player) SetPosition(mapID uint16, x, y, z, angle float32) {
	p.mu.Lock()
	p.mapID = mapID
	p.posX, p.posY, p.posZ, p.angle = x, y, z, angle
	p.mu.Unlock()
}

// Move updates the transient position. No durable write, no response packet;
// the new position is visible to any snapshot reader as soon as Move
// returns.
func (p *Player) Move(moveType byte, x, y, z, angle float32) {
	p.mu.Lock()
	p.moveType = moveType
	p.posX, p.posY, p.posZ, p.angle = x, y, z, angle
	p.mu.Unlock()
}

// Position returns the current transient position.
func (p *Player) Position() (mapID uint16, x, y, z, angle float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mapID, p.posX, p.posY, p.posZ, p.angle
}

// AddItem places an item at its (bag, slot) during load. Returns false if
// the slot is already taken, which means the durable data is corrupt.
func (p *Player) AddItem(it *Item) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := SlotKey{Bag: it.Bag, Slot: it.Slot}
	if _, taken := p.items[key]; taken {
		return false
	}
	p.items[key] = it
	return true
}

// ItemAt returns a copy of the item at a slot; Empty() when vacant.
func (p *Player) ItemAt(bag, slot byte) Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it, ok := p.items[SlotKey{Bag: bag, Slot: slot}]; ok {
		return *it
	}
	return Item{Bag: bag, Slot: slot}
}

// ItemCount returns the number of occupied slots.
func (p *Player) ItemCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Items returns copies of every held item.
func (p *Player) Items() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Item, 0, len(p.items))
	for _, it := range p.items {
		out = append(out, *it)
	}
	return out
}

// MoveItem performs the atomic slot move: with an empty destination the item
// relocates; with an occupied destination the two slots exchange contents.
// No intermediate state is observable from outside the lock, so an item can
// never be duplicated or lost by any interleaving of moves. The returned
// values describe the source and destination slots after the move (Empty()
// for a vacated source). ok is false when there is nothing at the source or
// the move is a no-op, which the handler surfaces as a negative result.
func (p *Player) MoveItem(srcBag, srcSlot, dstBag, dstSlot byte) (src, dst Item, ok bool) {
	srcKey := SlotKey{Bag: srcBag, Slot: srcSlot}
	dstKey := SlotKey{Bag: dstBag, Slot: dstSlot}
	if srcKey == dstKey {
		return Item{Bag: srcBag, Slot: srcSlot}, Item{Bag: dstBag, Slot: dstSlot}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	moving := p.items[srcKey]
	if moving == nil {
		return Item{Bag: srcBag, Slot: srcSlot}, Item{Bag: dstBag, Slot: dstSlot}, false
	}
	displaced := p.items[dstKey]

	delete(p.items, srcKey)
	moving.Bag, moving.Slot = dstBag, dstSlot
	p.items[dstKey] = moving

	if displaced != nil {
		displaced.Bag, displaced.Slot = srcBag, srcSlot
		p.items[srcKey] = displaced
		return *displaced, *moving, true
	}
	return Item{Bag: srcBag, Slot: srcSlot}, *moving, true
}

// AddSkill seeds a learned skill at load time.
func (p *Player) AddSkill(sk Skill) {
	p.mu.Lock()
	p.skills[sk.SkillID] = sk
	p.mu.Unlock()
}

// SkillLevel returns the learned level for a skill, 0 if unknown.
func (p *Player) SkillLevel(skillID uint16) byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skills[skillID].Level
}

// Skills returns copies of every learned skill.
func (p *Player) Skills() []Skill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Skill, 0, len(p.skills))
	for _, sk := range p.skills {
		out = append(out, sk)
	}
	return out
}

// LearnSkill grants a skill at the requested level. It returns false — never
// an error to the wire — when the skill is already known at the requested
// level or higher, the rule's prerequisite is missing, or the durable write
// fails. On true, the in-memory skill set and the durable store agree.
//
// The player lock is never held across the store call: validate under the
// lock, release for the write, then re-validate before committing so a
// racing learn of a higher level is not clobbered.
func (p *Player) LearnSkill(ctx context.Context, skillID uint16, level byte, rule SkillRule, store SkillStore) bool {
	p.mu.Lock()
	if !p.canLearnLocked(skillID, level, rule) {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	if err := store.SaveSkill(ctx, p.CharID, skillID, level); err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.canLearnLocked(skillID, level, rule) {
		// A concurrent learn got there first; the store holds at least the
		// requested level either way.
		return false
	}
	p.skills[skillID] = Skill{SkillID: skillID, Level: level}
	return true
}

func (p *Player) canLearnLocked(skillID uint16, level byte, rule SkillRule) bool {
	if level == 0 || level > rule.MaxLevel {
		return false
	}
	if p.skills[skillID].Level >= level {
		return false
	}
	if rule.PrereqSkill != 0 && p.skills[rule.PrereqSkill].Level < rule.PrereqLevel {
		return false
	}
	return true
}
