package handler

import (
	"context"
	"errors"
	"fmt"
	stdnet "net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shaiyago/server/internal/config"
	"github.com/shaiyago/server/internal/data"
	gonet "github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"github.com/shaiyago/server/internal/persist"
	"github.com/shaiyago/server/internal/scripting"
	"github.com/shaiyago/server/internal/world"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ── Fake stores ────────────────────────────────────────────────────

type fakeUserStore struct {
	mu    sync.Mutex
	users map[int32]*persist.UserRow

	factionErr error
}

func (s *fakeUserStore) FindByID(_ context.Context, id int32) (*persist.UserRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], nil
}

func (s *fakeUserStore) UpdateFaction(_ context.Context, id int32, faction int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factionErr != nil {
		return s.factionErr
	}
	if u := s.users[id]; u != nil {
		u.Faction = faction
	}
	return nil
}

func (s *fakeUserStore) UpdateLastActive(_ context.Context, _ int32) error { return nil }

type fakeCharStore struct {
	mu          sync.Mutex
	rows        map[int32]*persist.CharacterRow
	nextID      int32
	createCalls int
	positions   map[int32][4]float32
}

func newFakeCharStore() *fakeCharStore {
	return &fakeCharStore{
		rows:      make(map[int32]*persist.CharacterRow),
		nextID:    1,
		positions: make(map[int32][4]float32),
	}
}

func (s *fakeCharStore) FindByID(_ context.Context, id int32) (*persist.CharacterRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id], nil
}

func (s *fakeCharStore) NameExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rows {
		if c.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeCharStore) ListByUser(_ context.Context, userID int32) ([]persist.CharacterRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persist.CharacterRow
	for _, c := range s.rows {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (s *fakeCharStore) Create(_ context.Context, c *persist.CharacterRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	c.ID = s.nextID
	s.nextID++
	stored := *c
	s.rows[c.ID] = &stored
	return nil
}

func (s *fakeCharStore) SoftDelete(_ context.Context, id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *fakeCharStore) SavePosition(_ context.Context, id int32, _ int32, x, y, z, angle float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[id] = [4]float32{x, y, z, angle}
	return nil
}

type fakeItemStore struct {
	mu      sync.Mutex
	rows    []persist.ItemRow
	nextID  int64
	updates [][]persist.SlotMove
}

func (s *fakeItemStore) Insert(_ context.Context, it *persist.ItemRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	it.ID = s.nextID
	s.rows = append(s.rows, *it)
	return nil
}

func (s *fakeItemStore) LoadByCharID(_ context.Context, charID int32) ([]persist.ItemRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persist.ItemRow
	for _, it := range s.rows {
		if it.CharID == charID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *fakeItemStore) UpdateSlots(_ context.Context, _ int32, moves []persist.SlotMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, moves)
	return nil
}

type fakeSkillStore struct {
	mu    sync.Mutex
	rows  []persist.SkillRow
	saved map[uint16]byte
	err   error
}

func (s *fakeSkillStore) LoadByCharID(_ context.Context, charID int32) ([]persist.SkillRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persist.SkillRow
	for _, sk := range s.rows {
		if sk.CharID == charID {
			out = append(out, sk)
		}
	}
	return out, nil
}

func (s *fakeSkillStore) SaveSkill(_ context.Context, _ int32, skillID uint16, level byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = make(map[uint16]byte)
	}
	s.saved[skillID] = level
	return nil
}

// ── Test fixtures ──────────────────────────────────────────────────

const testSkillsYAML = `
skills:
  - skill_id: 101
    name: "Sprint"
    max_level: 3
  - skill_id: 103
    name: "Iron Skin"
    max_level: 3
    prereq_skill: 101
    prereq_level: 2
`

const testItemsYAML = `
items:
  - type_id: 1
    name: "Short Sword"
    kind: "weapon"
    max_count: 1
    equipable: true
  - type_id: 10
    name: "Leather Tunic"
    kind: "armor"
    max_count: 1
    equipable: true
  - type_id: 100
    name: "Small Healing Potion"
    kind: "consumable"
    max_count: 50
`

const testCreationLua = `
function get_char_create_data(race, class)
    if race > 1 or class > 1 then
        return nil
    end
    return {
        start_map = 0,
        start_x = 1005.0,
        start_y = 100.0,
        start_z = 1150.0,
        start_angle = 0.0,
        level = 1,
        start_items = { 1, 10, 100 },
    }
end
`

func testDeps(t *testing.T) (*Deps, *fakeUserStore, *fakeCharStore, *fakeItemStore, *fakeSkillStore) {
	t.Helper()
	dir := t.TempDir()

	skillPath := filepath.Join(dir, "skills.yaml")
	if err := os.WriteFile(skillPath, []byte(testSkillsYAML), 0644); err != nil {
		t.Fatal(err)
	}
	itemPath := filepath.Join(dir, "items.yaml")
	if err := os.WriteFile(itemPath, []byte(testItemsYAML), 0644); err != nil {
		t.Fatal(err)
	}
	charDir := filepath.Join(dir, "scripts", "character")
	if err := os.MkdirAll(charDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(charDir, "creation.lua"), []byte(testCreationLua), 0644); err != nil {
		t.Fatal(err)
	}

	skillTable, err := data.LoadSkillTable(skillPath)
	if err != nil {
		t.Fatalf("load skill table: %v", err)
	}
	itemTable, err := data.LoadItemTable(itemPath)
	if err != nil {
		t.Fatalf("load item table: %v", err)
	}

	log := zap.NewNop()
	engine, err := scripting.NewEngine(filepath.Join(dir, "scripts"), log)
	if err != nil {
		t.Fatalf("lua engine: %v", err)
	}
	t.Cleanup(engine.Close)

	users := &fakeUserStore{users: make(map[int32]*persist.UserRow)}
	chars := newFakeCharStore()
	items := &fakeItemStore{}
	skills := &fakeSkillStore{}

	deps := &Deps{
		Users:      users,
		Characters: chars,
		Items:      items,
		Skills:     skills,
		Config: &config.Config{
			Character: config.CharacterConfig{MaxSlots: 5},
		},
		Log:        log,
		World:      world.NewState(),
		Scripts:    engine,
		SkillTable: skillTable,
		ItemTable:  itemTable,
	}
	return deps, users, chars, items, skills
}

func newTestSession(t *testing.T) *gonet.Session {
	t.Helper()
	server, client := stdnet.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	log := zap.NewNop()
	return gonet.NewSession(server, 1, packet.NewRegistry(log), nil, 32, 0, 0, log)
}

// inbound builds a client packet and returns it positioned past the opcode.
func inbound(opcode uint16, build func(w *packet.Writer)) *packet.Reader {
	w := packet.NewWriterWithOpcode(opcode)
	if build != nil {
		build(w)
	}
	return packet.NewReader(w.Bytes())
}

func nextPacket(t *testing.T, sess *gonet.Session) *packet.Reader {
	t.Helper()
	select {
	case raw := <-sess.OutQueue:
		return packet.NewReader(raw)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a packet, got none")
		return nil
	}
}

func expectNoPacket(t *testing.T, sess *gonet.Session) {
	t.Helper()
	select {
	case raw := <-sess.OutQueue:
		t.Fatalf("unexpected packet %#x", packet.NewReader(raw).Opcode())
	default:
	}
}

// ── Handshake ──────────────────────────────────────────────────────

func seedUser(t *testing.T, users *fakeUserStore, id int32, key string, faction int16) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	users.users[id] = &persist.UserRow{
		ID:             id,
		Username:       fmt.Sprintf("user%d", id),
		Faction:        faction,
		SessionKeyHash: string(hash),
	}
}

func TestHandshakeSuccess(t *testing.T) {
	deps, users, _, _, _ := testDeps(t)
	seedUser(t, users, 7, "key-abc", 1)

	sess := newTestSession(t)
	HandleHandshake(sess, inbound(packet.OP_GAME_HANDSHAKE, func(w *packet.Writer) {
		w.WriteD(7)
		w.WriteS("key-abc")
	}), deps)

	if sess.State() != packet.StateAuthenticated {
		t.Fatalf("state = %v, want Authenticated", sess.State())
	}
	if sess.UserID() != 7 {
		t.Fatalf("user id = %d", sess.UserID())
	}

	ack := nextPacket(t, sess)
	if ack.Opcode() != packet.OP_GAME_HANDSHAKE {
		t.Fatalf("first packet = %#x, want handshake ack", ack.Opcode())
	}
	list := nextPacket(t, sess)
	if list.Opcode() != packet.OP_CHARACTER_LIST {
		t.Fatalf("second packet = %#x, want character list", list.Opcode())
	}
	if count := list.ReadC(); count != 0 {
		t.Fatalf("character count = %d, want 0", count)
	}
	if slots := list.ReadC(); slots != 5 {
		t.Fatalf("max slots = %d, want 5", slots)
	}
	faction := nextPacket(t, sess)
	if faction.Opcode() != packet.OP_ACCOUNT_FACTION {
		t.Fatalf("third packet = %#x, want faction", faction.Opcode())
	}
	if got := faction.ReadC(); got != 1 {
		t.Fatalf("faction = %d, want 1", got)
	}
}

func TestHandshakeBadKey(t *testing.T) {
	deps, users, _, _, _ := testDeps(t)
	seedUser(t, users, 7, "key-abc", 0)

	sess := newTestSession(t)
	HandleHandshake(sess, inbound(packet.OP_GAME_HANDSHAKE, func(w *packet.Writer) {
		w.WriteD(7)
		w.WriteS("wrong-key")
	}), deps)

	if sess.State() != packet.StateHandshake {
		t.Fatalf("state = %v, want Handshake", sess.State())
	}
	expectNoPacket(t, sess)
}

func TestHandshakeUnknownUser(t *testing.T) {
	deps, _, _, _, _ := testDeps(t)

	sess := newTestSession(t)
	HandleHandshake(sess, inbound(packet.OP_GAME_HANDSHAKE, func(w *packet.Writer) {
		w.WriteD(99)
		w.WriteS("any")
	}), deps)

	if sess.State() != packet.StateHandshake {
		t.Fatalf("state = %v, want Handshake", sess.State())
	}
	expectNoPacket(t, sess)
}

// ── Faction ────────────────────────────────────────────────────────

func TestAccountFaction(t *testing.T) {
	deps, users, _, _, _ := testDeps(t)
	seedUser(t, users, 7, "k", 0)

	sess := newTestSession(t)
	sess.SetUserID(7)
	sess.SetState(packet.StateAuthenticated)

	HandleAccountFaction(sess, inbound(packet.OP_ACCOUNT_FACTION, func(w *packet.Writer) {
		w.WriteC(1)
	}), deps)

	resp := nextPacket(t, sess)
	if resp.Opcode() != packet.OP_ACCOUNT_FACTION || resp.ReadC() != 1 {
		t.Fatal("faction response missing or wrong")
	}
	if users.users[7].Faction != 1 {
		t.Fatal("faction not stored")
	}
}

func TestAccountFactionStoreFailure(t *testing.T) {
	deps, users, _, _, _ := testDeps(t)
	seedUser(t, users, 7, "k", 0)
	users.factionErr = errors.New("db down")

	sess := newTestSession(t)
	sess.SetUserID(7)
	sess.SetState(packet.StateAuthenticated)

	HandleAccountFaction(sess, inbound(packet.OP_ACCOUNT_FACTION, func(w *packet.Writer) {
		w.WriteC(1)
	}), deps)

	// Durable write failed, so neither memory nor the client observe a change.
	expectNoPacket(t, sess)
	if users.users[7].Faction != 0 {
		t.Fatal("faction changed despite failed write")
	}
}

// ── Character creation ─────────────────────────────────────────────

func authedSession(t *testing.T, userID int32) *gonet.Session {
	t.Helper()
	sess := newTestSession(t)
	sess.SetUserID(userID)
	sess.SetState(packet.StateAuthenticated)
	return sess
}

func createCharPacket(name string) *packet.Reader {
	return inbound(packet.OP_CREATE_CHARACTER, func(w *packet.Writer) {
		w.WriteC(0) // race
		w.WriteC(0) // mode
		w.WriteC(0) // hair
		w.WriteC(0) // face
		w.WriteC(0) // height
		w.WriteC(0) // class
		w.WriteC(0) // gender
		w.WriteS(name)
	})
}

func TestCreateFirstCharacter(t *testing.T) {
	deps, _, chars, items, _ := testDeps(t)
	sess := authedSession(t, 7)

	HandleCreateChar(sess, createCharPacket("Aria"), deps)

	resp := nextPacket(t, sess)
	if resp.Opcode() != packet.OP_CREATE_CHARACTER || resp.ReadC() != 1 {
		t.Fatal("expected create success response")
	}
	list := nextPacket(t, sess)
	if list.Opcode() != packet.OP_CHARACTER_LIST {
		t.Fatalf("expected character list, got %#x", list.Opcode())
	}
	if count := list.ReadC(); count != 1 {
		t.Fatalf("character count = %d, want 1", count)
	}

	rows, _ := chars.ListByUser(context.Background(), 7)
	if len(rows) != 1 {
		t.Fatalf("stored characters = %d", len(rows))
	}
	row := rows[0]
	if row.Name != "Aria" || row.Slot != 0 {
		t.Fatalf("row = %+v, want Aria in slot 0", row)
	}
	if row.PosX != 1005.0 || row.MapID != 0 {
		t.Fatalf("start position not taken from script: %+v", row)
	}

	// Starter gear from the creation script.
	got, _ := items.LoadByCharID(context.Background(), row.ID)
	if len(got) != 3 {
		t.Fatalf("starter items = %d, want 3", len(got))
	}
}

func TestCreateCharacterFillsLowestSlot(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	sess := authedSession(t, 7)

	// Slots 0 and 2 taken; the next character must land in slot 1.
	chars.rows[50] = &persist.CharacterRow{ID: 50, UserID: 7, Name: "A", Slot: 0}
	chars.rows[51] = &persist.CharacterRow{ID: 51, UserID: 7, Name: "C", Slot: 2}

	HandleCreateChar(sess, createCharPacket("Briar"), deps)

	resp := nextPacket(t, sess)
	if resp.ReadC() != 1 {
		t.Fatal("expected create success")
	}
	rows, _ := chars.ListByUser(context.Background(), 7)
	var found bool
	for _, r := range rows {
		if r.Name == "Briar" {
			found = true
			if r.Slot != 1 {
				t.Fatalf("slot = %d, want 1", r.Slot)
			}
		}
	}
	if !found {
		t.Fatal("created character missing")
	}
}

func TestCreateCharacterMaxReached(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	sess := authedSession(t, 7)

	// Creation refuses at MaxSlots-1 held characters.
	for i := int32(0); i < 4; i++ {
		chars.rows[50+i] = &persist.CharacterRow{
			ID: 50 + i, UserID: 7, Name: fmt.Sprintf("C%d", i), Slot: int16(i),
		}
	}

	HandleCreateChar(sess, createCharPacket("Overflow"), deps)

	resp := nextPacket(t, sess)
	if resp.Opcode() != packet.OP_CREATE_CHARACTER || resp.ReadC() != 0 {
		t.Fatal("expected create failure response")
	}
	if chars.createCalls != 0 {
		t.Fatal("store insert attempted despite full account")
	}
}

func TestCreateCharacterUnknownCombination(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	sess := authedSession(t, 7)

	HandleCreateChar(sess, inbound(packet.OP_CREATE_CHARACTER, func(w *packet.Writer) {
		w.WriteC(9) // race the script rejects
		w.WriteC(0)
		w.WriteC(0)
		w.WriteC(0)
		w.WriteC(0)
		w.WriteC(0)
		w.WriteC(0)
		w.WriteS("Aria")
	}), deps)

	resp := nextPacket(t, sess)
	if resp.ReadC() != 0 {
		t.Fatal("expected failure for undefined race/class")
	}
	if chars.createCalls != 0 {
		t.Fatal("store insert attempted")
	}
}

func TestCreateCharacterConcurrentSameName(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	sessA := authedSession(t, 7)
	sessB := authedSession(t, 8)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		HandleCreateChar(sessA, createCharPacket("Aria"), deps)
	}()
	go func() {
		defer wg.Done()
		HandleCreateChar(sessB, createCharPacket("Aria"), deps)
	}()
	wg.Wait()

	successes := 0
	for _, sess := range []*gonet.Session{sessA, sessB} {
		resp := nextPacket(t, sess)
		if resp.Opcode() != packet.OP_CREATE_CHARACTER {
			t.Fatalf("first packet = %#x", resp.Opcode())
		}
		if resp.ReadC() == 1 {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}
	if chars.createCalls != 1 {
		t.Fatalf("store inserts = %d, want 1", chars.createCalls)
	}
}

func TestCheckName(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	chars.rows[50] = &persist.CharacterRow{ID: 50, UserID: 9, Name: "Taken", Slot: 0}

	sess := authedSession(t, 7)

	HandleCheckName(sess, inbound(packet.OP_CHECK_NAME, func(w *packet.Writer) {
		w.WriteS("Taken")
	}), deps)
	if resp := nextPacket(t, sess); resp.ReadC() != 0 {
		t.Fatal("taken name reported available")
	}

	HandleCheckName(sess, inbound(packet.OP_CHECK_NAME, func(w *packet.Writer) {
		w.WriteS("Fresh")
	}), deps)
	if resp := nextPacket(t, sess); resp.ReadC() != 1 {
		t.Fatal("free name reported unavailable")
	}
}

// ── Character deletion ─────────────────────────────────────────────

func TestDeleteCharacter(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	chars.rows[50] = &persist.CharacterRow{ID: 50, UserID: 7, Name: "Aria", Slot: 0}

	sess := authedSession(t, 7)
	HandleDeleteChar(sess, inbound(packet.OP_DELETE_CHARACTER, func(w *packet.Writer) {
		w.WriteD(50)
	}), deps)

	resp := nextPacket(t, sess)
	if resp.Opcode() != packet.OP_DELETE_CHARACTER || resp.ReadC() != 1 {
		t.Fatal("expected delete success response")
	}
	if _, held := chars.rows[50]; held {
		t.Fatal("character still present after delete")
	}
}

func TestDeleteCharacterNotOwned(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	chars.rows[50] = &persist.CharacterRow{ID: 50, UserID: 9, Name: "Aria", Slot: 0}

	sess := authedSession(t, 7)
	HandleDeleteChar(sess, inbound(packet.OP_DELETE_CHARACTER, func(w *packet.Writer) {
		w.WriteD(50)
	}), deps)

	expectNoPacket(t, sess)
	if _, held := chars.rows[50]; !held {
		t.Fatal("foreign character deleted")
	}
}

// ── Character selection ────────────────────────────────────────────

func seedWorldChar(chars *fakeCharStore, id, userID int32, name string) {
	chars.rows[id] = &persist.CharacterRow{
		ID: id, UserID: userID, Name: name, Slot: 0,
		Level: 3, MapID: 0, PosX: 10, PosY: 20, PosZ: 30,
	}
}

func TestSelectCharacter(t *testing.T) {
	deps, _, chars, items, skills := testDeps(t)
	seedWorldChar(chars, 50, 7, "Aria")
	items.rows = []persist.ItemRow{
		{ID: 1, CharID: 50, TypeID: 1, Bag: 0, Slot: 3, Count: 1},
		{ID: 2, CharID: 50, TypeID: 100, Bag: 1, Slot: 0, Count: 5},
	}
	skills.rows = []persist.SkillRow{{CharID: 50, SkillID: 101, Level: 2}}

	sess := authedSession(t, 7)
	HandleSelectChar(sess, inbound(packet.OP_SELECT_CHARACTER, func(w *packet.Writer) {
		w.WriteD(50)
	}), deps)

	if sess.State() != packet.StateInWorld {
		t.Fatalf("state = %v, want InWorld", sess.State())
	}
	if sess.CharID() != 50 {
		t.Fatalf("char id = %d", sess.CharID())
	}

	p := deps.World.Get(50)
	if p == nil {
		t.Fatal("player not in world registry")
	}
	if p.ItemCount() != 2 {
		t.Fatalf("loaded items = %d, want 2", p.ItemCount())
	}
	if p.SkillLevel(101) != 2 {
		t.Fatalf("loaded skill level = %d, want 2", p.SkillLevel(101))
	}
	if _, x, _, _, _ := p.Position(); x != 10 {
		t.Fatalf("position x = %v, want 10", x)
	}

	resp := nextPacket(t, sess)
	if resp.Opcode() != packet.OP_SELECT_CHARACTER || resp.ReadC() != 1 {
		t.Fatal("expected select success response")
	}
}

func TestSelectCharacterNotOwned(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	seedWorldChar(chars, 50, 9, "Aria")

	sess := authedSession(t, 7)
	HandleSelectChar(sess, inbound(packet.OP_SELECT_CHARACTER, func(w *packet.Writer) {
		w.WriteD(50)
	}), deps)

	expectNoPacket(t, sess)
	if sess.State() != packet.StateAuthenticated {
		t.Fatalf("state = %v, want Authenticated", sess.State())
	}
	if deps.World.Get(50) != nil {
		t.Fatal("foreign character entered the world")
	}
}

func TestSelectCharacterReplacesConnection(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	seedWorldChar(chars, 50, 7, "Aria")

	first := authedSession(t, 7)
	HandleSelectChar(first, inbound(packet.OP_SELECT_CHARACTER, func(w *packet.Writer) {
		w.WriteD(50)
	}), deps)
	nextPacket(t, first)

	second := authedSession(t, 7)
	HandleSelectChar(second, inbound(packet.OP_SELECT_CHARACTER, func(w *packet.Writer) {
		w.WriteD(50)
	}), deps)

	if !first.IsClosed() {
		t.Fatal("stale session not closed on reconnect")
	}
	if p := deps.World.Get(50); p == nil || p.Session != second {
		t.Fatal("world does not hold the reconnected player")
	}
}

func TestSelectCharacterEvictsOtherCharacterOfUser(t *testing.T) {
	deps, _, chars, _, _ := testDeps(t)
	seedWorldChar(chars, 50, 7, "Aria")
	seedWorldChar(chars, 51, 7, "Briar")
	chars.rows[51].Slot = 1

	first := authedSession(t, 7)
	HandleSelectChar(first, inbound(packet.OP_SELECT_CHARACTER, func(w *packet.Writer) {
		w.WriteD(50)
	}), deps)
	nextPacket(t, first)

	// The same user selects a different character from a second connection;
	// the user must end up with exactly one character in the world.
	second := authedSession(t, 7)
	HandleSelectChar(second, inbound(packet.OP_SELECT_CHARACTER, func(w *packet.Writer) {
		w.WriteD(51)
	}), deps)

	if !first.IsClosed() {
		t.Fatal("first session not closed")
	}
	if deps.World.Get(50) != nil {
		t.Fatal("evicted character still in world")
	}
	if p := deps.World.Get(51); p == nil || p.Session != second {
		t.Fatal("world does not hold the newly selected character")
	}
	if p := deps.World.GetByUser(7); p == nil || p.CharID != 51 {
		t.Fatal("user holds more than one in-world character")
	}
}

// ── Enter map ──────────────────────────────────────────────────────

func TestEnterMapSnapshot(t *testing.T) {
	deps, _, _, _, _ := testDeps(t)

	sess := newTestSession(t)
	sess.SetCharID(1)
	sess.SetState(packet.StateInWorld)
	deps.World.Add(world.NewPlayer(1, 7, "Aria", sess))
	deps.World.Add(world.NewPlayer(2, 8, "Borin", newTestSession(t)))
	deps.World.Add(world.NewPlayer(3, 9, "Cale", newTestSession(t)))

	HandleEnterMap(sess, inbound(packet.OP_ENTER_MAP, nil), deps)

	seen := make(map[int32]bool)
	for i := 0; i < 2; i++ {
		r := nextPacket(t, sess)
		if r.Opcode() != packet.OP_CHARACTER_CONNECTED {
			t.Fatalf("opcode = %#x", r.Opcode())
		}
		id := r.ReadD()
		if id == 1 {
			t.Fatal("snapshot included the joiner itself")
		}
		seen[id] = true
	}
	expectNoPacket(t, sess)
	if !seen[2] || !seen[3] {
		t.Fatalf("missing players in snapshot: %v", seen)
	}
}

// ── Skills ─────────────────────────────────────────────────────────

func inWorldSession(t *testing.T, deps *Deps, charID int32) (*gonet.Session, *world.Player) {
	t.Helper()
	sess := newTestSession(t)
	sess.SetUserID(7)
	sess.SetCharID(charID)
	sess.SetState(packet.StateInWorld)
	p := world.NewPlayer(charID, 7, "Aria", sess)
	deps.World.Add(p)
	return sess, p
}

func TestLearnSkillSuccess(t *testing.T) {
	deps, _, _, _, skills := testDeps(t)
	sess, p := inWorldSession(t, deps, 50)

	HandleLearnSkill(sess, inbound(packet.OP_LEARN_SKILL, func(w *packet.Writer) {
		w.WriteH(101)
		w.WriteC(1)
	}), deps)

	resp := nextPacket(t, sess)
	if resp.Opcode() != packet.OP_LEARN_SKILL || resp.ReadC() != 1 {
		t.Fatal("expected learn success response")
	}
	if resp.ReadH() != 101 || resp.ReadC() != 1 {
		t.Fatal("response carries wrong skill")
	}
	if p.SkillLevel(101) != 1 {
		t.Fatal("skill not in memory")
	}
	if skills.saved[101] != 1 {
		t.Fatal("skill not persisted")
	}
}

func TestLearnSkillUnknownTemplate(t *testing.T) {
	deps, _, _, _, skills := testDeps(t)
	sess, _ := inWorldSession(t, deps, 50)

	HandleLearnSkill(sess, inbound(packet.OP_LEARN_SKILL, func(w *packet.Writer) {
		w.WriteH(9999)
		w.WriteC(1)
	}), deps)

	resp := nextPacket(t, sess)
	if resp.ReadC() != 0 {
		t.Fatal("unknown skill accepted")
	}
	if len(skills.saved) != 0 {
		t.Fatal("store written for unknown skill")
	}
}

func TestLearnSkillMissingPrerequisite(t *testing.T) {
	deps, _, _, _, _ := testDeps(t)
	sess, p := inWorldSession(t, deps, 50)

	HandleLearnSkill(sess, inbound(packet.OP_LEARN_SKILL, func(w *packet.Writer) {
		w.WriteH(103) // requires 101 at level 2
		w.WriteC(1)
	}), deps)

	resp := nextPacket(t, sess)
	if resp.ReadC() != 0 {
		t.Fatal("learn succeeded without prerequisite")
	}
	if p.SkillLevel(103) != 0 {
		t.Fatal("skill committed without prerequisite")
	}
}

// ── Item moves ─────────────────────────────────────────────────────

func TestMoveItemToEquipment(t *testing.T) {
	deps, _, _, items, _ := testDeps(t)
	sess, p := inWorldSession(t, deps, 50)
	p.AddItem(&world.Item{ID: 1, TypeID: 1, Count: 1, Bag: 1, Slot: 0})

	HandleMoveItem(sess, inbound(packet.OP_MOVE_ITEM, func(w *packet.Writer) {
		w.WriteC(1) // src bag
		w.WriteC(0) // src slot
		w.WriteC(0) // dst bag: equipment
		w.WriteC(3) // dst slot
	}), deps)

	resp := nextPacket(t, sess)
	if resp.Opcode() != packet.OP_MOVE_ITEM || resp.ReadC() != 1 {
		t.Fatal("expected move success response")
	}

	equip := nextPacket(t, sess)
	if equip.Opcode() != packet.OP_EQUIPMENT {
		t.Fatalf("expected equipment update, got %#x", equip.Opcode())
	}
	if equip.ReadD() != 50 {
		t.Fatal("equipment update for wrong character")
	}

	if got := p.ItemAt(0, 3); got.TypeID != 1 {
		t.Fatalf("item not equipped: %+v", got)
	}
	if len(items.updates) != 1 {
		t.Fatalf("store updates = %d, want 1", len(items.updates))
	}
	if moves := items.updates[0]; len(moves) != 1 || moves[0].Bag != 0 || moves[0].Slot != 3 {
		t.Fatalf("wrong slot write-back: %+v", moves)
	}
}

func TestMoveItemSwapPersistsBothRows(t *testing.T) {
	deps, _, _, items, _ := testDeps(t)
	sess, p := inWorldSession(t, deps, 50)
	p.AddItem(&world.Item{ID: 1, TypeID: 1, Count: 1, Bag: 1, Slot: 0})
	p.AddItem(&world.Item{ID: 2, TypeID: 10, Count: 1, Bag: 1, Slot: 1})

	HandleMoveItem(sess, inbound(packet.OP_MOVE_ITEM, func(w *packet.Writer) {
		w.WriteC(1)
		w.WriteC(0)
		w.WriteC(1)
		w.WriteC(1)
	}), deps)

	resp := nextPacket(t, sess)
	if resp.ReadC() != 1 {
		t.Fatal("expected swap success")
	}
	if len(items.updates) != 1 || len(items.updates[0]) != 2 {
		t.Fatalf("expected one write-back covering both rows, got %+v", items.updates)
	}
}

func TestMoveItemEmptySource(t *testing.T) {
	deps, _, _, items, _ := testDeps(t)
	sess, _ := inWorldSession(t, deps, 50)

	HandleMoveItem(sess, inbound(packet.OP_MOVE_ITEM, func(w *packet.Writer) {
		w.WriteC(1)
		w.WriteC(0)
		w.WriteC(1)
		w.WriteC(1)
	}), deps)

	resp := nextPacket(t, sess)
	if resp.ReadC() != 0 {
		t.Fatal("move from empty slot accepted")
	}
	if len(items.updates) != 0 {
		t.Fatal("store written for failed move")
	}
}

// ── Movement ───────────────────────────────────────────────────────

func TestMoveCharacter(t *testing.T) {
	deps, _, _, _, _ := testDeps(t)
	sess, p := inWorldSession(t, deps, 50)

	HandleMoveCharacter(sess, inbound(packet.OP_CHARACTER_MOVE, func(w *packet.Writer) {
		w.WriteC(1)
		w.WriteF(100.5)
		w.WriteF(0)
		w.WriteF(200.25)
		w.WriteF(45)
	}), deps)

	expectNoPacket(t, sess)
	if _, x, _, z, angle := p.Position(); x != 100.5 || z != 200.25 || angle != 45 {
		t.Fatalf("position not applied: x=%v z=%v angle=%v", x, z, angle)
	}
}

// ── Quit ───────────────────────────────────────────────────────────

func TestQuitClosesSession(t *testing.T) {
	deps, _, _, _, _ := testDeps(t)
	sess := authedSession(t, 7)

	HandleQuit(sess, inbound(packet.OP_QUIT, nil), deps)
	if !sess.IsClosed() {
		t.Fatal("session not closed on quit")
	}
}
