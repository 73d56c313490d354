package packet

// World-server opcodes. Client and server share one opcode space: a request
// and its response carry the same opcode.
const (
	OP_GAME_HANDSHAKE uint16 = 0xA301
	OP_PING           uint16 = 0x0003
	OP_QUIT           uint16 = 0x0107

	// Character-select phase
	OP_CHARACTER_LIST   uint16 = 0x0101
	OP_CREATE_CHARACTER uint16 = 0x0102
	OP_DELETE_CHARACTER uint16 = 0x0103
	OP_SELECT_CHARACTER uint16 = 0x0104
	OP_ACCOUNT_FACTION  uint16 = 0x0109
	OP_CHECK_NAME       uint16 = 0x0119

	// In-world phase
	OP_LEARN_SKILL    uint16 = 0x0209
	OP_MOVE_ITEM      uint16 = 0x0204
	OP_CHARACTER_MOVE uint16 = 0x0501
	OP_ENTER_MAP      uint16 = 0x0106

	// Server push only
	OP_CHARACTER_CONNECTED uint16 = 0x0211
	OP_EQUIPMENT           uint16 = 0x0507
)
