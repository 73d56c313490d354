package world

import (
	"sync"

	"github.com/shaiyago/server/internal/net"
)

// State is the registry of all players currently loaded into the world,
// keyed by character id. Handlers for many connections touch it at once, so
// every structural operation is guarded by one RWMutex. The registry does
// not serialize a player's internal mutation: callers take the per-player
// lock (through the Player methods) after a lookup succeeds.
type State struct {
	mu       sync.RWMutex
	byCharID map[int32]*Player
}

func NewState() *State {
	return &State{
		byCharID: make(map[int32]*Player),
	}
}

// Add registers a player. A player with the same character id already in the
// registry is replaced and returned so the caller can close its session —
// that is the reconnect race: the newer connection wins.
func (s *State) Add(p *Player) *Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := s.byCharID[p.CharID]
	s.byCharID[p.CharID] = p
	return prior
}

// Remove evicts a player, returning it (nil if absent).
func (s *State) Remove(charID int32) *Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byCharID[charID]
	delete(s.byCharID, charID)
	return p
}

// RemoveSession evicts the player for charID only if it still belongs to
// sess. A reconnect replaces the registry entry before the old connection
// finishes dying, and the stale close must not evict the new player.
func (s *State) RemoveSession(charID int32, sess *net.Session) *Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byCharID[charID]
	if p == nil || p.Session != sess {
		return nil
	}
	delete(s.byCharID, charID)
	return p
}

// GetByUser returns the player a user has in the world, or nil. A user has
// at most one character selected at a time.
func (s *State) GetByUser(userID int32) *Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byCharID {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Get returns the player for a character id, or nil.
func (s *State) Get(charID int32) *Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byCharID[charID]
}

// Snapshot returns a point-in-time copy of the registry contents, safe to
// iterate while other goroutines insert and remove players.
func (s *State) Snapshot() []*Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Player, 0, len(s.byCharID))
	for _, p := range s.byCharID {
		out = append(out, p)
	}
	return out
}

// Count returns the number of players in the world.
func (s *State) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCharID)
}
