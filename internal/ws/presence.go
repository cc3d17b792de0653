package ws

import "sync"

// Presence tracks which users currently hold at least one open socket in
// each room. A user with several tabs counts once.
type Presence struct {
	mu    sync.RWMutex
	rooms map[int]map[int]int
}

// NewPresence creates an empty tracker.
func NewPresence() *Presence {
	return &Presence{rooms: make(map[int]map[int]int)}
}

// Join records a session for userID in roomID and reports whether the user
// transitioned from offline to online in that room.
func (p *Presence) Join(roomID, userID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.rooms[roomID]
	if !ok {
		users = make(map[int]int)
		p.rooms[roomID] = users
	}
	users[userID]++
	return users[userID] == 1
}

// Leave drops a session and reports whether the user is now fully offline
// in the room.
func (p *Presence) Leave(roomID, userID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.rooms[roomID]
	if !ok {
		return false
	}
	if users[userID] <= 1 {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.rooms, roomID)
		}
		return true
	}
	users[userID]--
	return false
}

// Count returns the number of distinct users online in the room.
func (p *Presence) Count(roomID int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms[roomID])
}

// Online reports whether userID has an open session in the room.
func (p *Presence) Online(roomID, userID int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.rooms[roomID][userID]
	return ok
}

// AnyOtherOnline reports whether any member besides userID is online.
func (p *Presence) AnyOtherOnline(roomID, userID int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for id := range p.rooms[roomID] {
		if id != userID {
			return true
		}
	}
	return false
}
