// Package room implements the in-memory room table used by the signaling
// router.
//
// Rooms are created implicitly by the first member and dropped as soon as the
// last member leaves, so the table never holds empty entries.
package room

import "sync"

// Table maps a room id to the set of peer ids currently joined to it.
//
// All methods are safe for concurrent use. Every mutation runs under a single
// table lock, which also serializes the count check inside Join with the
// insert that follows it.
type Table struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func NewTable() *Table {
	return &Table{
		rooms: make(map[string]map[string]struct{}),
	}
}

// MemberCount returns the number of members in roomID, or 0 if the room does
// not exist.
func (t *Table) MemberCount(roomID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms[roomID])
}

// AddMember inserts peerID into roomID, creating the room if needed. Adding an
// existing member is a no-op.
func (t *Table) AddMember(roomID, peerID string) {
	t.mu.Lock()
	t.addLocked(roomID, peerID)
	t.mu.Unlock()
}

// Join atomically checks whether roomID is empty and adds peerID to it.
//
// created reports whether the room had no members before the call; exactly one
// of any number of concurrent joins on an empty room observes created=true.
func (t *Table) Join(roomID, peerID string) (created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	created = len(t.rooms[roomID]) == 0
	t.addLocked(roomID, peerID)
	return created
}

// RemoveMember removes peerID from roomID. The room is dropped once empty.
// It reports whether peerID was a member.
func (t *Table) RemoveMember(roomID, peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[peerID]; !ok {
		return false
	}
	delete(members, peerID)
	if len(members) == 0 {
		delete(t.rooms, roomID)
	}
	return true
}

// Members returns a snapshot of the member ids of roomID in no particular
// order.
func (t *Table) Members(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	members := t.rooms[roomID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Len returns the number of non-empty rooms.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

func (t *Table) addLocked(roomID, peerID string) {
	members, ok := t.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		t.rooms[roomID] = members
	}
	members[peerID] = struct{}{}
}
