package signal

import "sync"

// Registry maps room codes to their current membership and owns the
// membership lifecycle. Rooms are created on first join and deleted when
// the last member leaves. Membership is kept in insertion order and never
// contains duplicates; a participant belongs to at most one room.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string][]string // room code -> ordered member ids
	inRoom  map[string]string   // participant id -> room code
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string][]string),
		inRoom: make(map[string]string),
	}
}

// Join adds id to the room, creating the room if needed, and returns the
// ids that were already members. A second join by the same id is a no-op
// returning the unchanged member set minus the caller. Joining a
// different room while still a member of another removes the caller from
// the old room first; a participant is in at most one room.
func (r *Registry) Join(code, id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.inRoom[id]; ok && prev != code {
		r.leaveLocked(id, prev)
	}

	members := r.rooms[code]
	existing := make([]string, 0, len(members))
	already := false
	for _, m := range members {
		if m == id {
			already = true
			continue
		}
		existing = append(existing, m)
	}
	if !already {
		r.rooms[code] = append(members, id)
		r.inRoom[id] = code
	}
	return existing
}

// Leave removes id from whatever room it is in. It returns the room code
// and the remaining members. Unknown ids are a no-op (ok=false), which
// absorbs duplicate disconnect notifications.
func (r *Registry) Leave(id string) (code string, remaining []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok = r.inRoom[id]
	if !ok {
		return "", nil, false
	}
	return code, r.leaveLocked(id, code), true
}

// leaveLocked removes id from code's member list, deleting the room when
// it empties. Caller holds mu.
func (r *Registry) leaveLocked(id, code string) []string {
	delete(r.inRoom, id)

	members := r.rooms[code]
	remaining := make([]string, 0, len(members))
	for _, m := range members {
		if m != id {
			remaining = append(remaining, m)
		}
	}
	if len(remaining) == 0 {
		delete(r.rooms, code)
	} else {
		r.rooms[code] = remaining
	}
	return remaining
}

// MembersOf returns the room's members in join order.
func (r *Registry) MembersOf(code string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[code]
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// RoomOf returns the room the participant is currently in.
func (r *Registry) RoomOf(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.inRoom[id]
	return code, ok
}
