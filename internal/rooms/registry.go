package rooms

import "sort"

// Registry maps room identifiers to their member connection identifiers.
//
// Registry is not safe for concurrent use. The hub owns the only instance and
// serializes every access behind its own lock.
type Registry struct {
	rooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]struct{})}
}

// Add inserts connID into roomID, creating the entry when absent. It reports
// whether the entry was created by this call.
func (r *Registry) Add(roomID, connID string) (created bool) {
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
		created = true
	}
	members[connID] = struct{}{}
	return created
}

// Remove deletes connID from roomID. It reports whether connID was a member
// and whether the entry was deleted because it became empty.
func (r *Registry) Remove(roomID, connID string) (removed, deleted bool) {
	members, ok := r.rooms[roomID]
	if !ok {
		return false, false
	}
	if _, ok := members[connID]; !ok {
		return false, false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return true, true
	}
	return true, false
}

func (r *Registry) Exists(roomID string) bool {
	_, ok := r.rooms[roomID]
	return ok
}

// Contains reports whether connID is currently a member of roomID.
func (r *Registry) Contains(roomID, connID string) bool {
	_, ok := r.rooms[roomID][connID]
	return ok
}

// Members returns a copy of roomID's member set in no particular order. It
// returns nil for an unknown room.
func (r *Registry) Members(roomID string) []string {
	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Len returns the number of live rooms.
func (r *Registry) Len() int { return len(r.rooms) }

// Size returns the member count of roomID (0 when absent).
func (r *Registry) Size(roomID string) int { return len(r.rooms[roomID]) }

// Snapshot copies the whole registry. Member lists are sorted so diagnostic
// output is stable.
func (r *Registry) Snapshot() map[string][]string {
	out := make(map[string][]string, len(r.rooms))
	for roomID, members := range r.rooms {
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[roomID] = ids
	}
	return out
}
