package realtime

import "sync"

// Registry maps user ids to their live connections. A user with no
// connections has no entry.
type Registry struct {
	mu    sync.RWMutex
	users map[int64]map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[int64]map[string]*Conn)}
}

// Add registers c under its user.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.users[c.userID]
	if !ok {
		set = make(map[string]*Conn)
		r.users[c.userID] = set
	}
	set[c.id] = c
}

// Remove unregisters c and drops the user once its last connection is gone.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.users[c.userID]
	if !ok {
		return
	}
	delete(set, c.id)
	if len(set) == 0 {
		delete(r.users, c.userID)
	}
}

// Connections returns the live connections of one user.
func (r *Registry) Connections(userID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.users[userID]
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// All returns every live connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Conn
	for _, set := range r.users {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Users returns how many users have at least one connection.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Rooms tracks per-conversation membership. It is independent of the user
// registry.
type Rooms struct {
	mu      sync.RWMutex
	members map[int64]map[string]*Conn
	joined  map[string]map[int64]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[int64]map[string]*Conn),
		joined:  make(map[string]map[int64]struct{}),
	}
}

// Join adds c to a conversation room.
func (r *Rooms) Join(conversationID int64, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[conversationID]
	if !ok {
		set = make(map[string]*Conn)
		r.members[conversationID] = set
	}
	set[c.id] = c
	rooms, ok := r.joined[c.id]
	if !ok {
		rooms = make(map[int64]struct{})
		r.joined[c.id] = rooms
	}
	rooms[conversationID] = struct{}{}
}

// Leave removes c from a conversation room.
func (r *Rooms) Leave(conversationID int64, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conversationID, c.id)
}

// LeaveAll removes c from every room it joined.
func (r *Rooms) LeaveAll(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.joined[c.id] {
		r.leaveLocked(id, c.id)
	}
}

func (r *Rooms) leaveLocked(conversationID int64, connID string) {
	if set, ok := r.members[conversationID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.members, conversationID)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, conversationID)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
}

// Members returns the connections in a room.
func (r *Rooms) Members(conversationID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.members[conversationID]
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Len returns the number of non-empty rooms.
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
