// Package presence tracks which live connections are currently bound to each
// user. It is the owner of connection membership; the relay only looks
// memberships up to fan messages out.
package presence

import (
	"fmt"
	"hash/fnv"
	"sync"
)

const shardCount = 32

// Conn is a live-connection handle. Implementations must be comparable
// (pointer types are). Deliver enqueues a payload without blocking and
// reports false when the connection cannot accept it (saturated or closed).
type Conn interface {
	Deliver(payload []byte) bool
}

type userShard struct {
	mu    sync.RWMutex
	conns map[string]map[Conn]struct{} // user id -> bound connections
}

type connShard struct {
	mu    sync.Mutex
	users map[Conn]string // connection -> bound user id
}

// Registry is a concurrent multi-map from user id to the set of connections
// bound to that user. Operations on different users proceed independently;
// operations touching the same connection serialize on that connection's
// shard, so a re-bind atomically moves the connection (old binding removed
// before the new one appears, never both).
type Registry struct {
	users [shardCount]userShard
	conns [shardCount]connShard
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.users {
		r.users[i].conns = make(map[string]map[Conn]struct{})
	}
	for i := range r.conns {
		r.conns[i].users = make(map[Conn]string)
	}
	return r
}

// Bind registers the connection under the user's delivery group. A
// connection already bound to another user is moved; binding twice to the
// same user is a no-op.
func (r *Registry) Bind(conn Conn, userID string) {
	cs := r.connShard(conn)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	previous, bound := cs.users[conn]
	if bound && previous == userID {
		return
	}
	if bound {
		r.removeMember(previous, conn)
	}
	cs.users[conn] = userID
	r.addMember(userID, conn)
}

// Unbind removes the connection from whichever group it is bound to.
// Unbinding an unbound connection is a no-op.
func (r *Registry) Unbind(conn Conn) {
	cs := r.connShard(conn)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	userID, bound := cs.users[conn]
	if !bound {
		return
	}
	delete(cs.users, conn)
	r.removeMember(userID, conn)
}

// ConnectionsFor returns a snapshot of the connections currently bound to
// the user. An offline user yields an empty slice.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	us := r.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	members := us.conns[userID]
	snapshot := make([]Conn, 0, len(members))
	for conn := range members {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

func (r *Registry) addMember(userID string, conn Conn) {
	us := r.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()
	members, ok := us.conns[userID]
	if !ok {
		members = make(map[Conn]struct{})
		us.conns[userID] = members
	}
	members[conn] = struct{}{}
}

func (r *Registry) removeMember(userID string, conn Conn) {
	us := r.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()
	members := us.conns[userID]
	delete(members, conn)
	if len(members) == 0 {
		delete(us.conns, userID)
	}
}

func (r *Registry) userShard(userID string) *userShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.users[h.Sum32()%shardCount]
}

// connShard picks a shard by the connection's identity. Connections are
// pointers in practice, so %p is stable for the connection's lifetime.
func (r *Registry) connShard(conn Conn) *connShard {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%p", conn)
	return &r.conns[h.Sum32()%shardCount]
}
