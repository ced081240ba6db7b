package chat

import domain "github.com/example/live-chat/domain/chat"

// Registry tracks live connections and the distinct users behind them.
// It is not safe for concurrent use; the engine's worker owns it.
type Registry struct {
	conns  map[string]domain.Connection
	byUser map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]domain.Connection),
		byUser: make(map[string]int),
	}
}

// Register adds conn. A second registration of the same id fails.
func (r *Registry) Register(conn domain.Connection) error {
	if _, exists := r.conns[conn.ID]; exists {
		return domain.ErrDuplicateConnection
	}
	r.conns[conn.ID] = conn
	r.byUser[conn.Identity.UserID]++
	return nil
}

// Unregister removes the connection. lastForUser reports whether the user
// has no connections left; ok is false when the id was not registered.
func (r *Registry) Unregister(connID string) (id domain.Identity, lastForUser bool, ok bool) {
	conn, exists := r.conns[connID]
	if !exists {
		return domain.Identity{}, false, false
	}
	delete(r.conns, connID)

	userID := conn.Identity.UserID
	r.byUser[userID]--
	if r.byUser[userID] <= 0 {
		delete(r.byUser, userID)
		lastForUser = true
	}
	return conn.Identity, lastForUser, true
}

// Get returns the connection registered under connID.
func (r *Registry) Get(connID string) (domain.Connection, bool) {
	conn, ok := r.conns[connID]
	return conn, ok
}

// CountDistinctUsers returns the number of users with at least one connection.
func (r *Registry) CountDistinctUsers() int {
	return len(r.byUser)
}

// Len returns the number of connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// ListConnections returns all connection ids in no particular order.
func (r *Registry) ListConnections() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
