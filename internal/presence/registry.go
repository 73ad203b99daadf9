// Package presence tracks which users currently own live connections. State is
// process-local and rebuilt from scratch on restart; durability is provided by
// reconnect reconciliation in the notification service, not by this registry.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/aquademia/notify-engine/internal/domain"
)

// Registry maps user ids to their active connections. A user may own zero or
// many simultaneous connections (multi-device). All methods are safe for
// concurrent use; mutations are in-memory only and never block on I/O, so a
// single lock keeps the critical sections short.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]domain.PresenceEntry
	byConn map[string]string
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]domain.PresenceEntry),
		byConn: make(map[string]string),
		now:    time.Now,
	}
}

// Register adds a connection for a user. Registering the same connection id
// twice replaces its metadata without duplicating the entry; a connection id
// that moves between users is detached from its previous owner first.
func (r *Registry) Register(userID, connectionID string, clientMeta map[string]string) domain.PresenceEntry {
	entry := domain.PresenceEntry{
		UserID:       userID,
		ConnectionID: connectionID,
		ConnectedAt:  r.now().UTC(),
		ClientMeta:   clientMeta,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if previousOwner, ok := r.byConn[connectionID]; ok && previousOwner != userID {
		r.detachLocked(previousOwner, connectionID)
	}
	if existing, ok := r.byUser[userID][connectionID]; ok {
		entry.ConnectedAt = existing.ConnectedAt
	}

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]domain.PresenceEntry)
	}
	r.byUser[userID][connectionID] = entry
	r.byConn[connectionID] = userID

	return entry
}

// Unregister removes a connection and returns the owning user id plus the
// number of connections that user still holds. Unknown connection ids are a
// no-op, not an error.
func (r *Registry) Unregister(connectionID string) (userID string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byConn[connectionID]
	if !ok {
		return "", 0, false
	}

	r.detachLocked(userID, connectionID)
	return userID, len(r.byUser[userID]), true
}

func (r *Registry) detachLocked(userID, connectionID string) {
	delete(r.byConn, connectionID)
	if conns := r.byUser[userID]; conns != nil {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionsFor returns the ids of every live connection the user owns.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}

	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Snapshot returns a copy of every registered entry, ordered by user then
// connection id.
func (r *Registry) Snapshot() []domain.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]domain.PresenceEntry, 0, len(r.byConn))
	for _, conns := range r.byUser {
		for _, entry := range conns {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UserID != entries[j].UserID {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].ConnectionID < entries[j].ConnectionID
	})
	return entries
}
