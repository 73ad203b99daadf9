package domain

import "time"

// PresenceEntry is one live connection owned by a user. Entries are transient
// and process-local: created when a connection authenticates, removed on
// disconnect, rebuilt from scratch on process restart.
type PresenceEntry struct {
	UserID       string
	ConnectionID string
	ConnectedAt  time.Time
	ClientMeta   map[string]string
}
