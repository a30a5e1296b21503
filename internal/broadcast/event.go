// Package broadcast fans committed store changes out to every session
// subscribed to a project. Delivery is at-least-once and unordered;
// consumers discard events at or behind the updated_at they already
// hold.
package broadcast

import "quadrant/api/internal/store"

type Kind string

const (
	Inserted Kind = "inserted"
	Updated  Kind = "updated"
	Moved    Kind = "moved"
	Deleted  Kind = "deleted"
	// LockChanged announces a claim being taken or cleared. It carries
	// the canonical row with the holder overlaid and is exempt from
	// updated_at deduplication: a lock change is not a row mutation.
	LockChanged Kind = "lock-changed"
)

// Event is one committed mutation, carrying the post-mutation idea
// snapshot (for Deleted, the last state before removal). Origin is the
// publishing instance id, used by the Redis bridge to drop its own
// loopback deliveries.
type Event struct {
	Kind      Kind       `json:"kind"`
	ProjectID string     `json:"projectId"`
	Idea      store.Idea `json:"idea"`
	Origin    string     `json:"origin,omitempty"`
}
