package store

import (
	"errors"
	"time"
)

// Priority is the small enumerated urgency scale attached to an idea.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityModerate  Priority = "moderate"
	PriorityHigh      Priority = "high"
	PriorityStrategic Priority = "strategic"
)

// ValidPriority reports whether p is one of the defined priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityModerate, PriorityHigh, PriorityStrategic:
		return true
	}
	return false
}

// Idea is a positioned item on a project's matrix. X and Y are always
// within the canonical coordinate space; producers clamp before writing.
// EditingBy/EditingAt are the pessimistic lock fields; UpdatedAt is
// owned by the store and is monotonically non-decreasing per idea.
type Idea struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Content   string     `json:"content"`
	Details   string     `json:"details"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Priority  Priority   `json:"priority"`
	OwnerID   string     `json:"ownerId"`
	EditingBy *string    `json:"editingBy,omitempty"`
	EditingAt *time.Time `json:"editingAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// IdeaPatch carries the mutable fields of an update; nil means "leave
// unchanged". ExpectedUpdatedAt is the caller's last-seen UpdatedAt and
// is compared by the store to detect conflicting concurrent writes.
type IdeaPatch struct {
	Content  *string
	Details  *string
	X        *float64
	Y        *float64
	Priority *Priority

	ExpectedUpdatedAt time.Time
}

var (
	ErrNotFound   = errors.New("idea not found")
	ErrStaleWrite = errors.New("idea was modified by a concurrent update")
)
