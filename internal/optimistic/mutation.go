package optimistic

import "quadrant/api/internal/store"

// Kind tags the closed set of mutations a client can stage.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindMove   Kind = "move"
	KindDelete Kind = "delete"
)

// Mutation is the closed union of stageable actions. Each variant
// carries only the fields its kind needs; the sealed interface keeps
// payload shapes checkable at compile time.
type Mutation interface {
	Kind() Kind
	IdeaID() string
}

// Create stages a brand-new idea. The id is provisional (client
// assigned); the server echoes the canonical record on confirm.
type Create struct {
	Idea store.Idea
}

func (m Create) Kind() Kind     { return KindCreate }
func (m Create) IdeaID() string { return m.Idea.ID }

// Update stages text/priority edits. Nil fields are left unchanged.
type Update struct {
	ID       string
	Content  *string
	Details  *string
	Priority *store.Priority
}

func (m Update) Kind() Kind     { return KindUpdate }
func (m Update) IdeaID() string { return m.ID }

// Move stages a reposition to canonical coordinates.
type Move struct {
	ID string
	X  float64
	Y  float64
}

func (m Move) Kind() Kind     { return KindMove }
func (m Move) IdeaID() string { return m.ID }

// Delete stages a removal.
type Delete struct {
	ID string
}

func (m Delete) Kind() Kind     { return KindDelete }
func (m Delete) IdeaID() string { return m.ID }
