package gate

import (
	"errors"
	"sync"
)

// ErrSessionFull is returned when a join would exceed the concurrent
// participant ceiling for a collaborative session.
var ErrSessionFull = errors.New("session is at capacity")

// Capacity tracks concurrent participants per collaborative session and
// enforces the profile's ceiling on joins.
type Capacity struct {
	mu       sync.Mutex
	limit    int
	sessions map[string]map[string]struct{}
}

func NewCapacity(limit int) *Capacity {
	return &Capacity{
		limit:    limit,
		sessions: make(map[string]map[string]struct{}),
	}
}

// Join admits the participant or returns ErrSessionFull. Rejoining is
// idempotent and never counts twice.
func (c *Capacity) Join(sessionID, participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	participants, ok := c.sessions[sessionID]
	if !ok {
		participants = make(map[string]struct{})
		c.sessions[sessionID] = participants
	}
	if _, present := participants[participantID]; present {
		return nil
	}
	if len(participants) >= c.limit {
		return ErrSessionFull
	}
	participants[participantID] = struct{}{}
	return nil
}

func (c *Capacity) Leave(sessionID, participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	participants, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	delete(participants, participantID)
	if len(participants) == 0 {
		delete(c.sessions, sessionID)
	}
}

func (c *Capacity) Count(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions[sessionID])
}
