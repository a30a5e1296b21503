package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the process-local Idea store used in tests and
// embedded single-instance deployments. It honors the same contracts as
// PostgresStore, including StaleWrite detection and monotonic
// updated_at.
type MemoryStore struct {
	mu    sync.Mutex
	ideas map[string]Idea
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ideas: make(map[string]Idea),
		now:   time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// touch returns a timestamp strictly after prev so updated_at never
// moves backwards even with a coarse or frozen clock.
func (s *MemoryStore) touch(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func (s *MemoryStore) InsertIdea(ctx context.Context, item Idea) (Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.EditingBy = nil
	item.EditingAt = nil
	s.ideas[item.ID] = item
	return item, nil
}

func (s *MemoryStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.ideas[ideaID]
	if !ok {
		return Idea{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) ListIdeas(ctx context.Context, projectID string) ([]Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Idea, 0)
	for _, item := range s.ideas {
		if item.ProjectID == projectID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *MemoryStore) UpdateIdea(ctx context.Context, ideaID string, patch IdeaPatch) (Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.ideas[ideaID]
	if !ok {
		return Idea{}, ErrNotFound
	}
	if !item.UpdatedAt.Equal(patch.ExpectedUpdatedAt) {
		return Idea{}, ErrStaleWrite
	}

	if patch.Content != nil {
		item.Content = *patch.Content
	}
	if patch.Details != nil {
		item.Details = *patch.Details
	}
	if patch.X != nil {
		item.X = *patch.X
	}
	if patch.Y != nil {
		item.Y = *patch.Y
	}
	if patch.Priority != nil {
		item.Priority = *patch.Priority
	}
	item.UpdatedAt = s.touch(item.UpdatedAt)
	s.ideas[ideaID] = item
	return item, nil
}

func (s *MemoryStore) DeleteIdea(ctx context.Context, ideaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ideas[ideaID]; !ok {
		return ErrNotFound
	}
	delete(s.ideas, ideaID)
	return nil
}

func (s *MemoryStore) AcquireLock(ctx context.Context, ideaID, userID string, ttl time.Duration) (Idea, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.ideas[ideaID]
	if !ok {
		return Idea{}, false, ErrNotFound
	}

	now := s.now()
	held := item.EditingBy != nil && *item.EditingBy != userID &&
		item.EditingAt != nil && now.Sub(*item.EditingAt) < ttl
	if held {
		return item, false, nil
	}

	// Claims never move updated_at: taking or losing the edit lock is
	// not a row mutation and must not invalidate anyone's conflict
	// token.
	item.EditingBy = &userID
	at := now
	item.EditingAt = &at
	s.ideas[ideaID] = item
	return item, true, nil
}

func (s *MemoryStore) RenewLock(ctx context.Context, ideaID, userID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.ideas[ideaID]
	if !ok {
		return false, nil
	}

	now := s.now()
	if item.EditingBy == nil || *item.EditingBy != userID ||
		item.EditingAt == nil || now.Sub(*item.EditingAt) >= ttl {
		return false, nil
	}

	at := now
	item.EditingAt = &at
	s.ideas[ideaID] = item
	return true, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, ideaID, userID string) (Idea, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.ideas[ideaID]
	if !ok {
		return Idea{}, false, nil
	}
	if item.EditingBy == nil || *item.EditingBy != userID {
		return Idea{}, false, nil
	}

	item.EditingBy = nil
	item.EditingAt = nil
	s.ideas[ideaID] = item
	return item, true, nil
}

func (s *MemoryStore) SweepExpiredLocks(ctx context.Context, ttl time.Duration) ([]Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleared := make([]Idea, 0)
	for id, item := range s.ideas {
		if item.EditingBy == nil || item.EditingAt == nil {
			continue
		}
		if now.Sub(*item.EditingAt) < ttl {
			continue
		}
		item.EditingBy = nil
		item.EditingAt = nil
		s.ideas[id] = item
		cleared = append(cleared, item)
	}
	return cleared, nil
}
