package lock

import (
	"context"
	"errors"
	"time"

	"quadrant/api/internal/store"
)

// ideaLockStore is the slice of the canonical store the table needs:
// the lock fields live on the idea row, so arbitration rides the
// store's atomic row updates.
type ideaLockStore interface {
	GetIdea(ctx context.Context, ideaID string) (store.Idea, error)
	AcquireLock(ctx context.Context, ideaID, userID string, ttl time.Duration) (store.Idea, bool, error)
	RenewLock(ctx context.Context, ideaID, userID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, ideaID, userID string) (store.Idea, bool, error)
	SweepExpiredLocks(ctx context.Context, ttl time.Duration) ([]store.Idea, error)
}

// StoreTable persists claims as editing_by/editing_at on the idea row.
// This is the default single-instance (and Postgres-arbitrated) table.
type StoreTable struct {
	store ideaLockStore
	now   func() time.Time
}

func NewStoreTable(ideaStore ideaLockStore) *StoreTable {
	return &StoreTable{store: ideaStore, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (t *StoreTable) SetClock(now func() time.Time) { t.now = now }

func (t *StoreTable) TryAcquire(ctx context.Context, ideaID, holderID string, ttl time.Duration) (Claim, bool, error) {
	item, granted, err := t.store.AcquireLock(ctx, ideaID, holderID, ttl)
	if err != nil {
		return Claim{}, false, err
	}
	claim := Claim{}
	if item.EditingBy != nil {
		claim.HolderID = *item.EditingBy
	}
	if item.EditingAt != nil {
		claim.HeartbeatAt = *item.EditingAt
	}
	return claim, granted, nil
}

func (t *StoreTable) Renew(ctx context.Context, ideaID, holderID string, ttl time.Duration) (bool, error) {
	return t.store.RenewLock(ctx, ideaID, holderID, ttl)
}

func (t *StoreTable) Release(ctx context.Context, ideaID, holderID string) (bool, error) {
	_, released, err := t.store.ReleaseLock(ctx, ideaID, holderID)
	return released, err
}

func (t *StoreTable) Holder(ctx context.Context, ideaID string, ttl time.Duration) (Claim, bool, error) {
	item, err := t.store.GetIdea(ctx, ideaID)
	if err != nil {
		return Claim{}, false, err
	}
	if item.EditingBy == nil || item.EditingAt == nil {
		return Claim{}, false, nil
	}
	claim := Claim{HolderID: *item.EditingBy, HeartbeatAt: *item.EditingAt}
	if t.now().Sub(*item.EditingAt) >= ttl {
		return claim, false, nil
	}
	return claim, true, nil
}

// Invalidate releases whoever holds the claim. Once the idea row itself
// is gone the claim went with it and there is nothing to do.
func (t *StoreTable) Invalidate(ctx context.Context, ideaID string) error {
	item, err := t.store.GetIdea(ctx, ideaID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if item.EditingBy == nil {
		return nil
	}
	_, _, err = t.store.ReleaseLock(ctx, ideaID, *item.EditingBy)
	return err
}

func (t *StoreTable) SweepExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	cleared, err := t.store.SweepExpiredLocks(ctx, ttl)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cleared))
	for _, item := range cleared {
		ids = append(ids, item.ID)
	}
	return ids, nil
}
