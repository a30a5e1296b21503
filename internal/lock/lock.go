// Package lock serializes concurrent edit/move/delete access per idea
// with TTL-bound exclusive claims. There is no queueing: a denied
// requester retries after it sees a lock-released broadcast.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrNotHolder is returned by Heartbeat and Release when the caller is
// not the current claim holder, typically because the claim expired and
// was reclaimed.
var ErrNotHolder = errors.New("caller does not hold the edit lock")

// Claim is the current ownership record for one idea.
type Claim struct {
	HolderID    string
	HeartbeatAt time.Time
}

// ConflictError reports a denied acquire along with who holds the claim
// and when it lapses, so the UI can show "being edited by X".
type ConflictError struct {
	HolderID  string
	ExpiresAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idea is being edited by %s until %s", e.HolderID, e.ExpiresAt.Format(time.RFC3339))
}

// Grant is returned on a successful acquire. HeartbeatEvery is the
// advisory renewal cadence the holder must follow to keep the claim.
type Grant struct {
	ExpiresAt      time.Time
	HeartbeatEvery time.Duration
}

// Table is the claim arbiter. Implementations must make TryAcquire
// atomic per idea: the store-backed table rides the database's row
// update, the Redis table a server-side script. A claim older than ttl
// is expired and must always be reclaimable.
type Table interface {
	// TryAcquire claims ideaID for holderID when the claim is free,
	// expired, or already held by holderID. It returns the claim in
	// effect after the call and whether holderID holds it.
	TryAcquire(ctx context.Context, ideaID, holderID string, ttl time.Duration) (Claim, bool, error)
	// Renew extends the holder's heartbeat; false when holderID does
	// not hold a live claim.
	Renew(ctx context.Context, ideaID, holderID string, ttl time.Duration) (bool, error)
	// Release clears the claim; false when holderID does not hold it.
	Release(ctx context.Context, ideaID, holderID string) (bool, error)
	// Holder reports the live claim on ideaID without mutating it;
	// held is false when the claim is absent or expired.
	Holder(ctx context.Context, ideaID string, ttl time.Duration) (Claim, bool, error)
	// Invalidate clears any claim on ideaID regardless of holder. Used
	// when the idea itself is removed.
	Invalidate(ctx context.Context, ideaID string) error
	// SweepExpired clears claims whose heartbeat exceeded ttl and
	// returns the affected idea ids. Backends with native expiry may
	// return nothing.
	SweepExpired(ctx context.Context, ttl time.Duration) ([]string, error)
}

type Manager struct {
	table          Table
	ttl            time.Duration
	heartbeatEvery time.Duration
}

func NewManager(table Table, ttl, heartbeatEvery time.Duration) *Manager {
	return &Manager{table: table, ttl: ttl, heartbeatEvery: heartbeatEvery}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire grants the edit claim or returns a *ConflictError naming the
// current holder. First successful acquire wins.
func (m *Manager) Acquire(ctx context.Context, ideaID, userID string) (Grant, error) {
	claim, granted, err := m.table.TryAcquire(ctx, ideaID, userID, m.ttl)
	if err != nil {
		return Grant{}, err
	}
	if !granted {
		return Grant{}, &ConflictError{
			HolderID:  claim.HolderID,
			ExpiresAt: claim.HeartbeatAt.Add(m.ttl),
		}
	}
	return Grant{
		ExpiresAt:      claim.HeartbeatAt.Add(m.ttl),
		HeartbeatEvery: m.heartbeatEvery,
	}, nil
}

func (m *Manager) Heartbeat(ctx context.Context, ideaID, userID string) error {
	renewed, err := m.table.Renew(ctx, ideaID, userID, m.ttl)
	if err != nil {
		return err
	}
	if !renewed {
		return ErrNotHolder
	}
	return nil
}

func (m *Manager) Release(ctx context.Context, ideaID, userID string) error {
	released, err := m.table.Release(ctx, ideaID, userID)
	if err != nil {
		return err
	}
	if !released {
		return ErrNotHolder
	}
	return nil
}

// Guard returns nil when userID may mutate ideaID: the idea carries no
// live claim, or userID holds it. Anyone else's live claim is a
// *ConflictError, same as a denied acquire.
func (m *Manager) Guard(ctx context.Context, ideaID, userID string) error {
	claim, held, err := m.table.Holder(ctx, ideaID, m.ttl)
	if err != nil {
		return err
	}
	if held && claim.HolderID != userID {
		return &ConflictError{
			HolderID:  claim.HolderID,
			ExpiresAt: claim.HeartbeatAt.Add(m.ttl),
		}
	}
	return nil
}

// HolderOf reports the live claim on ideaID, if any.
func (m *Manager) HolderOf(ctx context.Context, ideaID string) (Claim, bool, error) {
	return m.table.Holder(ctx, ideaID, m.ttl)
}

// Invalidate clears any claim on ideaID regardless of holder, for when
// the idea itself is removed.
func (m *Manager) Invalidate(ctx context.Context, ideaID string) error {
	return m.table.Invalidate(ctx, ideaID)
}

// Sweep clears expired claims once and returns the affected idea ids.
func (m *Manager) Sweep(ctx context.Context) ([]string, error) {
	return m.table.SweepExpired(ctx, m.ttl)
}

// Run sweeps on the given cadence until ctx is canceled, invoking
// onCleared for every idea whose expired claim was reclaimed so the
// caller can broadcast the release.
func (m *Manager) Run(ctx context.Context, every time.Duration, onCleared func(ideaID string)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleared, err := m.Sweep(ctx)
			if err != nil {
				log.Printf("lock: sweep: %v", err)
				continue
			}
			for _, ideaID := range cleared {
				if onCleared != nil {
					onCleared(ideaID)
				}
			}
		}
	}
}
