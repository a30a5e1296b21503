package gate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimitError carries the hint for when the caller may retry: the
// time until the oldest counted submission exits the window, or the
// remaining cooldown after repeated violations.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// Decision is returned on an allowed submission.
type Decision struct {
	Remaining int
	ResetIn   time.Duration
}

// WindowStore records accepted-submission timestamps per participant.
// Take must be atomic per participant: the in-memory store locks, the
// Redis store runs a server-side script, so the N-per-window bound
// holds across concurrent callers (and across instances for Redis).
type WindowStore interface {
	// Take prunes entries older than window, then either records now
	// and reports the in-window count (taken=true) or reports the
	// oldest surviving entry for the retry hint (taken=false).
	Take(ctx context.Context, participantID string, now time.Time, window time.Duration, limit int) (taken bool, count int, oldest time.Time, err error)
	// Reset drops the participant's window (cooldown elapsed, or the
	// participant left and the state is evicted).
	Reset(ctx context.Context, participantID string) error
}

// Limiter enforces N accepted submissions per rolling window, with an
// extended cooldown after repeated violations in a session. Violation
// state is session-scoped and deliberately process-local; the window
// itself lives in the injected store.
type Limiter struct {
	profile Profile
	windows WindowStore
	now     func() time.Time

	mu         sync.Mutex
	violations map[string]*violationState
}

type violationState struct {
	count         int
	cooldownUntil time.Time
}

func NewLimiter(profile Profile, windows WindowStore) *Limiter {
	return &Limiter{
		profile:    profile,
		windows:    windows,
		now:        time.Now,
		violations: make(map[string]*violationState),
	}
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// CheckRate admits or rejects one submission for the participant.
// Rejections are terminal for that request; the caller rolls back.
func (l *Limiter) CheckRate(ctx context.Context, participantID string) (Decision, error) {
	now := l.now()

	if retryAfter, cooling := l.inCooldown(ctx, participantID, now); cooling {
		return Decision{}, &RateLimitError{RetryAfter: retryAfter}
	}

	taken, count, oldest, err := l.windows.Take(ctx, participantID, now, l.profile.RateWindow, l.profile.RateLimit)
	if err != nil {
		return Decision{}, err
	}
	if !taken {
		retryAfter := oldest.Add(l.profile.RateWindow).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.recordViolation(participantID, now)
		return Decision{}, &RateLimitError{RetryAfter: retryAfter}
	}

	resetIn := l.profile.RateWindow
	if !oldest.IsZero() {
		resetIn = oldest.Add(l.profile.RateWindow).Sub(now)
	}
	return Decision{Remaining: l.profile.RateLimit - count, ResetIn: resetIn}, nil
}

// Evict drops all limiter state for a participant that left the
// session or went inactive.
func (l *Limiter) Evict(ctx context.Context, participantID string) error {
	l.mu.Lock()
	delete(l.violations, participantID)
	l.mu.Unlock()
	return l.windows.Reset(ctx, participantID)
}

func (l *Limiter) inCooldown(ctx context.Context, participantID string, now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.violations[participantID]
	if !ok || state.cooldownUntil.IsZero() {
		return 0, false
	}
	if now.Before(state.cooldownUntil) {
		return state.cooldownUntil.Sub(now), true
	}
	// Cooldown served: violations and the window start over.
	delete(l.violations, participantID)
	_ = l.windows.Reset(ctx, participantID)
	return 0, false
}

func (l *Limiter) recordViolation(participantID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.violations[participantID]
	if !ok {
		state = &violationState{}
		l.violations[participantID] = state
	}
	state.count++
	if state.count >= l.profile.MaxViolations {
		state.cooldownUntil = now.Add(l.profile.RateCooldown)
	}
}

// MemoryWindows is the process-local WindowStore.
type MemoryWindows struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryWindows() *MemoryWindows {
	return &MemoryWindows{windows: make(map[string][]time.Time)}
}

func (m *MemoryWindows) Take(ctx context.Context, participantID string, now time.Time, window time.Duration, limit int) (bool, int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	kept := m.windows[participantID][:0]
	for _, ts := range m.windows[participantID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		m.windows[participantID] = kept
		return false, len(kept), kept[0], nil
	}

	kept = append(kept, now)
	m.windows[participantID] = kept
	return true, len(kept), kept[0], nil
}

func (m *MemoryWindows) Reset(ctx context.Context, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, participantID)
	return nil
}
