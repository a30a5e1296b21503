// Package optimistic applies a user's mutations to the visible view
// immediately and reconciles them against server responses, rolling
// back to the last confirmed state on failure or silence.
package optimistic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quadrant/api/internal/broadcast"
	"quadrant/api/internal/quadrant"
	"quadrant/api/internal/store"
)

// State of a pending operation. Confirmed and RolledBack are terminal
// and reported through the resolve callback.
type State string

const (
	Staged     State = "staged"
	Confirmed  State = "confirmed"
	RolledBack State = "rolled-back"
)

// Submitter sends one mutation down the gatekeeper/store pipeline and
// returns the canonical post-mutation idea (zero value for deletes).
// It must honor ctx cancellation; the engine bounds every call with
// the pending deadline.
type Submitter func(ctx context.Context, m Mutation) (store.Idea, error)

// ResolveFunc observes terminal transitions. failure is nil when state
// is Confirmed.
type ResolveFunc func(ideaID string, state State, failure *Failure)

// pendingOp tracks one staged mutation. originalSnapshot is the last
// confirmed state at stage time (nil for creates) and is never replaced
// by an intermediate optimistic state.
type pendingOp struct {
	ideaID           string
	kind             Kind
	originalSnapshot *store.Idea
	issuedAt         time.Time
	timeoutAt        time.Time
	// queued holds a coalesced follow-up target staged while a wire
	// request was in flight.
	queued Mutation
	// generation discards late responses after rollback or coalescing.
	generation int
	cancel     context.CancelFunc
	timer      *time.Timer
}

type Engine struct {
	submit  Submitter
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	view      map[string]store.Idea
	confirmed map[string]store.Idea
	pending   map[string]*pendingOp
	onResolve ResolveFunc
}

func NewEngine(submit Submitter, timeout time.Duration) *Engine {
	return &Engine{
		submit:    submit,
		timeout:   timeout,
		now:       time.Now,
		view:      make(map[string]store.Idea),
		confirmed: make(map[string]store.Idea),
		pending:   make(map[string]*pendingOp),
	}
}

// OnResolve installs the terminal-transition observer. Must be set
// before staging; the callback runs without the engine lock held.
func (e *Engine) OnResolve(fn ResolveFunc) { e.onResolve = fn }

// Load seeds the confirmed and visible state from a canonical store
// read. Used at startup and on every reconnect, before incremental
// events are trusted again. Outstanding pending operations are kept:
// their rollback baselines move to the canonical state.
func (e *Engine) Load(items []store.Idea) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.confirmed = make(map[string]store.Idea, len(items))
	fresh := make(map[string]store.Idea, len(items))
	for _, item := range items {
		e.confirmed[item.ID] = item
		fresh[item.ID] = item
	}
	for id, op := range e.pending {
		if item, ok := e.confirmed[id]; ok {
			snapshot := item
			op.originalSnapshot = &snapshot
		} else if op.kind != KindCreate {
			// The idea is gone upstream; the pending op is moot.
			e.dropOpLocked(op)
			continue
		}
		// Pending ops keep their optimistic view on top of the fresh
		// canonical state.
		if staged, ok := e.view[id]; ok {
			fresh[id] = staged
		} else {
			delete(fresh, id)
		}
	}
	e.view = fresh
}

// Snapshot returns the caller-visible ideas (optimistic state
// included).
func (e *Engine) Snapshot() []store.Idea {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := make([]store.Idea, 0, len(e.view))
	for _, item := range e.view {
		items = append(items, item)
	}
	return items
}

// Idea returns the visible state of one idea.
func (e *Engine) Idea(ideaID string) (store.Idea, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.view[ideaID]
	return item, ok
}

// PendingCount reports outstanding staged operations.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Stage applies the mutation to the visible view, records the pending
// operation and sends it down the pipeline asynchronously. A second
// action on an idea with an outstanding operation coalesces: the
// in-flight target is superseded while the rollback snapshot of the
// first operation is preserved.
func (e *Engine) Stage(m Mutation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ideaID := m.IdeaID()
	if op, ok := e.pending[ideaID]; ok {
		if m.Kind() == KindCreate {
			return fmt.Errorf("idea %s already exists", ideaID)
		}
		if op.kind == KindDelete {
			return fmt.Errorf("idea %s is being deleted", ideaID)
		}
		e.applyLocked(m)
		op.queued = m
		// kind tracks the latest staged action so a coalesced delete
		// blocks further staging.
		op.kind = m.Kind()
		return nil
	}

	if m.Kind() == KindCreate {
		if _, exists := e.view[ideaID]; exists {
			return fmt.Errorf("idea %s already exists", ideaID)
		}
	} else if _, exists := e.view[ideaID]; !exists {
		return fmt.Errorf("idea %s not in view", ideaID)
	}

	op := &pendingOp{
		ideaID:   ideaID,
		kind:     m.Kind(),
		issuedAt: e.now(),
	}
	op.timeoutAt = op.issuedAt.Add(e.timeout)
	if confirmedItem, ok := e.confirmed[ideaID]; ok {
		snapshot := confirmedItem
		op.originalSnapshot = &snapshot
	}
	e.pending[ideaID] = op
	e.applyLocked(m)
	e.dispatchLocked(op, m)

	// The deadline guard: silence past timeoutAt forces rollback no
	// matter what the network is doing.
	op.timer = time.AfterFunc(e.timeout, func() { e.expire(op) })
	return nil
}

// applyLocked writes the mutation's target state into the visible view.
func (e *Engine) applyLocked(m Mutation) {
	switch m := m.(type) {
	case Create:
		item := m.Idea
		item.X = quadrant.Clamp(item.X)
		item.Y = quadrant.Clamp(item.Y)
		e.view[item.ID] = item
	case Update:
		item := e.view[m.ID]
		if m.Content != nil {
			item.Content = *m.Content
		}
		if m.Details != nil {
			item.Details = *m.Details
		}
		if m.Priority != nil {
			item.Priority = *m.Priority
		}
		e.view[m.ID] = item
	case Move:
		item := e.view[m.ID]
		item.X = quadrant.Clamp(m.X)
		item.Y = quadrant.Clamp(m.Y)
		e.view[m.ID] = item
	case Delete:
		delete(e.view, m.ID)
	}
}

// dispatchLocked sends the mutation on its own goroutine, bounded by
// the op's absolute deadline.
func (e *Engine) dispatchLocked(op *pendingOp, m Mutation) {
	op.generation++
	generation := op.generation
	kind := m.Kind()

	ctx, cancel := context.WithDeadline(context.Background(), op.timeoutAt)
	op.cancel = cancel

	go func() {
		defer cancel()
		canonical, err := e.submit(ctx, m)
		e.resolve(op, generation, kind, canonical, err)
	}()
}

// resolve handles a pipeline response for the mutation of the given
// kind; op.kind may already name a coalesced follow-up. Late responses
// (superseded generation, or op already rolled back) are discarded.
func (e *Engine) resolve(op *pendingOp, generation int, kind Kind, canonical store.Idea, err error) {
	e.mu.Lock()

	current, ok := e.pending[op.ideaID]
	if !ok || current != op || op.generation != generation {
		e.mu.Unlock()
		return
	}

	if err != nil {
		failure := classify(err)
		e.rollbackLocked(op)
		e.mu.Unlock()
		e.notify(op.ideaID, RolledBack, failure)
		return
	}

	// Success. Fold the canonical state into the confirmed baseline;
	// future rollbacks of a coalesced follow-up revert here.
	if kind == KindDelete {
		delete(e.confirmed, op.ideaID)
	} else {
		e.confirmed[canonical.ID] = canonical
		snapshot := canonical
		op.originalSnapshot = &snapshot
	}

	if queued := op.queued; queued != nil {
		op.queued = nil
		e.dispatchLocked(op, queued)
		e.mu.Unlock()
		return
	}

	e.dropOpLocked(op)
	// The visible state is corrected to the canonical value; the
	// server may have clamped coordinates or rewritten fields.
	if kind == KindDelete {
		delete(e.view, op.ideaID)
	} else {
		// A provisional create id is replaced by the server id.
		if canonical.ID != op.ideaID {
			delete(e.view, op.ideaID)
		}
		e.view[canonical.ID] = canonical
	}
	e.mu.Unlock()
	e.notify(op.ideaID, Confirmed, nil)
}

// expire fires at the op's absolute deadline.
func (e *Engine) expire(op *pendingOp) {
	e.mu.Lock()
	current, ok := e.pending[op.ideaID]
	if !ok || current != op {
		e.mu.Unlock()
		return
	}
	e.rollbackLocked(op)
	e.mu.Unlock()
	e.notify(op.ideaID, RolledBack, &Failure{Kind: Timeout, Err: context.DeadlineExceeded})
}

// rollbackLocked reverts the visible state to the op's original
// snapshot exactly, discarding any coalesced target.
func (e *Engine) rollbackLocked(op *pendingOp) {
	e.dropOpLocked(op)
	if op.originalSnapshot == nil {
		delete(e.view, op.ideaID)
		return
	}
	e.view[op.ideaID] = *op.originalSnapshot
}

func (e *Engine) dropOpLocked(op *pendingOp) {
	delete(e.pending, op.ideaID)
	if op.timer != nil {
		op.timer.Stop()
	}
	if op.cancel != nil {
		op.cancel()
	}
	op.generation++ // any in-flight response is now stale
	op.queued = nil
}

// ApplyRemote merges a broadcast event. Events at or behind the known
// updated_at are echoes or replays and are discarded; that includes
// the broadcast of a mutation this engine itself just confirmed.
func (e *Engine) ApplyRemote(ev broadcast.Event) {
	e.mu.Lock()

	known, haveKnown := e.confirmed[ev.Idea.ID]
	if ev.Kind == broadcast.LockChanged {
		// Claims change without moving updated_at, so the echo gate
		// does not apply. Only the editing fields are merged.
		if !haveKnown {
			e.mu.Unlock()
			return
		}
		known.EditingBy = ev.Idea.EditingBy
		known.EditingAt = ev.Idea.EditingAt
		e.confirmed[ev.Idea.ID] = known
		if _, ok := e.pending[ev.Idea.ID]; !ok {
			if item, ok := e.view[ev.Idea.ID]; ok {
				item.EditingBy = ev.Idea.EditingBy
				item.EditingAt = ev.Idea.EditingAt
				e.view[ev.Idea.ID] = item
			}
		}
		e.mu.Unlock()
		return
	}
	if haveKnown && !ev.Idea.UpdatedAt.After(known.UpdatedAt) {
		e.mu.Unlock()
		return
	}

	if ev.Kind == broadcast.Deleted {
		if !haveKnown {
			e.mu.Unlock()
			return
		}
		delete(e.confirmed, ev.Idea.ID)
		var dropped *pendingOp
		if op, ok := e.pending[ev.Idea.ID]; ok {
			// The idea was deleted upstream; the local op is moot.
			dropped = op
			e.dropOpLocked(op)
		}
		delete(e.view, ev.Idea.ID)
		e.mu.Unlock()
		if dropped != nil {
			e.notify(dropped.ideaID, RolledBack, &Failure{Kind: StaleWrite, Err: store.ErrNotFound})
		}
		return
	}

	e.confirmed[ev.Idea.ID] = ev.Idea
	if op, ok := e.pending[ev.Idea.ID]; ok {
		// Keep the optimistic view on top, but rebase the rollback
		// target onto the newest confirmed state.
		snapshot := ev.Idea
		op.originalSnapshot = &snapshot
		e.mu.Unlock()
		return
	}
	e.view[ev.Idea.ID] = ev.Idea
	e.mu.Unlock()
}

func (e *Engine) notify(ideaID string, state State, failure *Failure) {
	if e.onResolve != nil {
		e.onResolve(ideaID, state, failure)
	}
}
