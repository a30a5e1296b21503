package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"quadrant/api/internal/broadcast"
	"quadrant/api/internal/config"
	"quadrant/api/internal/gate"
	"quadrant/api/internal/lock"
	"quadrant/api/internal/quadrant"
	"quadrant/api/internal/search"
	"quadrant/api/internal/store"
	"quadrant/api/internal/util"
)

// Identity is the caller, as asserted by the fronting gateway through
// the X-User-ID / X-Session-ID headers. The engine trusts it; who the
// user actually is was someone else's problem before the request got
// here.
type Identity struct {
	UserID    string
	SessionID string
}

// ParticipantID keys rate windows and capacity seats. Two browser tabs
// of one user are distinct participants when the gateway assigns them
// distinct session ids.
func (id Identity) ParticipantID() string {
	if id.SessionID != "" {
		return id.SessionID
	}
	return id.UserID
}

type CreateIdeaInput struct {
	Content  string  `json:"content"`
	Details  string  `json:"details"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Priority string  `json:"priority"`
}

type UpdateIdeaInput struct {
	Content  *string `json:"content"`
	Details  *string `json:"details"`
	Priority *string `json:"priority"`
	// UpdatedAt is the caller's last-seen updatedAt, echoed back for
	// conflict detection.
	UpdatedAt time.Time `json:"updatedAt"`
}

type MoveIdeaInput struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IdeaView is an idea plus its derived matrix placement. The
// classification is never stored; it is recomputed from x/y on the way
// out so store and classifier can never disagree.
type IdeaView struct {
	store.Idea
	XPercent float64 `json:"xPercent"`
	YPercent float64 `json:"yPercent"`
	Category string  `json:"category"`
}

func viewOf(item store.Idea) IdeaView {
	xp, yp, category := quadrant.Classify(item.X, item.Y)
	return IdeaView{Idea: item, XPercent: xp, YPercent: yp, Category: string(category)}
}

type dataStore interface {
	Ping(context.Context) error
	InsertIdea(context.Context, store.Idea) (store.Idea, error)
	GetIdea(context.Context, string) (store.Idea, error)
	ListIdeas(context.Context, string) ([]store.Idea, error)
	UpdateIdea(context.Context, string, store.IdeaPatch) (store.Idea, error)
	DeleteIdea(context.Context, string) error
}

// Broadcaster is satisfied by both the in-process hub and the Redis
// bridge wrapped around it.
type Broadcaster interface {
	Publish(broadcast.Event)
	Subscribe(projectID string) *broadcast.Subscription
}

type Service struct {
	cfg       config.Config
	store     dataStore
	locks     *lock.Manager
	validator *gate.Validator
	limiter   *gate.Limiter
	capacity  *gate.Capacity
	events    Broadcaster
	search    *search.Service
}

func New(cfg config.Config, dataStore dataStore, locks *lock.Manager, validator *gate.Validator, limiter *gate.Limiter, capacity *gate.Capacity, events Broadcaster, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		locks:     locks,
		validator: validator,
		limiter:   limiter,
		capacity:  capacity,
		events:    events,
		search:    searchService,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ProjectSnapshot is the canonical read clients resynchronize from on
// connect and reconnect, before they start consuming the event feed.
func (s *Service) ProjectSnapshot(ctx context.Context, projectID string) ([]IdeaView, error) {
	items, err := s.store.ListIdeas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	views := make([]IdeaView, 0, len(items))
	for _, item := range items {
		views = append(views, viewOf(item))
	}
	return views, nil
}

func (s *Service) CreateIdea(ctx context.Context, projectID string, input CreateIdeaInput, who Identity) (IdeaView, error) {
	content, details, err := s.validator.ValidateContent(input.Content, input.Details)
	if err != nil {
		return IdeaView{}, err
	}

	priority := store.PriorityModerate
	if strings.TrimSpace(input.Priority) != "" {
		priority = store.Priority(input.Priority)
		if !store.ValidPriority(priority) {
			return IdeaView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown priority %q", input.Priority), nil)
		}
	}

	if _, err := s.limiter.CheckRate(ctx, who.ParticipantID()); err != nil {
		return IdeaView{}, err
	}

	item := store.Idea{
		ID:        util.NewID("idea"),
		ProjectID: projectID,
		Content:   content,
		Details:   details,
		X:         quadrant.Clamp(input.X),
		Y:         quadrant.Clamp(input.Y),
		Priority:  priority,
		OwnerID:   who.UserID,
	}
	inserted, err := s.store.InsertIdea(ctx, item)
	if err != nil {
		return IdeaView{}, err
	}

	s.events.Publish(broadcast.Event{Kind: broadcast.Inserted, ProjectID: projectID, Idea: inserted})
	s.indexIdea(inserted)
	return viewOf(inserted), nil
}

// authorizeMutation loads the idea and decides whether who may change
// it. Another user's live claim wins first; then ownership. A non-owner
// may edit or move only while holding the claim, and only the owner may
// delete.
func (s *Service) authorizeMutation(ctx context.Context, ideaID string, who Identity, ownerOnly bool) (store.Idea, error) {
	item, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.Idea{}, err
	}
	if err := s.locks.Guard(ctx, ideaID, who.UserID); err != nil {
		return store.Idea{}, err
	}
	if item.OwnerID == who.UserID {
		return item, nil
	}
	if !ownerOnly {
		claim, held, err := s.locks.HolderOf(ctx, ideaID)
		if err != nil {
			return store.Idea{}, err
		}
		if held && claim.HolderID == who.UserID {
			return item, nil
		}
		return store.Idea{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner or the current editor may modify this idea", nil)
	}
	return store.Idea{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner may delete this idea", nil)
}

// releaseAfterCommit clears the caller's claim once a guarded mutation
// lands; keeping an idea locked across commits requires re-acquiring.
func (s *Service) releaseAfterCommit(ctx context.Context, item store.Idea, who Identity) {
	err := s.locks.Release(ctx, item.ID, who.UserID)
	if errors.Is(err, lock.ErrNotHolder) {
		return
	}
	if err != nil {
		log.Printf("app: release claim on %s after commit: %v", item.ID, err)
		return
	}
	s.publishLockState(item, nil)
}

func (s *Service) UpdateIdea(ctx context.Context, ideaID string, input UpdateIdeaInput, who Identity) (IdeaView, error) {
	current, err := s.authorizeMutation(ctx, ideaID, who, false)
	if err != nil {
		return IdeaView{}, err
	}

	patch := store.IdeaPatch{ExpectedUpdatedAt: input.UpdatedAt}
	if input.Content != nil || input.Details != nil {
		// Validation always sees the full post-edit text pair, so a
		// details-only edit is checked against the content it will
		// sit next to.
		content := current.Content
		details := current.Details
		if input.Content != nil {
			content = *input.Content
		}
		if input.Details != nil {
			details = *input.Details
		}
		sanitizedContent, sanitizedDetails, err := s.validator.ValidateContent(content, details)
		if err != nil {
			return IdeaView{}, err
		}
		if input.Content != nil {
			patch.Content = &sanitizedContent
		}
		if input.Details != nil {
			patch.Details = &sanitizedDetails
		}
	}
	if input.Priority != nil {
		priority := store.Priority(*input.Priority)
		if !store.ValidPriority(priority) {
			return IdeaView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown priority %q", *input.Priority), nil)
		}
		patch.Priority = &priority
	}

	updated, err := s.store.UpdateIdea(ctx, ideaID, patch)
	if err != nil {
		return IdeaView{}, err
	}

	s.events.Publish(broadcast.Event{Kind: broadcast.Updated, ProjectID: updated.ProjectID, Idea: updated})
	s.indexIdea(updated)
	s.releaseAfterCommit(ctx, updated, who)
	return viewOf(updated), nil
}

func (s *Service) MoveIdea(ctx context.Context, ideaID string, input MoveIdeaInput, who Identity) (IdeaView, error) {
	if _, err := s.authorizeMutation(ctx, ideaID, who, false); err != nil {
		return IdeaView{}, err
	}

	x := quadrant.Clamp(input.X)
	y := quadrant.Clamp(input.Y)
	moved, err := s.store.UpdateIdea(ctx, ideaID, store.IdeaPatch{
		X:                 &x,
		Y:                 &y,
		ExpectedUpdatedAt: input.UpdatedAt,
	})
	if err != nil {
		return IdeaView{}, err
	}

	s.events.Publish(broadcast.Event{Kind: broadcast.Moved, ProjectID: moved.ProjectID, Idea: moved})
	s.releaseAfterCommit(ctx, moved, who)
	return viewOf(moved), nil
}

func (s *Service) DeleteIdea(ctx context.Context, ideaID string, who Identity) error {
	item, err := s.authorizeMutation(ctx, ideaID, who, true)
	if err != nil {
		return err
	}
	if err := s.store.DeleteIdea(ctx, ideaID); err != nil {
		return err
	}
	// Any outstanding claim dies with the idea.
	if err := s.locks.Invalidate(ctx, ideaID); err != nil {
		log.Printf("app: invalidate claim on deleted %s: %v", ideaID, err)
	}

	s.events.Publish(broadcast.Event{Kind: broadcast.Deleted, ProjectID: item.ProjectID, Idea: item})
	if s.search != nil {
		s.search.DeleteIdea(ideaID)
	}
	return nil
}

// AcquireLock claims the edit lock and broadcasts the claimed snapshot
// so every session can render "being edited by".
func (s *Service) AcquireLock(ctx context.Context, ideaID string, who Identity) (lock.Grant, error) {
	item, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return lock.Grant{}, err
	}

	grant, err := s.locks.Acquire(ctx, ideaID, who.UserID)
	if err != nil {
		return lock.Grant{}, err
	}

	s.publishLockState(item, &who.UserID)
	return grant, nil
}

func (s *Service) HeartbeatLock(ctx context.Context, ideaID string, who Identity) error {
	return s.locks.Heartbeat(ctx, ideaID, who.UserID)
}

func (s *Service) ReleaseLock(ctx context.Context, ideaID string, who Identity) error {
	if err := s.locks.Release(ctx, ideaID, who.UserID); err != nil {
		return err
	}
	if item, err := s.store.GetIdea(ctx, ideaID); err == nil {
		s.publishLockState(item, nil)
	}
	return nil
}

// BroadcastLockCleared is invoked by the sweep loop when an expired
// claim is reclaimed, so waiting sessions learn they may retry.
func (s *Service) BroadcastLockCleared(ideaID string) {
	item, err := s.store.GetIdea(context.Background(), ideaID)
	if err != nil {
		return
	}
	s.publishLockState(item, nil)
}

// publishLockState announces a claim change, carrying the canonical row
// with the holder overlaid. Claims never move updated_at, so the event
// kind marks it exempt from updated_at deduplication; an updated kind
// would be discarded as an echo.
func (s *Service) publishLockState(item store.Idea, holder *string) {
	item.EditingBy = holder
	if holder != nil {
		now := time.Now()
		item.EditingAt = &now
	} else {
		item.EditingAt = nil
	}
	s.events.Publish(broadcast.Event{Kind: broadcast.LockChanged, ProjectID: item.ProjectID, Idea: item})
}

// JoinSession admits a participant or rejects with ErrSessionFull.
// Joining is idempotent per participant.
func (s *Service) JoinSession(projectID string, who Identity) (int, error) {
	if err := s.capacity.Join(projectID, who.ParticipantID()); err != nil {
		return s.capacity.Count(projectID), err
	}
	return s.capacity.Count(projectID), nil
}

func (s *Service) LeaveSession(ctx context.Context, projectID string, who Identity) int {
	s.capacity.Leave(projectID, who.ParticipantID())
	if err := s.limiter.Evict(ctx, who.ParticipantID()); err != nil {
		// Leaving still succeeds; the window expires on its own.
		log.Printf("app: evict rate window for %s: %v", who.ParticipantID(), err)
	}
	return s.capacity.Count(projectID)
}

func (s *Service) SearchIdeas(projectID, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{ProjectID: projectID, Text: text, Limit: limit})
}

// Subscribe attaches a consumer to the project's event feed.
func (s *Service) Subscribe(projectID string) *broadcast.Subscription {
	return s.events.Subscribe(projectID)
}

func (s *Service) indexIdea(item store.Idea) {
	if s.search == nil {
		return
	}
	_, _, category := quadrant.Classify(item.X, item.Y)
	s.search.IndexIdea(search.IdeaRecord{
		ID:        item.ID,
		ProjectID: item.ProjectID,
		Content:   item.Content,
		Details:   item.Details,
		Priority:  string(item.Priority),
		Category:  string(category),
	})
}
