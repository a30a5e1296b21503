package broadcast

import (
	"log"
	"sync"
)

// subscriptionBuffer bounds how far a consumer may lag before it is
// cut off and forced through the reconnect path (canonical store read).
const subscriptionBuffer = 64

// Hub is the in-process broadcaster. Subscriptions are strictly scoped
// by project: an event for project A is never written to a subscriber
// of project B.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription is one session's event feed. C is closed when the
// subscriber falls too far behind or after Unsubscribe.
type Subscription struct {
	C <-chan Event

	hub       *Hub
	projectID string
	ch        chan Event
	closed    bool
}

// Subscribe registers a feed for one project.
func (h *Hub) Subscribe(projectID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		projectID: projectID,
		ch:        make(chan Event, subscriptionBuffer),
	}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	project, ok := h.subs[projectID]
	if !ok {
		project = make(map[*Subscription]struct{})
		h.subs[projectID] = project
	}
	project[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the feed. No deliveries happen after it returns.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.dropLocked(s)
}

// Publish delivers the event to every subscriber of its project. A
// subscriber whose buffer is full is dropped (its channel closes) so it
// re-reads canonical state instead of consuming a gapped feed.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[ev.ProjectID] {
		select {
		case sub.ch <- ev:
		default:
			log.Printf("broadcast: dropping slow subscriber of project %s", ev.ProjectID)
			h.dropLocked(sub)
		}
	}
}

func (h *Hub) dropLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	project := h.subs[sub.projectID]
	delete(project, sub)
	if len(project) == 0 {
		delete(h.subs, sub.projectID)
	}
	close(sub.ch)
}

// SubscriberCount reports active feeds for a project.
func (h *Hub) SubscriberCount(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[projectID])
}
