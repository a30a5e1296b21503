package broadcast

import (
	"testing"
	"time"

	"quadrant/api/internal/store"
)

func event(kind Kind, projectID, ideaID string) Event {
	return Event{
		Kind:      kind,
		ProjectID: projectID,
		Idea:      store.Idea{ID: ideaID, ProjectID: projectID, UpdatedAt: time.Now()},
	}
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishReachesAllProjectSubscribers(t *testing.T) {
	hub := NewHub()
	first := hub.Subscribe("prj-1")
	second := hub.Subscribe("prj-1")
	defer first.Unsubscribe()
	defer second.Unsubscribe()

	hub.Publish(event(Inserted, "prj-1", "idea-1"))

	for _, sub := range []*Subscription{first, second} {
		ev := receive(t, sub)
		if ev.Idea.ID != "idea-1" || ev.Kind != Inserted {
			t.Errorf("got event %+v", ev)
		}
	}
}

func TestProjectIsolation(t *testing.T) {
	hub := NewHub()
	subA := hub.Subscribe("prj-a")
	subB := hub.Subscribe("prj-b")
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	hub.Publish(event(Updated, "prj-a", "idea-1"))
	hub.Publish(event(Deleted, "prj-b", "idea-2"))

	if ev := receive(t, subA); ev.ProjectID != "prj-a" {
		t.Errorf("subscriber of prj-a received event for %s", ev.ProjectID)
	}
	if ev := receive(t, subB); ev.ProjectID != "prj-b" {
		t.Errorf("subscriber of prj-b received event for %s", ev.ProjectID)
	}

	select {
	case ev := <-subA.C:
		t.Errorf("prj-a subscriber received extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeIsImmediate(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("prj-1")

	sub.Unsubscribe()
	hub.Publish(event(Inserted, "prj-1", "idea-1"))

	// The channel must be closed with nothing buffered.
	if ev, ok := <-sub.C; ok {
		t.Errorf("received %+v after unsubscribe", ev)
	}
	if hub.SubscriberCount("prj-1") != 0 {
		t.Error("subscriber still registered after unsubscribe")
	}
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("prj-1")
	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe("prj-1")
	healthy := hub.Subscribe("prj-1")
	defer healthy.Unsubscribe()

	// Overflow the slow subscriber's buffer while the healthy one keeps
	// up; draining after each publish keeps its buffer empty.
	for i := 0; i <= subscriptionBuffer; i++ {
		hub.Publish(event(Moved, "prj-1", "idea-1"))
		receive(t, healthy)
	}

	// The slow feed ends in a close so the consumer knows to resync.
	open := true
	for open {
		select {
		case _, ok := <-slow.C:
			open = ok
		case <-time.After(time.Second):
			t.Fatal("slow subscription neither delivered nor closed")
		}
	}

	if hub.SubscriberCount("prj-1") != 1 {
		t.Errorf("subscriber count = %d, want 1 (healthy only)", hub.SubscriberCount("prj-1"))
	}

	// The surviving feed still delivers.
	hub.Publish(event(Moved, "prj-1", "idea-1"))
	receive(t, healthy)
}
