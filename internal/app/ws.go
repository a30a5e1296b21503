package app

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quadrant/api/internal/broadcast"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the fronting gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedMessage is one frame on the events socket. The first frame is
// always a snapshot; every later frame carries one change event. A
// client that reconnects starts over from a fresh snapshot, so missed
// or duplicated events never matter.
type feedMessage struct {
	Type  string     `json:"type"`
	Ideas []IdeaView `json:"ideas,omitempty"`
	Kind  string     `json:"kind,omitempty"`
	Idea  *IdeaView  `json:"idea,omitempty"`
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request, projectID string) {
	ideas, err := s.service.ProjectSnapshot(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load ideas", nil)
		return
	}

	// Subscribe before the snapshot is sent: events committed between
	// the store read and the first frame are delivered, not lost, and
	// the snapshot's updatedAt values let the client discard the ones
	// it already has.
	sub := s.service.Subscribe(projectID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Unsubscribe()
		log.Printf("app: websocket upgrade for %s: %v", projectID, err)
		return
	}
	defer conn.Close()
	defer sub.Unsubscribe()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The feed is one-way; the read loop only notices the peer going
	// away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(feedMessage{Type: "snapshot", Ideas: ideas}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, open := <-sub.C:
			if !open {
				// Dropped as a slow consumer; closing forces the
				// client to reconnect and resync from a snapshot.
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "resync required"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(eventFrame(ev)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func eventFrame(ev broadcast.Event) feedMessage {
	view := viewOf(ev.Idea)
	return feedMessage{Type: "event", Kind: string(ev.Kind), Idea: &view}
}
