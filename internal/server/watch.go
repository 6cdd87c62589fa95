// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// EventType names a category of admin-server-observed outcome, mirroring
// the teacher's streaming.StreamType (pkg/streaming/websocket.go).
type EventType string

const (
	EventAdmit     EventType = "admit"
	EventHold      EventType = "hold"
	EventDeny      EventType = "deny"
	EventClip      EventType = "clip"
	EventTimeout   EventType = "timeout"
	EventUnderflow EventType = "underflow"
)

// Event is one occurrence pushed to every /watch/events subscriber,
// tagged with its own decision trace ID (spec.md §3's google/uuid
// commitment extended to the admin server's own request/event
// correlation, distinct from the trace ID the engine attaches to its
// internal log queue on each Validate/UpdatePendingJob call).
type Event struct {
	Type      EventType `json:"type"`
	TraceID   string    `json:"trace_id"`
	JobID     uint32    `json:"job_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// eventHub fans a stream of Events out to every connected websocket
// client, one buffered channel per subscriber, the way the teacher's
// streaming.WebSocketServer bridges a single source into one connection
// at a time (pkg/streaming/websocket.go).
type eventHub struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[chan Event]struct{}),
	}
}

// publish stamps evt with a fresh trace ID and fans it out. A subscriber
// whose buffer is full drops the event rather than stalling every other
// subscriber's delivery.
func (h *eventHub) publish(typ EventType, jobID uint32, reason string) {
	evt := Event{Type: typ, TraceID: uuid.New().String(), JobID: jobID, Reason: reason, Timestamp: time.Now()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *eventHub) subscribe() chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

// handleWebSocket upgrades the request and pumps published Events to the
// client until it disconnects, structured after the teacher's
// HandleWebSocket/handleIncomingMessages/keepAlive trio.
func (h *eventHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	go h.drainIncoming(ctx, conn, cancel)

	h.pump(ctx, conn, ch)
}

// drainIncoming reads (and discards) client frames: this endpoint is
// publish-only, but the connection still needs a reader so a client
// close is observed promptly instead of only surfacing on the next
// write.
func (h *eventHub) drainIncoming(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func (h *eventHub) pump(ctx context.Context, conn *websocket.Conn, ch chan Event) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
