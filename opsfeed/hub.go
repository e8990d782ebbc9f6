// Package opsfeed streams live operator events to connected dashboards
// over a websocket hub, so ops can watch them without polling the admin
// API. The server broadcasts the operator alerts raised by the orchestrator
// and reconciler through it; no status-transition events are broadcast.
package opsfeed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Ops dashboards are same-origin or served from a trusted admin
		// host; the HTTP layer's auth middleware gates the handshake
		// request before it reaches here.
		return true
	},
}

// Event is one operator event broadcast to subscribers.
type Event struct {
	Kind          string    `json:"kind"` // e.g. "alert"
	StoreID       string    `json:"store_id"`
	TransactionID string    `json:"transaction_id"`
	PaymentID     string    `json:"payment_id,omitempty"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

type subscriber struct {
	storeID string
	send    chan Event
}

// Hub fans out Events to every subscriber watching a given store.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*subscriber]struct{})}
}

// Broadcast pushes an event to every subscriber watching ev.StoreID. Slow
// subscribers are dropped rather than blocking the publisher.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		if sub.storeID != "" && sub.storeID != ev.StoreID {
			continue
		}
		select {
		case sub.send <- ev:
		default:
			log.Printf("opsfeed: dropping event for slow subscriber (store=%s)", ev.StoreID)
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events for the
// requested store until the client disconnects. storeID is the caller's
// already-authenticated operator scope; empty means all stores.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, storeID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := &subscriber{storeID: storeID, send: make(chan Event, 32)}
	h.add(sub)
	defer h.remove(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readPump(ctx, conn, cancel)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains and discards client frames, cancelling ctx on any read
// error (including the client closing the connection).
func (h *Hub) readPump(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, sub)
}

// MarshalEvent encodes an event as the same JSON the hub writes to its
// subscribers.
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
