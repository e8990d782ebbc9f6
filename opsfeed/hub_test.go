package opsfeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHub_BroadcastReachesMatchingStoreSubscriber(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r, "store_1")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let the server register the subscriber

	hub.Broadcast(Event{Kind: "transaction", StoreID: "store_1", TransactionID: "txn_1", Status: "completed", Timestamp: time.Unix(0, 0)})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.TransactionID != "txn_1" || got.Status != "completed" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestHub_BroadcastSkipsOtherStoreSubscriber(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r, "store_other")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	hub.Broadcast(Event{Kind: "transaction", StoreID: "store_1", TransactionID: "txn_1", Status: "completed", Timestamp: time.Unix(0, 0)})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no message for non-matching store, but got one")
	}
}
