package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/starford/relink/internal/models"
)

// FakeRelay is an in-process relay. It answers every REQ with all of its
// events followed by EOSE; filtering is left to the client.
type FakeRelay struct {
	URL string

	mu       sync.Mutex
	events   []models.Event
	requests atomic.Int32
	silent   atomic.Bool
}

// NewFakeRelay starts a relay serving events. It is closed on test cleanup.
func NewFakeRelay(t *testing.T, events ...models.Event) *FakeRelay {
	t.Helper()
	r := &FakeRelay{events: events}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		r.serve(conn)
	}))
	t.Cleanup(srv.Close)
	r.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return r
}

// Add appends events served from now on.
func (r *FakeRelay) Add(events ...models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

// Requests returns the number of REQ messages received.
func (r *FakeRelay) Requests() int { return int(r.requests.Load()) }

// SetSilent makes the relay accept subscriptions without ever answering.
func (r *FakeRelay) SetSilent(v bool) { r.silent.Store(v) }

func (r *FakeRelay) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg []json.RawMessage
		if json.Unmarshal(data, &msg) != nil || len(msg) < 2 {
			continue
		}
		var label, subID string
		_ = json.Unmarshal(msg[0], &label)
		_ = json.Unmarshal(msg[1], &subID)
		if label != "REQ" {
			continue
		}
		r.requests.Add(1)
		if r.silent.Load() {
			continue
		}

		r.mu.Lock()
		events := append([]models.Event(nil), r.events...)
		r.mu.Unlock()
		for _, ev := range events {
			if err := conn.WriteJSON([]any{"EVENT", subID, ev}); err != nil {
				return
			}
		}
		if err := conn.WriteJSON([]any{"EOSE", subID}); err != nil {
			return
		}
	}
}
