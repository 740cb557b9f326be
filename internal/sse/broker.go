// Package sse implements a Server-Sent Events broker that tells clients when
// archived events change and rendered output may be out of date.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

// Stream event types.
const (
	TypeIndexed     = "event.indexed"
	TypeDeleted     = "event.deleted"
	TypeInvalidated = "render.invalidated"
)

// Change describes archived events that were indexed or removed.
type Change struct {
	Kind        string   `json:"kind"`
	Path        string   `json:"path"`
	IDs         []string `json:"ids"`
	Coordinates []string `json:"coordinates,omitempty"`
}

// Invalidation lists the coordinates and archive paths changed since the
// previous render.invalidated event.
type Invalidation struct {
	Coordinates []string `json:"coordinates"`
	Paths       []string `json:"paths"`
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets how often idle streams receive a keep-alive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// Broker fans archive changes out to stream clients.
//
// A single loop goroutine owns the client set and the invalidation window;
// public methods talk to it over channels. render.invalidated is sent at once
// for the first change of a window; changes that arrive while the window is
// open are merged and sent when it closes.
type Broker struct {
	window    time.Duration
	heartbeat time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	changeCh      chan Change
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker whose invalidation window is throttle.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	b := &Broker{
		window:        throttle,
		heartbeat:     30 * time.Second,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		changeCh:      make(chan Change, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

// pendingInvalidation accumulates coordinates and paths for the next
// render.invalidated event.
type pendingInvalidation struct {
	coords map[string]struct{}
	paths  map[string]struct{}
}

func (p *pendingInvalidation) add(c Change) {
	if p.coords == nil {
		p.coords = make(map[string]struct{})
		p.paths = make(map[string]struct{})
	}
	for _, coord := range c.Coordinates {
		p.coords[coord] = struct{}{}
	}
	if c.Path != "" {
		p.paths[c.Path] = struct{}{}
	}
}

func (p *pendingInvalidation) empty() bool { return p.coords == nil }

func (p *pendingInvalidation) take() Invalidation {
	out := Invalidation{Coordinates: sortedKeys(p.coords), Paths: sortedKeys(p.paths)}
	p.coords, p.paths = nil, nil
	return out
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		seq     uint64
		pending pendingInvalidation
		windowC <-chan time.Time
	)

	send := func(raw []byte) {
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client: drop rather than stall the loop.
			}
		}
	}
	broadcast := func(typ string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		seq++
		send([]byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, typ, payload)))
	}
	openWindow := func() {
		broadcast(TypeInvalidated, pending.take())
		windowC = time.After(b.window)
	}

	heartbeat := time.NewTicker(b.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case change := <-b.changeCh:
			switch change.Kind {
			case "created", "updated":
				broadcast(TypeIndexed, change)
			case "deleted":
				broadcast(TypeDeleted, change)
			default:
				continue
			}
			pending.add(change)
			if windowC == nil {
				openWindow()
			}

		case <-windowC:
			windowC = nil
			if !pending.empty() {
				openWindow()
			}

		case <-heartbeat.C:
			send([]byte(": ping\n\n"))

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishChange announces an archive change. Unknown kinds are ignored.
func (b *Broker) PublishChange(change Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- change:
	case <-b.stopped:
	}
}

// ServeHTTP is the stream endpoint (GET /api/stream).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", b.window.Milliseconds())
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
