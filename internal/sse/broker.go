// Package sse streams build events to browser clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/starford/inkbuild/internal/build"
)

// Event types sent to clients.
const (
	TypeRegistered   = "document.registered"
	TypeCompiled     = "document.compiled"
	TypeDeleted      = "document.deleted"
	TypeGraphUpdated = "graph.updated"
)

const defaultHeartbeat = 15 * time.Second

// Event is one SSE message. Data is encoded as JSON.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`

	// touched marks the event as a graph change for the given document.
	touched string
}

// DocumentEvent is the payload of document.* events.
type DocumentEvent struct {
	Path        string `json:"path"`
	Kind        string `json:"kind,omitempty"`
	State       string `json:"state,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Diagnostics int    `json:"diagnostics,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
}

// GraphEvent is the payload of graph.updated: the documents whose
// registration or dependencies changed since the previous graph.updated.
type GraphEvent struct {
	Documents []string `json:"documents"`
}

// Broker fans events out to connected clients.
//
// A single loop goroutine owns the client set, the message sequence and the
// pending graph changes; the public methods talk to it over channels.
// graph.updated is sent at most once per throttle interval, and a change
// that arrives inside the interval is flushed when the interval ends.
type Broker struct {
	graphMin  time.Duration
	heartbeat time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker that throttles graph.updated to one per
// graphThrottle (2s when not positive).
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var seq uint64

	var (
		lastGraph time.Time
		pending   = make(map[string]struct{})
		timer     *time.Timer
		timerC    <-chan time.Time
	)

	broadcast := func(typ string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, typ, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	flushGraph := func(now time.Time) {
		docs := make([]string, 0, len(pending))
		for p := range pending {
			docs = append(docs, p)
		}
		sort.Strings(docs)
		clear(pending)
		lastGraph = now
		timerC = nil
		broadcast(TypeGraphUpdated, GraphEvent{Documents: docs})
	}

	for {
		select {
		case <-b.stopCh:
			if timer != nil {
				timer.Stop()
			}
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

		case event := <-b.publishCh:
			broadcast(event.Type, event.Data)
			if event.touched == "" {
				continue
			}
			pending[event.touched] = struct{}{}
			now := time.Now()
			if since := now.Sub(lastGraph); since >= b.graphMin {
				flushGraph(now)
			} else if timerC == nil {
				timer = time.NewTimer(b.graphMin - since)
				timerC = timer.C
			}

		case now := <-timerC:
			flushGraph(now)

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

// Subscribe adds a new client and returns its channel.
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

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// Observe is a build.Observer. Registration, compile and deletion events
// are forwarded as document.* events and feed graph.updated; cache events
// are not forwarded.
func (b *Broker) Observe(ev build.Event) {
	doc := DocumentEvent{Path: ev.ID.String(), Kind: string(ev.Kind)}
	var typ string
	switch ev.Type {
	case build.EventRegistered:
		typ = TypeRegistered
	case build.EventDeleted:
		typ = TypeDeleted
	case build.EventCompiled:
		typ = TypeCompiled
		if r := ev.Result; r != nil {
			doc.State = r.State.String()
			doc.RunID = r.RunID
			doc.Diagnostics = r.DiagnosticCount()
			doc.Cached = r.Cached
		}
	default:
		return
	}
	b.Publish(Event{Type: typ, Data: doc, touched: doc.Path})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
