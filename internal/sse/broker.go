// Package sse streams knowledge base changes to clients as Server-Sent
// Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types sent to clients.
const (
	EventBlockCreated = "block.created"
	EventBlockUpdated = "block.updated"
	EventBlockDeleted = "block.deleted"
	EventLinksUpdated = "links.updated"
)

// LinksUpdate is the payload of a links.updated event: how many block
// changes it covers.
type LinksUpdate struct {
	Changes int `json:"changes"`
}

type changeReq struct {
	kind string
	path string
}

type subscription struct {
	ch    chan []byte
	types map[string]bool // nil means every type
}

func (s subscription) wants(typ string) bool {
	return s.types == nil || s.types[typ]
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sends a comment line to every client each interval so
// idle connections survive proxies.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop goroutine owns the client set, the event sequence
// and the links throttle; public methods talk to it over channels.
//
// Each block change is broadcast at once. links.updated events are
// throttled to one per linksMin; changes arriving inside the window are
// announced by a trailing event when it closes, so clients always hear
// about the last change.
type Broker struct {
	linksMin  time.Duration
	heartbeat time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan changeReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that sends at most one links.updated event per
// linksThrottle.
func NewBroker(linksThrottle time.Duration, opts ...Option) *Broker {
	if linksThrottle <= 0 {
		linksThrottle = 2 * time.Second
	}

	b := &Broker{
		linksMin:      linksThrottle,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan changeReq, 256),
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

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]subscription)
	var (
		seq       uint64
		lastLinks time.Time
		pending   int // changes not yet covered by a links.updated
		trailing  *time.Timer
		trailCh   <-chan time.Time
		beatCh    <-chan time.Time
	)
	if b.heartbeat > 0 {
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		beatCh = ticker.C
	}

	send := func(raw []byte, typ string) {
		for ch, sub := range clients {
			if typ != "" && !sub.wants(typ) {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		send([]byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)), event.Type)
	}

	flushLinks := func(now time.Time) {
		lastLinks = now
		broadcast(Event{Type: EventLinksUpdated, Data: LinksUpdate{Changes: pending}})
		pending = 0
	}

	for {
		select {
		case <-b.stopCh:
			if trailing != nil {
				trailing.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.changeCh:
			typ, ok := changeTypes[req.kind]
			if !ok {
				continue
			}
			broadcast(Event{Type: typ, Data: map[string]string{"path": req.path}})

			// Any change can move links anywhere in the forest.
			pending++
			now := time.Now()
			if wait := b.linksMin - now.Sub(lastLinks); wait <= 0 {
				flushLinks(now)
			} else if trailCh == nil {
				trailing = time.NewTimer(wait)
				trailCh = trailing.C
			}

		case now := <-trailCh:
			trailCh = nil
			if pending > 0 {
				flushLinks(now)
			}

		case <-beatCh:
			send([]byte(": ping\n\n"), "")

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. With types given,
// only events of those types are delivered.
func (b *Broker) Subscribe(types ...string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	sub := subscription{ch: ch}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	select {
	case b.subscribeCh <- sub:
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

var changeTypes = map[string]string{
	"created": EventBlockCreated,
	"updated": EventBlockUpdated,
	"deleted": EventBlockDeleted,
}

// PublishChange publishes a block change (kind is "created", "updated" or
// "deleted") and schedules a links.updated event. It matches the watcher
// callback signature.
func (b *Broker) PublishChange(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- changeReq{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// ServeHTTP is the event stream handler (GET /api/events). The optional
// types query parameter is a comma-separated list of event types.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var types []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(types...)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
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
