package eventsync

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
)

// Handler receives an envelope routed by the Dispatcher.
type Handler func(Envelope)

type topic struct {
	roomID  string
	msgType string
}

// Subscription is returned by Subscribe. Unsubscribe is the only way to
// detach the handler.
type Subscription struct {
	d      *Dispatcher
	key    topic
	id     uint64
	fn     Handler
	active atomic.Bool
}

// Unsubscribe detaches the handler. Dispatch calls that begin after it
// returns never invoke it, nor does the rest of a Dispatch running on the
// same goroutine (a handler may unsubscribe itself or a sibling). A
// concurrent Dispatch that already selected the handler may still run it
// once. Calling Unsubscribe more than once is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active.Swap(false) {
		return
	}
	s.d.remove(s)
}

// Dispatcher routes inbound envelopes to subscribers keyed by
// (room, message type). It does not interpret payloads.
type Dispatcher struct {
	logger Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[topic]map[uint64]*Subscription
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher(logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		logger: logger,
		subs:   make(map[topic]map[uint64]*Subscription),
	}
}

// Subscribe registers fn for envelopes of msgType addressed to roomID.
// An empty roomID matches envelopes sent outside any room.
func (d *Dispatcher) Subscribe(roomID, msgType string, fn Handler) *Subscription {
	key := topic{roomID: roomID, msgType: msgType}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	s := &Subscription{d: d, key: key, id: d.nextID, fn: fn}
	s.active.Store(true)
	set, ok := d.subs[key]
	if !ok {
		set = make(map[uint64]*Subscription)
		d.subs[key] = set
	}
	set[s.id] = s
	return s
}

func (d *Dispatcher) remove(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.subs[s.key]
	delete(set, s.id)
	if len(set) == 0 {
		delete(d.subs, s.key)
	}
}

// Len returns the number of live subscribers for (roomID, msgType).
func (d *Dispatcher) Len(roomID, msgType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[topic{roomID: roomID, msgType: msgType}])
}

// Dispatch delivers env to every matching subscriber in registration order.
// Handlers run on the caller's goroutine.
func (d *Dispatcher) Dispatch(env Envelope) {
	d.mu.RLock()
	set := d.subs[topic{roomID: env.RoomID, msgType: env.Type}]
	targets := make([]*Subscription, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		d.logger.Debug("no subscribers", map[string]any{"room": env.RoomID, "type": env.Type})
		return
	}
	slices.SortFunc(targets, func(a, b *Subscription) int { return cmp.Compare(a.id, b.id) })
	for _, s := range targets {
		if !s.active.Load() {
			continue
		}
		d.invoke(s, env)
	}
}

func (d *Dispatcher) invoke(s *Subscription, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panicked", map[string]any{
				"room":  env.RoomID,
				"type":  env.Type,
				"panic": r,
			})
		}
	}()
	s.fn(env)
}
