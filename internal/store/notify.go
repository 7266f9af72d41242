package store

import (
	"sort"
	"sync"
)

// Notification names emitted by the store.
const (
	EventEntryAdded   = "entry-added"
	EventEntryUpdated = "entry-updated"
	EventEntryRemoved = "entry-removed"
	EventBeforeExpire = "before-expire"
	EventExpired      = "expired"
	EventShutdown     = "shutdown"
)

// Event is one store notification.
//
// GUID carries the affected entry for entry-added and entry-updated;
// Cutoff carries the expiry timestamp for before-expire and expired.
// The remaining events have a nil payload.
type Event struct {
	Name   string
	GUID   string
	Cutoff int64
}

// Notifier delivers store events to subscribers, synchronously and in
// publish order. Write-batch events never fire before the batch's
// transaction reports durability, and never fire if it fails.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for every subsequent event and returns an
// unsubscribe function. Callbacks run on the publishing goroutine; keep
// them short.
func (n *Notifier) Subscribe(fn func(Event)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// publish delivers events in order to every subscriber, in subscription
// order within each event.
func (n *Notifier) publish(events ...Event) {
	n.mu.Lock()
	ids := make([]int, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.subs[id])
	}
	n.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
