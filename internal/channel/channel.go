// Package channel implements the push side of progress tracking: a connection to
// the extraction service that delivers job and batch snapshots as they happen.
//
// Delivery is at-most-once with no ordering guarantee; the tracker reconciles
// whatever arrives against the polling fallback.
package channel

import (
	"context"
	"sync"

	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/models"
)

// ProgressChannel is an explicitly managed push connection.
//
// Subscribe may be called before Connect; subscriptions registered early start
// receiving once the connection is up. The returned cancel func closes the
// stream and is safe to call more than once.
type ProgressChannel interface {
	Connect(ctx context.Context) error
	Subscribe(id string) (<-chan models.Snapshot, func())
	Disconnect() error
}

// Nop is a channel that never delivers anything. Tracking then relies on polling alone.
type Nop struct{}

func (Nop) Connect(context.Context) error { return nil }
func (Nop) Disconnect() error             { return nil }

// Subscribe returns a stream that stays open, silent, until cancelled.
func (Nop) Subscribe(string) (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

type subscription struct {
	id   string
	ch   chan models.Snapshot
	once sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// router fans snapshots out to subscribers keyed by job or batch id.
type router struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	closed bool

	// onFirst/onLast fire when an id gains its first or loses its last subscriber,
	// outside the lock.
	onFirst func(id string)
	onLast  func(id string)
}

func newRouter() *router {
	return &router{subs: make(map[string][]*subscription)}
}

func (r *router) add(id string) (<-chan models.Snapshot, func()) {
	sub := &subscription{id: id, ch: make(chan models.Snapshot, constants.SubscriptionBuffer)}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	first := len(r.subs[id]) == 0
	r.subs[id] = append(r.subs[id], sub)
	r.mu.Unlock()

	if first && r.onFirst != nil {
		r.onFirst(id)
	}

	return sub.ch, func() { r.remove(sub) }
}

func (r *router) remove(sub *subscription) {
	r.mu.Lock()
	list := r.subs[sub.id]
	found := false
	for i, s := range list {
		if s == sub {
			list = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}
	last := found && len(list) == 0
	if last {
		delete(r.subs, sub.id)
	} else if found {
		r.subs[sub.id] = list
	}
	// Closing under the lock keeps deliver from sending on a closed channel
	sub.close()
	r.mu.Unlock()

	if last && r.onLast != nil {
		r.onLast(sub.id)
	}
}

// deliver routes snap to the subscribers of its id without blocking.
// It returns the number of subscribers that received it.
func (r *router) deliver(snap models.Snapshot) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, sub := range r.subs[snap.ID] {
		select {
		case sub.ch <- snap:
			n++
		default:
			// Full buffer: drop, the poller will catch up
		}
	}
	return n
}

// ids returns the ids that currently have subscribers.
func (r *router) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.subs))
	for id := range r.subs {
		out = append(out, id)
	}
	return out
}

// closeAll closes every stream; later subscriptions get a closed channel.
func (r *router) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id, list := range r.subs {
		for _, sub := range list {
			sub.close()
		}
		delete(r.subs, id)
	}
}
