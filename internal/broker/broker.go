// Package broker provides an in-memory pub/sub mechanism scoped by access code.
// It fans session snapshots out to every push connection of that session.
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/queueup/backend/internal/session"
)

// DefaultBuffer is the per-subscriber buffer used when New is given a non-positive size.
const DefaultBuffer = 8

// Subscription is one subscriber's view of a session topic. C is closed when
// the subscription is cancelled or the topic is closed.
type Subscription struct {
	id         uuid.UUID
	accessCode string
	ch         chan session.Snapshot
	topic      *topic
	closed     bool // guarded by topic.mu
}

// C returns the channel snapshots are delivered on.
func (s *Subscription) C() <-chan session.Snapshot {
	return s.ch
}

// AccessCode returns the session this subscription belongs to.
func (s *Subscription) AccessCode() string {
	return s.accessCode
}

// topic holds the subscribers of one session. A dead topic has been removed
// from the broker and accepts no new subscribers.
type topic struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
	dead bool
}

// Broker is a session-scoped pub/sub hub. Each subscriber has a bounded
// buffer; when it is full the oldest buffered snapshot is dropped for the
// newest. Snapshots are complete, so a skipped intermediate one leaves the
// subscriber consistent once it catches up.
//
// Each topic has its own lock; mu only guards the topic map.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topic
	buffer int

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a ready-to-use Broker.
func New(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		topics: make(map[string]*topic),
		buffer: buffer,
	}
}

func (b *Broker) lookup(accessCode string) *topic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topics[accessCode]
}

func (b *Broker) getOrCreate(accessCode string) *topic {
	if t := b.lookup(accessCode); t != nil {
		return t
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[accessCode]
	if !ok {
		t = &topic{subs: make(map[uuid.UUID]*Subscription)}
		b.topics[accessCode] = t
	}
	return t
}

// forget removes t from the map unless it has already been replaced.
func (b *Broker) forget(accessCode string, t *topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[accessCode] == t {
		delete(b.topics, accessCode)
	}
}

// Subscribe registers a new subscriber for the given access code. It does not
// replay the current snapshot; callers read it separately.
func (b *Broker) Subscribe(accessCode string) *Subscription {
	sub := &Subscription{
		id:         uuid.New(),
		accessCode: accessCode,
		ch:         make(chan session.Snapshot, b.buffer),
	}
	for {
		t := b.getOrCreate(accessCode)
		t.mu.Lock()
		if !t.dead {
			sub.topic = t
			t.subs[sub.id] = sub
			t.mu.Unlock()
			return sub
		}
		t.mu.Unlock()
		b.forget(accessCode, t)
	}
}

// Unsubscribe removes the subscription and closes its channel. Calling it on
// an already closed subscription is a no-op.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	t := sub.topic
	t.mu.Lock()
	if sub.closed {
		t.mu.Unlock()
		return
	}
	sub.closed = true
	close(sub.ch)
	delete(t.subs, sub.id)
	empty := len(t.subs) == 0 && !t.dead
	if empty {
		t.dead = true
	}
	t.mu.Unlock()

	if empty {
		b.forget(sub.accessCode, t)
	}
}

// Publish delivers snap to every subscriber of the access code without blocking.
func (b *Broker) Publish(accessCode string, snap session.Snapshot) {
	b.published.Add(1)
	t := b.lookup(accessCode)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subs {
		select {
		case sub.ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest. Only Publish sends and it holds the topic
		// lock, so the second send always finds room.
		select {
		case <-sub.ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- snap:
		default:
		}
	}
}

// CloseTopic closes every subscription of the access code. Buffered snapshots
// can still be drained before receivers observe the close.
func (b *Broker) CloseTopic(accessCode string) {
	b.mu.Lock()
	t, ok := b.topics[accessCode]
	delete(b.topics, accessCode)
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead = true
	for id, sub := range t.subs {
		sub.closed = true
		close(sub.ch)
		delete(t.subs, id)
	}
}

// SubscriberCount is the number of open subscriptions across all sessions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	n := 0
	for _, t := range topics {
		t.mu.Lock()
		n += len(t.subs)
		t.mu.Unlock()
	}
	return n
}

// Published is the number of Publish calls so far.
func (b *Broker) Published() uint64 {
	return b.published.Load()
}

// Dropped is the number of snapshots discarded from full subscriber buffers.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
