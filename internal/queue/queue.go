// Package queue holds the ordered song request queue of a single session:
// the pending requests in the order they were made plus the item currently
// promoted to "now playing". It has no locking of its own; the owning session
// serializes access.
package queue

import (
	"errors"
	"time"
)

// ErrItemNotFound is returned by Remove when no pending or now-playing item has the id.
var ErrItemNotFound = errors.New("queue item not found")

// Policy decides which pending item Advance promotes.
type Policy string

const (
	PolicyFIFO Policy = "fifo" // Oldest request first
	PolicyFair Policy = "fair" // Round-robin across requesting users
)

// ParsePolicy maps a config value to a Policy, defaulting to FIFO.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyFair {
		return PolicyFair
	}
	return PolicyFIFO
}

// Item is a single song request. Only its position changes after creation.
type Item struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	ContentRef  string    `json:"contentRef"`
	AddedByID   string    `json:"addedById"`
	AddedByName string    `json:"addedByName"`
	AddedAt     time.Time `json:"addedAt"`
}

// Queue is the pending sequence plus the optional now-playing slot.
// An item held in nowPlaying is never also present in pending.
type Queue struct {
	policy       Policy
	pending      []Item
	nowPlaying   *Item
	lastPlayedBy string
	rotation     []string // users in order of their first request
}

// New returns an empty queue using the given policy.
func New(policy Policy) *Queue {
	return &Queue{policy: policy}
}

// Restore rebuilds a queue from persisted state. A now-playing item that also
// shows up in pending is dropped from pending.
func Restore(policy Policy, pending []Item, nowPlaying *Item) *Queue {
	q := New(policy)
	if nowPlaying != nil {
		np := *nowPlaying
		q.nowPlaying = &np
		q.lastPlayedBy = np.AddedByID
		q.track(np.AddedByID)
	}
	for _, it := range pending {
		if q.nowPlaying != nil && it.ID == q.nowPlaying.ID {
			continue
		}
		q.Append(it)
	}
	return q
}

// Policy reports the queue's advance policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Append adds an item to the end of the pending sequence.
func (q *Queue) Append(it Item) {
	q.pending = append(q.pending, it)
	q.track(it.AddedByID)
}

func (q *Queue) track(userID string) {
	for _, uid := range q.rotation {
		if uid == userID {
			return
		}
	}
	q.rotation = append(q.rotation, userID)
}

// Remove deletes the item with the given id. Removing the now-playing item
// clears the slot without promoting anything.
func (q *Queue) Remove(id int64) error {
	if q.nowPlaying != nil && q.nowPlaying.ID == id {
		q.nowPlaying = nil
		return nil
	}
	for i := range q.pending {
		if q.pending[i].ID == id {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// Advance promotes the next pending item into now playing, discarding the
// previous one. It reports false and changes nothing when pending is empty.
func (q *Queue) Advance() (Item, bool) {
	if len(q.pending) == 0 {
		return Item{}, false
	}

	idx := 0
	if q.policy == PolicyFair {
		idx = q.fairHead()
	}

	next := q.pending[idx]
	q.pending = append(q.pending[:idx:idx], q.pending[idx+1:]...)
	q.nowPlaying = &next
	q.lastPlayedBy = next.AddedByID
	return next, true
}

// NowPlaying returns a copy of the now-playing item, or nil.
func (q *Queue) NowPlaying() *Item {
	if q.nowPlaying == nil {
		return nil
	}
	np := *q.nowPlaying
	return &np
}

// Pending returns a copy of the pending items in request order.
func (q *Queue) Pending() []Item {
	out := make([]Item, len(q.pending))
	copy(out, q.pending)
	return out
}

// Len is the number of pending items.
func (q *Queue) Len() int {
	return len(q.pending)
}

// MaxID returns the highest item id held, or 0.
func (q *Queue) MaxID() int64 {
	var max int64
	if q.nowPlaying != nil {
		max = q.nowPlaying.ID
	}
	for _, it := range q.pending {
		if it.ID > max {
			max = it.ID
		}
	}
	return max
}

// PlayOrder returns the pending items in the order Advance would promote them.
func (q *Queue) PlayOrder() []Item {
	if q.policy != PolicyFair {
		return q.Pending()
	}
	return fairOrder(q.pending, q.rotation, q.lastPlayedBy)
}

func (q *Queue) fairHead() int {
	order := fairOrder(q.pending, q.rotation, q.lastPlayedBy)
	head := order[0].ID
	for i := range q.pending {
		if q.pending[i].ID == head {
			return i
		}
	}
	return 0
}

// fairOrder interleaves pending items by requesting user. Users take turns in
// rotation order, starting with the user after lastPlayedBy so the same
// person is not served twice in a row while others are waiting.
func fairOrder(pending []Item, rotation []string, lastPlayedBy string) []Item {
	if len(pending) == 0 {
		return []Item{}
	}

	perUser := make(map[string][]Item)
	for _, it := range pending {
		perUser[it.AddedByID] = append(perUser[it.AddedByID], it)
	}

	start := 0
	for i, uid := range rotation {
		if uid == lastPlayedBy {
			start = (i + 1) % len(rotation)
			break
		}
	}

	out := make([]Item, 0, len(pending))
	for len(out) < len(pending) {
		for i := range rotation {
			uid := rotation[(start+i)%len(rotation)]
			if items := perUser[uid]; len(items) > 0 {
				out = append(out, items[0])
				perUser[uid] = items[1:]
			}
		}
	}
	return out
}
