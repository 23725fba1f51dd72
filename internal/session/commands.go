package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/queueup/backend/internal/queue"
)

// Limits on the free-text fields of a queued item, in runes.
const (
	MaxTitleLength      = 200
	MaxContentRefLength = 256
)

// Command is a mutation applied to a session by the Processor.
type Command interface {
	// Kind is a short stable name used in logs and metrics.
	Kind() string
	validate() error
	// apply mutates s and reports whether anything changed.
	apply(s *state, now time.Time) bool
}

// Join adds the caller to the connected users or renames an existing entry.
type Join struct {
	Identity Identity
}

// Leave removes a connected user. Leaving twice is a no-op.
type Leave struct {
	UserID string
}

// AddItem appends a song request to the pending queue.
type AddItem struct {
	Identity   Identity
	ContentRef string
	Title      string
}

// RemoveItem removes a pending item, or clears now playing when ItemID is the
// current item. An unknown id changes nothing.
type RemoveItem struct {
	ItemID int64
}

// Advance promotes the next pending item to now playing.
type Advance struct{}

// Close ends the session. The final snapshot is published before disposal.
type Close struct{}

func (Join) Kind() string       { return "join" }
func (Leave) Kind() string      { return "leave" }
func (AddItem) Kind() string    { return "add_item" }
func (RemoveItem) Kind() string { return "remove_item" }
func (Advance) Kind() string    { return "advance" }
func (Close) Kind() string      { return "close" }

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, reason)
}

func (c Join) validate() error {
	if strings.TrimSpace(c.Identity.UserID) == "" {
		return invalid("user id is required")
	}
	return nil
}

func (c Join) apply(s *state, _ time.Time) bool {
	return s.upsertUser(User{ID: c.Identity.UserID, Name: c.Identity.UserName})
}

func (c Leave) validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return invalid("user id is required")
	}
	return nil
}

func (c Leave) apply(s *state, _ time.Time) bool {
	return s.removeUser(c.UserID)
}

func (c AddItem) validate() error {
	switch {
	case strings.TrimSpace(c.Identity.UserID) == "":
		return invalid("user id is required")
	case strings.TrimSpace(c.ContentRef) == "":
		return invalid("content reference is required")
	case strings.TrimSpace(c.Title) == "":
		return invalid("title is required")
	case utf8.RuneCountInString(strings.TrimSpace(c.Title)) > MaxTitleLength:
		return invalid("title is too long")
	case utf8.RuneCountInString(strings.TrimSpace(c.ContentRef)) > MaxContentRefLength:
		return invalid("content reference is too long")
	}
	return nil
}

func (c AddItem) apply(s *state, now time.Time) bool {
	s.queue.Append(queue.Item{
		ID:          s.nextItemID,
		Title:       strings.TrimSpace(c.Title),
		ContentRef:  strings.TrimSpace(c.ContentRef),
		AddedByID:   c.Identity.UserID,
		AddedByName: c.Identity.UserName,
		AddedAt:     now.UTC(),
	})
	s.nextItemID++
	return true
}

func (RemoveItem) validate() error { return nil }

func (c RemoveItem) apply(s *state, _ time.Time) bool {
	// ErrItemNotFound is expected when two clients race on the same item.
	return s.queue.Remove(c.ItemID) == nil
}

func (Advance) validate() error { return nil }

func (Advance) apply(s *state, _ time.Time) bool {
	if _, ok := s.queue.Advance(); !ok {
		return false
	}
	s.status = StatusPlaying
	return true
}

func (Close) validate() error { return nil }

func (Close) apply(s *state, _ time.Time) bool {
	s.status = StatusClosed
	return true
}

// closeIdle closes the session only if it is still idle when applied; a
// user may have joined since the sweeper listed it.
type closeIdle struct {
	ttl time.Duration
}

func (closeIdle) Kind() string    { return "sweep" }
func (closeIdle) validate() error { return nil }

func (c closeIdle) apply(s *state, now time.Time) bool {
	if len(s.users) > 0 || s.emptySince.IsZero() || now.Sub(s.emptySince) <= c.ttl {
		return false
	}
	s.status = StatusClosed
	return true
}
