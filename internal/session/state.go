package session

import (
	"time"

	"github.com/queueup/backend/internal/queue"
)

// Status is the lifecycle stage of a session.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusPlaying Status = "PLAYING"
	StatusClosed  Status = "CLOSED"
)

// Identity is the caller of a command, already validated upstream.
type Identity struct {
	UserID   string
	UserName string
}

// User is a connected participant.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// state is the mutable session owned by a registry entry. It is only touched
// with the entry lock held.
type state struct {
	code       string
	status     Status
	queue      *queue.Queue
	users      []User // first-join order
	version    int64
	nextItemID int64
	updatedAt  time.Time

	lastActivity time.Time
	emptySince   time.Time // zero while anyone is connected
}

func newState(code string, policy queue.Policy, now time.Time) *state {
	return &state{
		code:         code,
		status:       StatusWaiting,
		queue:        queue.New(policy),
		version:      1,
		nextItemID:   1,
		updatedAt:    now,
		lastActivity: now,
		emptySince:   now,
	}
}

func (s *state) upsertUser(u User) bool {
	for i := range s.users {
		if s.users[i].ID == u.ID {
			if s.users[i].Name == u.Name {
				return false
			}
			s.users[i].Name = u.Name
			return true
		}
	}
	s.users = append(s.users, u)
	return true
}

func (s *state) removeUser(id string) bool {
	for i := range s.users {
		if s.users[i].ID == id {
			s.users = append(s.users[:i:i], s.users[i+1:]...)
			return true
		}
	}
	return false
}

func (s *state) touch(now time.Time) {
	s.lastActivity = now
	if len(s.users) == 0 {
		if s.emptySince.IsZero() {
			s.emptySince = now
		}
	} else {
		s.emptySince = time.Time{}
	}
}

func (s *state) snapshot() Snapshot {
	users := make([]User, len(s.users))
	copy(users, s.users)

	snap := Snapshot{
		AccessCode: s.code,
		Status:     s.status,
		Version:    s.version,
		Queue:      s.queue.Pending(),
		NowPlaying: s.queue.NowPlaying(),
		Users:      users,
		UpdatedAt:  s.updatedAt,
	}
	if s.queue.Policy() == queue.PolicyFair {
		snap.UpNext = s.queue.PlayOrder()
	}
	return snap
}

func (s *state) record() Record {
	return Record{Snapshot: s.snapshot(), NextItemID: s.nextItemID}
}
