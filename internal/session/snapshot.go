package session

import (
	"time"

	"github.com/queueup/backend/internal/queue"
)

// Snapshot is a complete, immutable copy of a session at one version. It is
// the only unit sent on both the read and the push path; receivers replace
// their view wholesale. Receivers must not modify the slices.
type Snapshot struct {
	AccessCode string       `json:"accessCode"`
	Status     Status       `json:"status"`
	Version    int64        `json:"version"`
	Queue      []queue.Item `json:"queue"`
	UpNext     []queue.Item `json:"upNext,omitempty"`
	NowPlaying *queue.Item  `json:"nowPlaying"`
	Users      []User       `json:"users"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Closed reports whether the snapshot is the final one of its session.
func (s Snapshot) Closed() bool {
	return s.Status == StatusClosed
}

// Record is the persisted form of a session.
type Record struct {
	Snapshot
	NextItemID int64 `json:"nextItemId"`
}
