// Package models holds the JSON request and response bodies of the HTTP API.
// Snapshots themselves are serialized from session.Snapshot directly.
package models

import "github.com/queueup/backend/internal/session"

// Identity issuance
type IdentityRequest struct {
	UserName string `json:"userName"`
}

type IdentityResponse struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Token    string `json:"token"`
}

// Queue mutations
type AddItemRequest struct {
	ContentRef string `json:"contentRef"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

// WebSocket frames
type PushMessage struct {
	Event string            `json:"event"`
	Data  *session.Snapshot `json:"data,omitempty"`
	Error string            `json:"error,omitempty"`
}

type ClientCommand struct {
	Command    string `json:"command"`
	ContentRef string `json:"contentRef,omitempty"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	ItemID     int64  `json:"itemId,omitempty"`
}

// Search
type YouTubeSearchResponse struct {
	Videos []YouTubeVideoResponse `json:"videos"`
}

type YouTubeVideoResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle"`
	ThumbnailURL string `json:"thumbnailUrl"`
	DurationMS   int64  `json:"durationMs"`
}

// Public configuration
type PublicConfigResponse struct {
	QueuePolicy       string `json:"queuePolicy"`
	AutoCloseOnEmpty  bool   `json:"autoCloseOnEmpty"`
	SearchEnabled     bool   `json:"searchEnabled"`
	HeartbeatSeconds  int    `json:"heartbeatSeconds"`
	SentryDSN         string `json:"sentryDsn,omitempty"`
	SentryEnvironment string `json:"sentryEnvironment,omitempty"`
}

// Error response
type ErrorResponse struct {
	Error string `json:"error"`
}
