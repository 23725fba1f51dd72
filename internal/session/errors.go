package session

import (
	"errors"

	"github.com/queueup/backend/internal/queue"
)

var (
	// ErrSessionNotFound is returned for an unknown or disposed access code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrItemNotFound is raised by the queue when a remove target is absent.
	// The processor treats it as a no-op and never returns it to callers.
	ErrItemNotFound = queue.ErrItemNotFound
	// ErrRegistryExhausted means no free access code was found.
	ErrRegistryExhausted = errors.New("no free access code available")
	// ErrInvalidCommand is returned when a command fails validation.
	ErrInvalidCommand = errors.New("invalid command")
)
