package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/queueup/backend/internal/logging"
	"github.com/queueup/backend/internal/middleware"
	"github.com/queueup/backend/internal/session"
	"github.com/queueup/backend/internal/syncer"
)

// ConnectionCounter counts push connections by transport.
type ConnectionCounter interface {
	IncConnections(transport string)
}

// SSEHandler serves Server-Sent Events streams of session snapshots.
type SSEHandler struct {
	syncer  *syncer.Synchronizer
	counter ConnectionCounter
}

// NewSSEHandler creates an SSEHandler. counter may be nil.
func NewSSEHandler(s *syncer.Synchronizer, counter ConnectionCounter) *SSEHandler {
	return &SSEHandler{syncer: s, counter: counter}
}

// Stream joins the caller to the session and pushes a "snapshot" event each
// time the session changes. Each event id is the snapshot version. A final
// "closed" event is sent when the session ends. Heartbeat comments keep the
// connection alive through proxies.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	code, ok := accessCode(w, r)
	if !ok {
		return
	}
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if h.counter != nil {
		h.counter.IncConnections("sse")
	}

	sink := &sseSink{w: w, flusher: flusher}
	err := h.syncer.Run(r.Context(), code, identity, sink)

	switch {
	case errors.Is(err, session.ErrSessionNotFound) && !sink.started:
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrInvalidCommand) && !sink.started:
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, syncer.ErrSessionClosed):
		sink.start()
		fmt.Fprintf(w, "event: closed\ndata: {}\n\n")
		flusher.Flush()
	case err != nil && r.Context().Err() == nil:
		slog.DebugContext(r.Context(), "sse stream ended",
			append(logging.RequestFields(r.Context()), slog.Any("error", err))...)
	}
}

// sseSink writes snapshots as SSE events. Headers go out with the first
// event so failures before then can still be reported as plain HTTP errors.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true

	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.Header().Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	fmt.Fprintf(s.w, "retry: 3000\n\n")
}

func (s *sseSink) Send(snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	s.start()
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Version, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Heartbeat() error {
	s.start()
	if _, err := fmt.Fprintf(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
