package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/queueup/backend/internal/logging"
	"github.com/queueup/backend/internal/middleware"
	"github.com/queueup/backend/internal/models"
	"github.com/queueup/backend/internal/session"
	"github.com/queueup/backend/internal/syncer"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// WebSocketHandler pushes snapshots over a WebSocket and accepts queue
// commands on the same connection.
type WebSocketHandler struct {
	syncer    *syncer.Synchronizer
	registry  *session.Registry
	processor *session.Processor
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	counter   ConnectionCounter
}

// NewWebSocketHandler creates a WebSocketHandler. Origins are checked
// against allowedOrigins. counter may be nil.
func NewWebSocketHandler(s *syncer.Synchronizer, registry *session.Registry, processor *session.Processor, allowedOrigins []string, heartbeat time.Duration, counter ConnectionCounter) *WebSocketHandler {
	if heartbeat <= 0 {
		heartbeat = syncer.DefaultHeartbeatInterval
	}
	return &WebSocketHandler{
		syncer:    s,
		registry:  registry,
		processor: processor,
		heartbeat: heartbeat,
		counter:   counter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.AllowedOrigin(allowedOrigins, origin)
			},
		},
	}
}

// Stream upgrades the connection and runs the client until either side
// goes away or the session closes.
func (h *WebSocketHandler) Stream(w http.ResponseWriter, r *http.Request) {
	code, ok := accessCode(w, r)
	if !ok {
		return
	}
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	// Unknown sessions get a plain 404 instead of an upgrade.
	if _, err := h.registry.Get(code); err != nil {
		writeCommandError(r.Context(), w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		return
	}
	defer conn.Close()

	if h.counter != nil {
		h.counter.IncConnections("websocket")
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := &wsSink{conn: conn}
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readPump(ctx, cancel, conn, sink, code, identity)
	}()

	err = h.syncer.Run(ctx, code, identity, sink)
	switch {
	case errors.Is(err, syncer.ErrSessionClosed):
		sink.write(models.PushMessage{Event: "closed"})
	case errors.Is(err, session.ErrSessionNotFound):
		sink.write(models.PushMessage{Event: "error", Error: "session not found"})
	case err != nil && ctx.Err() == nil:
		slog.DebugContext(ctx, "websocket stream ended",
			append(logging.RequestFields(ctx), slog.Any("error", err))...)
	}

	sink.close()
	conn.Close()
	<-done
}

// readPump reads client commands until the connection fails. Frames that are
// not a valid command get an error event and the connection stays open. A missing pong
// within two heartbeat intervals counts as a failure.
func (h *WebSocketHandler) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sink *wsSink, code string, who session.Identity) {
	defer cancel()

	pongWait := 2 * h.heartbeat
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// NextReader errors are permanent; a decode error only spoils one frame.
		_, r, err := conn.NextReader()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && ctx.Err() == nil {
				slog.DebugContext(ctx, "websocket read failed", slog.Any("error", err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg models.ClientCommand
		if err := json.NewDecoder(r).Decode(&msg); err != nil {
			sink.write(models.PushMessage{Event: "error", Error: "invalid message"})
			continue
		}

		cmd, err := clientCommand(msg, who)
		if err == nil {
			_, err = h.processor.Apply(ctx, code, cmd)
		}
		if err != nil {
			sink.write(models.PushMessage{Event: "error", Error: commandErrorMessage(err)})
		}
	}
}

// clientCommand maps an inbound frame onto a session command.
func clientCommand(msg models.ClientCommand, who session.Identity) (session.Command, error) {
	switch msg.Command {
	case "add_item":
		ref, ok := resolveContentRef(msg.ContentRef, msg.URL)
		if !ok {
			return nil, invalidCommand("unrecognized video url")
		}
		return session.AddItem{Identity: who, ContentRef: ref, Title: msg.Title}, nil
	case "remove_item":
		if msg.ItemID <= 0 {
			return nil, invalidCommand("invalid item id")
		}
		return session.RemoveItem{ItemID: msg.ItemID}, nil
	case "advance":
		return session.Advance{}, nil
	default:
		return nil, invalidCommand("unknown command")
	}
}

func invalidCommand(reason string) error {
	return fmt.Errorf("%w: %s", session.ErrInvalidCommand, reason)
}

func commandErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, session.ErrInvalidCommand):
		return err.Error()
	default:
		return "internal error"
	}
}

// wsSink serializes writes to one connection. gorilla/websocket allows only
// one concurrent writer.
type wsSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSink) write(msg models.PushMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *wsSink) Send(snap session.Snapshot) error {
	return s.write(models.PushMessage{Event: "snapshot", Data: &snap})
}

func (s *wsSink) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *wsSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
