// Package syncer runs the per-connection protocol that keeps one push client
// in step with its session: join, point read plus subscription, forwarding
// only snapshots newer than the last one sent, and leave on the way out.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/queueup/backend/internal/broker"
	"github.com/queueup/backend/internal/session"
)

var (
	// ErrTransportFailure wraps errors returned by a Sink. The client is
	// expected to reconnect.
	ErrTransportFailure = errors.New("transport failure")
	// ErrSessionClosed is returned when the session closes while connected.
	ErrSessionClosed = errors.New("session closed")
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultLeaveTimeout      = 5 * time.Second
)

// Reader serves point reads.
type Reader interface {
	Get(accessCode string) (session.Snapshot, error)
}

// Commander applies session commands.
type Commander interface {
	Apply(ctx context.Context, accessCode string, cmd session.Command) (session.Snapshot, error)
}

// Topics hands out push subscriptions.
type Topics interface {
	Subscribe(accessCode string) *broker.Subscription
	Unsubscribe(sub *broker.Subscription)
}

// Sink is the transport of one connected client.
type Sink interface {
	Send(snap session.Snapshot) error
	Heartbeat() error
}

// Options configures a Synchronizer.
type Options struct {
	HeartbeatInterval time.Duration
	LeaveTimeout      time.Duration
}

// Synchronizer runs client connections against a registry and broker.
type Synchronizer struct {
	reader    Reader
	commander Commander
	topics    Topics
	opts      Options
}

// New creates a Synchronizer, filling in default intervals.
func New(reader Reader, commander Commander, topics Topics, opts Options) *Synchronizer {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = DefaultLeaveTimeout
	}
	return &Synchronizer{reader: reader, commander: commander, topics: topics, opts: opts}
}

type pointRead struct {
	snap session.Snapshot
	err  error
}

// Run serves one client until ctx is cancelled, the sink fails or the session
// closes. It returns session.ErrSessionNotFound if the session does not exist,
// ErrSessionClosed after delivering the final snapshot, an error wrapping
// ErrTransportFailure when the sink fails, or ctx.Err().
//
// Whatever the exit path, the subscription is released and a Leave for who is
// issued once Join has succeeded.
func (s *Synchronizer) Run(ctx context.Context, accessCode string, who session.Identity, sink Sink) error {
	code := session.NormalizeCode(accessCode)

	// Subscribe before joining so the Join snapshot itself is not missed.
	sub := s.topics.Subscribe(code)
	defer s.topics.Unsubscribe(sub)

	joined, err := s.commander.Apply(ctx, code, session.Join{Identity: who})
	if err != nil {
		return err
	}
	defer s.leave(ctx, code, who.UserID)

	reads := make(chan pointRead, 1)
	go func() {
		snap, err := s.reader.Get(code)
		reads <- pointRead{snap: snap, err: err}
	}()

	c := &client{sink: sink}
	if err := c.deliver(joined); err != nil {
		return err
	}

	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-reads:
			reads = nil
			if r.err != nil {
				if errors.Is(r.err, session.ErrSessionNotFound) {
					return ErrSessionClosed
				}
				return r.err
			}
			if err := c.deliver(r.snap); err != nil {
				return err
			}

		case snap, ok := <-sub.C():
			if !ok {
				return ErrSessionClosed
			}
			if err := c.deliver(snap); err != nil {
				return err
			}
			if snap.Closed() {
				return ErrSessionClosed
			}

		case <-heartbeat.C:
			if err := sink.Heartbeat(); err != nil {
				return fmt.Errorf("%w: %w", ErrTransportFailure, err)
			}
		}
	}
}

// leave runs on a context detached from the connection, which is usually
// already cancelled, but bounded so a stuck store cannot pin the goroutine.
func (s *Synchronizer) leave(ctx context.Context, code, userID string) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.LeaveTimeout)
	defer cancel()

	if _, err := s.commander.Apply(lctx, code, session.Leave{UserID: userID}); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		slog.WarnContext(lctx, "failed to leave session",
			slog.String("access_code", code),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}

// client tracks the newest version forwarded to one sink.
type client struct {
	sink Sink
	last int64
}

// deliver forwards snap only if it is newer than anything already sent, so a
// slow point read can never roll the client back behind a push.
func (c *client) deliver(snap session.Snapshot) error {
	if snap.Version <= c.last {
		return nil
	}
	if err := c.sink.Send(snap); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}
	c.last = snap.Version
	return nil
}
