package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Publisher receives every snapshot produced by a state-changing command.
type Publisher interface {
	Publish(accessCode string, snap Snapshot)
}

// Observer is notified of each command outcome.
type Observer interface {
	CommandApplied(kind string, err error)
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	// AutoCloseOnEmpty closes a session when its last user leaves.
	AutoCloseOnEmpty bool
	Observer         Observer
}

// Processor validates commands and applies them to sessions in the registry.
// Commands on one session are applied one at a time in arrival order; the
// resulting snapshot is published before the session lock is released, so
// subscribers see snapshots in apply order.
type Processor struct {
	registry  *Registry
	publisher Publisher
	opts      ProcessorOptions
}

// NewProcessor creates a Processor. publisher may be nil.
func NewProcessor(registry *Registry, publisher Publisher, opts ProcessorOptions) *Processor {
	return &Processor{registry: registry, publisher: publisher, opts: opts}
}

// Apply runs cmd against the session and returns the resulting snapshot.
// Commands that change nothing return the current snapshot without bumping
// the version or publishing.
func (p *Processor) Apply(ctx context.Context, accessCode string, cmd Command) (Snapshot, error) {
	snap, err := p.apply(ctx, accessCode, cmd)
	if p.opts.Observer != nil {
		kind := "unknown"
		if cmd != nil {
			kind = cmd.Kind()
		}
		p.opts.Observer.CommandApplied(kind, err)
	}
	return snap, err
}

func (p *Processor) apply(ctx context.Context, accessCode string, cmd Command) (Snapshot, error) {
	if cmd == nil {
		return Snapshot{}, invalid("command is required")
	}
	if err := cmd.validate(); err != nil {
		return Snapshot{}, err
	}

	code := NormalizeCode(accessCode)
	e, ok := p.registry.lookup(code)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return Snapshot{}, ErrSessionNotFound
	}

	st := e.st
	now := p.registry.opts.Now()
	changed := cmd.apply(st, now)
	st.touch(now)

	closing := st.status == StatusClosed
	if _, isLeave := cmd.(Leave); isLeave && changed && p.opts.AutoCloseOnEmpty && len(st.users) == 0 {
		st.status = StatusClosed
		closing = true
	}

	if changed {
		st.version++
		st.updatedAt = now
	}
	snap := st.snapshot()

	if changed {
		if !closing {
			p.registry.persist(ctx, e)
		}
		if p.publisher != nil {
			p.publisher.Publish(code, snap)
		}
	}

	if closing {
		e.disposed = true
		p.registry.remove(ctx, code, e)
	}

	slog.DebugContext(ctx, "command applied",
		slog.String("access_code", code),
		slog.String("command", cmd.Kind()),
		slog.Bool("changed", changed),
		slog.Int64("version", snap.Version),
	)
	return snap, nil
}

// SweepIdle closes every session that has been empty for longer than ttl and
// returns how many were closed. A non-positive ttl disables sweeping.
func (p *Processor) SweepIdle(ctx context.Context, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	closed := 0
	for _, code := range p.registry.IdleCodes(p.registry.opts.Now(), ttl) {
		snap, err := p.Apply(ctx, code, closeIdle{ttl: ttl})
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) {
				slog.WarnContext(ctx, "failed to close idle session", slog.String("access_code", code), slog.Any("error", err))
			}
			continue
		}
		if snap.Closed() {
			closed++
		}
	}
	return closed
}
