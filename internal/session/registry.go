// Package session owns the authoritative state of every live karaoke session:
// the registry keyed by access code, the commands that mutate a session and
// the processor that applies them one at a time per session.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/queueup/backend/internal/logging"
	"github.com/queueup/backend/internal/queue"
)

const maxCodeAttempts = 100

// Store persists session records behind the registry.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, accessCode string) error
	LoadAll(ctx context.Context) ([]Record, error)
}

// Options configures a Registry. The zero value keeps everything in memory.
type Options struct {
	Store       Store
	QueuePolicy queue.Policy
	// OnDispose is called once for every session that leaves the registry.
	OnDispose    func(accessCode string)
	Now          func() time.Time
	GenerateCode func() (string, error)
}

type entry struct {
	mu       sync.Mutex
	st       *state
	disposed bool
	writer   *recordWriter // nil without a store
}

// Registry maps access codes to sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	opts     Options
	writes   writeTracker
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GenerateCode == nil {
		opts.GenerateCode = GenerateCode
	}
	if opts.QueuePolicy == "" {
		opts.QueuePolicy = queue.PolicyFIFO
	}
	return &Registry{
		sessions: make(map[string]*entry),
		opts:     opts,
	}
}

// Create allocates a new WAITING session under a fresh access code.
func (r *Registry) Create(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.opts.GenerateCode()
		if err != nil {
			return "", logging.WrapError(err, "generate access code")
		}

		r.mu.Lock()
		if _, taken := r.sessions[code]; taken {
			r.mu.Unlock()
			continue
		}
		e := r.newEntry(newState(code, r.opts.QueuePolicy, r.opts.Now()))
		r.sessions[code] = e
		r.mu.Unlock()

		e.mu.Lock()
		r.persist(ctx, e)
		e.mu.Unlock()

		slog.InfoContext(ctx, "session created", slog.String("access_code", code))
		return code, nil
	}
	return "", ErrRegistryExhausted
}

// Get returns the current snapshot of a session.
func (r *Registry) Get(accessCode string) (Snapshot, error) {
	e, ok := r.lookup(accessCode)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return Snapshot{}, ErrSessionNotFound
	}
	return e.st.snapshot(), nil
}

// Dispose removes a session without publishing anything. Unknown codes are ignored.
func (r *Registry) Dispose(ctx context.Context, accessCode string) {
	code := NormalizeCode(accessCode)

	r.mu.Lock()
	e, ok := r.sessions[code]
	delete(r.sessions, code)
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	already := e.disposed
	e.disposed = true
	e.mu.Unlock()
	if already {
		return
	}
	r.release(ctx, code, e)
}

// Count is the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IdleCodes lists sessions that have had nobody connected for longer than ttl.
func (r *Registry) IdleCodes(now time.Time, ttl time.Duration) []string {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.sessions))
	for code, e := range r.sessions {
		entries[code] = e
	}
	r.mu.RUnlock()

	var idle []string
	for code, e := range entries {
		e.mu.Lock()
		if !e.disposed && !e.st.emptySince.IsZero() && now.Sub(e.st.emptySince) > ttl {
			idle = append(idle, code)
		}
		e.mu.Unlock()
	}
	return idle
}

// Restore loads persisted sessions into the registry. Connected users are
// dropped since their connections did not survive the restart.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.opts.Store == nil {
		return 0, nil
	}
	records, err := r.opts.Store.LoadAll(ctx)
	if err != nil {
		return 0, logging.WrapError(err, "load sessions")
	}

	now := r.opts.Now()
	restored := 0
	for _, rec := range records {
		code := NormalizeCode(rec.AccessCode)
		if rec.Status == StatusClosed || !ValidCode(code) {
			if err := r.opts.Store.Delete(ctx, rec.AccessCode); err != nil {
				slog.WarnContext(ctx, "failed to delete stale session", slog.String("access_code", rec.AccessCode), slog.Any("error", err))
			}
			continue
		}

		q := queue.Restore(r.opts.QueuePolicy, rec.Queue, rec.NowPlaying)
		next := rec.NextItemID
		if m := q.MaxID() + 1; m > next {
			next = m
		}
		status := rec.Status
		if status != StatusPlaying {
			status = StatusWaiting
		}
		st := &state{
			code:         code,
			status:       status,
			queue:        q,
			version:      rec.Version + 1,
			nextItemID:   next,
			updatedAt:    now,
			lastActivity: now,
			emptySince:   now,
		}

		r.mu.Lock()
		if _, exists := r.sessions[code]; exists {
			r.mu.Unlock()
			continue
		}
		e := r.newEntry(st)
		r.sessions[code] = e
		r.mu.Unlock()

		e.mu.Lock()
		r.persist(ctx, e)
		e.mu.Unlock()
		restored++
	}
	return restored, nil
}

func (r *Registry) lookup(accessCode string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[NormalizeCode(accessCode)]
	return e, ok
}

// remove drops e from the map if it is still the entry for code.
// The caller holds e.mu and has already marked it disposed.
func (r *Registry) remove(ctx context.Context, code string, e *entry) {
	r.mu.Lock()
	if r.sessions[code] == e {
		delete(r.sessions, code)
	}
	r.mu.Unlock()
	r.release(ctx, code, e)
}

func (r *Registry) release(ctx context.Context, code string, e *entry) {
	e.writer.remove(ctx)
	if r.opts.OnDispose != nil {
		r.opts.OnDispose(code)
	}
	slog.InfoContext(ctx, "session disposed", slog.String("access_code", code))
}

func (r *Registry) newEntry(st *state) *entry {
	e := &entry{st: st}
	if r.opts.Store != nil {
		e.writer = newRecordWriter(r.opts.Store, st.code, &r.writes)
	}
	return e
}

// persist queues the current record for the store. The caller holds e.mu;
// the write itself happens off the lock. Store failures are logged and never
// fail the command; the in-memory state stays authoritative.
func (r *Registry) persist(ctx context.Context, e *entry) {
	e.writer.save(ctx, e.st.record())
}

// Flush waits until every queued store write has finished or ctx ends.
func (r *Registry) Flush(ctx context.Context) error {
	return r.writes.wait(ctx)
}
