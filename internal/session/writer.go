package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/queueup/backend/internal/logging"
)

const storeWriteTimeout = 10 * time.Second

// recordWriter persists one session off the command path. Only the newest
// pending record is kept; a delete drops any pending save and ends the writer.
type recordWriter struct {
	store   Store
	code    string
	tracker *writeTracker

	mu       sync.Mutex
	ctx      context.Context
	pending  *Record
	deleting bool
	deleted  bool
	running  bool
}

func newRecordWriter(store Store, code string, tracker *writeTracker) *recordWriter {
	return &recordWriter{store: store, code: code, tracker: tracker}
}

// save queues rec, replacing any record not yet written.
func (w *recordWriter) save(ctx context.Context, rec Record) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deleting {
		return
	}
	w.pending = &rec
	w.ctx = context.WithoutCancel(ctx)
	w.start()
}

// remove queues deletion of the stored record. It runs after any write in
// flight, so a late save cannot resurrect a disposed session.
func (w *recordWriter) remove(ctx context.Context) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deleting {
		return
	}
	w.deleting = true
	w.pending = nil
	w.ctx = context.WithoutCancel(ctx)
	w.start()
}

// start launches the flush goroutine if it is not running. Caller holds w.mu.
func (w *recordWriter) start() {
	if w.running {
		return
	}
	w.running = true
	w.tracker.add()
	go w.run()
}

func (w *recordWriter) run() {
	defer w.tracker.done()
	for {
		w.mu.Lock()
		ctx := w.ctx
		switch {
		case w.pending != nil:
			rec := *w.pending
			w.pending = nil
			w.mu.Unlock()
			w.write(ctx, rec)
		case w.deleting && !w.deleted:
			w.deleted = true
			w.mu.Unlock()
			w.delete(ctx)
		default:
			w.running = false
			w.mu.Unlock()
			return
		}
	}
}

func (w *recordWriter) write(ctx context.Context, rec Record) {
	ctx, cancel := context.WithTimeout(ctx, storeWriteTimeout)
	defer cancel()
	if err := w.store.Save(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "failed to persist session", slog.String("access_code", w.code), slog.Any("error", logging.WrapError(err, "save session")))
	}
}

func (w *recordWriter) delete(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, storeWriteTimeout)
	defer cancel()
	if err := w.store.Delete(ctx, w.code); err != nil {
		slog.ErrorContext(ctx, "failed to delete session record", slog.String("access_code", w.code), slog.Any("error", logging.WrapError(err, "delete session")))
	}
}

// writeTracker counts running writers so Flush can wait for them.
type writeTracker struct {
	mu      sync.Mutex
	active  int
	drained chan struct{}
}

func (t *writeTracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		t.drained = make(chan struct{})
	}
	t.active++
}

func (t *writeTracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if t.active == 0 {
		close(t.drained)
	}
}

// wait blocks until no writer is running or ctx ends.
func (t *writeTracker) wait(ctx context.Context) error {
	t.mu.Lock()
	if t.active == 0 {
		t.mu.Unlock()
		return nil
	}
	drained := t.drained
	t.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
