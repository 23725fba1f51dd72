package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/queueup/backend/internal/queue"
)

type fakePublisher struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (f *fakePublisher) Publish(_ string, snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
}

func (f *fakePublisher) published() []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Snapshot, len(f.snaps))
	copy(out, f.snaps)
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func (f *fakeStore) Save(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.AccessCode] = rec
	return nil
}

func (f *fakeStore) Delete(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, code)
	f.deleted = append(f.deleted, code)
	return nil
}

func (f *fakeStore) record(code string) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[code]
	return rec, ok
}

func (f *fakeStore) LoadAll(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	reg   *Registry
	proc  *Processor
	pub   *fakePublisher
	store *fakeStore
	clock *fakeClock

	mu       sync.Mutex
	disposed []string
}

func newTestEnv(t *testing.T, opts ProcessorOptions) *testEnv {
	t.Helper()
	env := &testEnv{
		pub:   &fakePublisher{},
		store: newFakeStore(),
		clock: &fakeClock{now: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)},
	}
	env.reg = NewRegistry(Options{
		Store: env.store,
		Now:   env.clock.Now,
		OnDispose: func(code string) {
			env.mu.Lock()
			defer env.mu.Unlock()
			env.disposed = append(env.disposed, code)
		},
	})
	env.proc = NewProcessor(env.reg, env.pub, opts)
	return env
}

func (env *testEnv) create(t *testing.T) string {
	t.Helper()
	code, err := env.reg.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return code
}

func (env *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.reg.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func (env *testEnv) apply(t *testing.T, code string, cmd Command) Snapshot {
	t.Helper()
	snap, err := env.proc.Apply(context.Background(), code, cmd)
	if err != nil {
		t.Fatalf("Apply(%s) error = %v", cmd.Kind(), err)
	}
	return snap
}

var (
	alice = Identity{UserID: "user-1", UserName: "Alice"}
	bob   = Identity{UserID: "user-2", UserName: "Bob"}
)

func addItem(who Identity, title string) AddItem {
	return AddItem{Identity: who, ContentRef: "ref-" + title, Title: title}
}

func TestCreateAndGet(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)

	if !ValidCode(code) {
		t.Fatalf("Create() returned malformed code %q", code)
	}

	snap, err := env.reg.Get(code)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Status != StatusWaiting {
		t.Errorf("status = %s, want WAITING", snap.Status)
	}
	if snap.NowPlaying != nil || len(snap.Queue) != 0 || len(snap.Users) != 0 {
		t.Errorf("new session not empty: %+v", snap)
	}
	env.flush(t)
	if _, ok := env.store.record(code); !ok {
		t.Error("new session was not persisted")
	}
}

func TestGetIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)

	if _, err := env.reg.Get(" " + strings.ToLower(code) + " "); err != nil {
		t.Errorf("Get(lower case) error = %v", err)
	}
}

func TestGetUnknownOrDisposed(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)
	env.reg.Dispose(context.Background(), code)

	for _, c := range []string{code, "ZZZZZZ"} {
		if _, err := env.reg.Get(c); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrSessionNotFound", c, err)
		}
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)

	env.reg.Dispose(context.Background(), code)
	env.reg.Dispose(context.Background(), code)
	env.reg.Dispose(context.Background(), "NOPE00")

	if len(env.disposed) != 1 {
		t.Errorf("OnDispose called %d times, want 1", len(env.disposed))
	}
	if env.reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", env.reg.Count())
	}
}

func TestCreateExhausted(t *testing.T) {
	calls := 0
	reg := NewRegistry(Options{GenerateCode: func() (string, error) {
		calls++
		return "AAAAAA", nil
	}})

	if _, err := reg.Create(context.Background()); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	calls = 0
	if _, err := reg.Create(context.Background()); !errors.Is(err, ErrRegistryExhausted) {
		t.Fatalf("second Create() error = %v, want ErrRegistryExhausted", err)
	}
	if calls != maxCodeAttempts {
		t.Errorf("generator called %d times, want %d", calls, maxCodeAttempts)
	}
}

func TestAdvanceScenario(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)

	env.apply(t, code, addItem(alice, "Song A"))
	env.apply(t, code, addItem(bob, "Song B"))
	snap := env.apply(t, code, Advance{})

	if snap.NowPlaying == nil || snap.NowPlaying.Title != "Song A" {
		t.Fatalf("now playing = %v, want Song A", snap.NowPlaying)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].Title != "Song B" {
		t.Errorf("queue = %v, want [Song B]", snap.Queue)
	}
	if snap.Status != StatusPlaying {
		t.Errorf("status = %s, want PLAYING", snap.Status)
	}
}

func TestItemIDsAreNeverReused(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)

	first := env.apply(t, code, addItem(alice, "A")).Queue[0].ID
	env.apply(t, code, RemoveItem{ItemID: first})
	snap := env.apply(t, code, addItem(alice, "B"))

	if snap.Queue[0].ID == first {
		t.Errorf("item id %d reused after removal", first)
	}
}

func TestRemoveNowPlayingDoesNotPromote(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)

	env.apply(t, code, addItem(alice, "Song A"))
	env.apply(t, code, addItem(bob, "Song B"))
	playing := env.apply(t, code, Advance{}).NowPlaying

	snap := env.apply(t, code, RemoveItem{ItemID: playing.ID})
	if snap.NowPlaying != nil {
		t.Errorf("now playing = %v, want nil", snap.NowPlaying)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].Title != "Song B" {
		t.Errorf("queue = %v, want [Song B] untouched", snap.Queue)
	}
}

func TestNoopCommandsKeepVersion(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"remove absent item", RemoveItem{ItemID: 999}},
		{"advance on empty", Advance{}},
		{"leave absent user", Leave{UserID: "ghost"}},
		{"rejoin same name", Join{Identity: alice}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, ProcessorOptions{})
			code := env.create(t)
			env.apply(t, code, Join{Identity: alice})
			env.apply(t, code, addItem(alice, "A"))
			before := env.apply(t, code, Advance{})
			published := len(env.pub.published())

			after, err := env.proc.Apply(context.Background(), code, tt.cmd)
			if err != nil {
				t.Fatalf("Apply() error = %v, want nil", err)
			}
			if after.Version != before.Version {
				t.Errorf("version = %d, want unchanged %d", after.Version, before.Version)
			}
			if after.NowPlaying == nil || after.NowPlaying.Title != "A" {
				t.Errorf("now playing = %v, want A kept", after.NowPlaying)
			}
			if n := len(env.pub.published()); n != published {
				t.Errorf("published %d new snapshots, want 0", n-published)
			}
		})
	}
}

func TestRejoinReplacesName(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)

	env.apply(t, code, Join{Identity: alice})
	env.apply(t, code, Join{Identity: bob})
	snap := env.apply(t, code, Join{Identity: Identity{UserID: alice.UserID, UserName: "Alice 2"}})

	if len(snap.Users) != 2 {
		t.Fatalf("users = %v, want 2 entries", snap.Users)
	}
	if snap.Users[0].ID != alice.UserID || snap.Users[0].Name != "Alice 2" {
		t.Errorf("users[0] = %+v, want renamed alice in first position", snap.Users[0])
	}
}

func TestLeave(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)

	env.apply(t, code, Join{Identity: alice})
	env.apply(t, code, Join{Identity: bob})
	snap := env.apply(t, code, Leave{UserID: alice.UserID})

	if len(snap.Users) != 1 || snap.Users[0].ID != bob.UserID {
		t.Errorf("users = %v, want only bob", snap.Users)
	}
	if snap.Status == StatusClosed {
		t.Error("session closed without auto-close policy")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"nil command", nil},
		{"join without user", Join{}},
		{"leave without user", Leave{UserID: " "}},
		{"add without user", AddItem{ContentRef: "x", Title: "x"}},
		{"add without ref", AddItem{Identity: alice, Title: "x"}},
		{"add without title", AddItem{Identity: alice, ContentRef: "x"}},
		{"add with long title", AddItem{Identity: alice, ContentRef: "x", Title: strings.Repeat("ü", MaxTitleLength+1)}},
		{"add with long ref", AddItem{Identity: alice, ContentRef: strings.Repeat("r", MaxContentRefLength+1), Title: "x"}},
	}

	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)
	before, _ := env.reg.Get(code)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.proc.Apply(context.Background(), code, tt.cmd)
			if !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("Apply() error = %v, want ErrInvalidCommand", err)
			}
		})
	}

	after, _ := env.reg.Get(code)
	if after.Version != before.Version || len(after.Queue) != 0 {
		t.Error("invalid commands changed the session")
	}
}

func TestUnknownSessionForEveryCommand(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	cmds := []Command{
		Join{Identity: alice},
		Leave{UserID: alice.UserID},
		addItem(alice, "A"),
		RemoveItem{ItemID: 1},
		Advance{},
		Close{},
	}
	for _, cmd := range cmds {
		if _, err := env.proc.Apply(context.Background(), "QQQQQQ", cmd); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Apply(%s) error = %v, want ErrSessionNotFound", cmd.Kind(), err)
		}
	}
}

func TestConcurrentAddItems(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := Identity{UserID: fmt.Sprintf("user-%d", i), UserName: "U"}
			if _, err := env.proc.Apply(context.Background(), code, addItem(who, fmt.Sprintf("song-%d", i))); err != nil {
				t.Errorf("Apply() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	snap, _ := env.reg.Get(code)
	if len(snap.Queue) != n {
		t.Fatalf("queue has %d items, want %d", len(snap.Queue), n)
	}

	seen := make(map[int64]bool)
	for _, it := range snap.Queue {
		if seen[it.ID] {
			t.Errorf("duplicate item id %d", it.ID)
		}
		seen[it.ID] = true
	}

	published := env.pub.published()
	for i := 1; i < len(published); i++ {
		if published[i].Version <= published[i-1].Version {
			t.Fatalf("published versions not increasing: %d then %d", published[i-1].Version, published[i].Version)
		}
	}
}

func TestCloseDisposesAfterPublishing(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	code := env.create(t)
	env.apply(t, code, Join{Identity: alice})

	snap := env.apply(t, code, Close{})
	if !snap.Closed() {
		t.Errorf("status = %s, want CLOSED", snap.Status)
	}

	published := env.pub.published()
	if last := published[len(published)-1]; !last.Closed() {
		t.Error("final CLOSED snapshot was not published")
	}
	if _, err := env.reg.Get(code); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after close error = %v, want ErrSessionNotFound", err)
	}
	if len(env.disposed) != 1 || env.disposed[0] != code {
		t.Errorf("disposed = %v, want [%s]", env.disposed, code)
	}
	env.flush(t)
	if _, ok := env.store.record(code); ok {
		t.Error("closed session still persisted")
	}

	if _, err := env.proc.Apply(context.Background(), code, Leave{UserID: alice.UserID}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Leave after close error = %v, want ErrSessionNotFound", err)
	}
}

func TestAutoCloseOnEmpty(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{AutoCloseOnEmpty: true})
	code := env.create(t)

	env.apply(t, code, Join{Identity: alice})
	env.apply(t, code, Join{Identity: bob})
	if snap := env.apply(t, code, Leave{UserID: alice.UserID}); snap.Closed() {
		t.Fatal("closed while a user is still connected")
	}

	snap := env.apply(t, code, Leave{UserID: bob.UserID})
	if !snap.Closed() {
		t.Errorf("status = %s, want CLOSED after last leave", snap.Status)
	}
	if env.reg.Count() != 0 {
		t.Error("session still registered after auto-close")
	}
}

func TestSweepIdle(t *testing.T) {
	env := newTestEnv(t, ProcessorOptions{})
	idle := env.create(t)
	busy := env.create(t)
	env.apply(t, busy, Join{Identity: alice})

	env.clock.Advance(30 * time.Minute)
	if n := env.proc.SweepIdle(context.Background(), time.Hour); n != 0 {
		t.Fatalf("SweepIdle() closed %d sessions before ttl", n)
	}

	env.clock.Advance(31 * time.Minute)
	if n := env.proc.SweepIdle(context.Background(), time.Hour); n != 1 {
		t.Fatalf("SweepIdle() closed %d sessions, want 1", n)
	}
	if _, err := env.reg.Get(idle); !errors.Is(err, ErrSessionNotFound) {
		t.Error("idle session survived the sweep")
	}
	if _, err := env.reg.Get(busy); err != nil {
		t.Errorf("busy session swept: %v", err)
	}

	if n := env.proc.SweepIdle(context.Background(), 0); n != 0 {
		t.Error("zero ttl should disable sweeping")
	}
}

func TestRestore(t *testing.T) {
	store := newFakeStore()
	np := queue.Item{ID: 4, Title: "Now", ContentRef: "n", AddedByID: "u1"}
	store.records["ABC123"] = Record{
		Snapshot: Snapshot{
			AccessCode: "ABC123",
			Status:     StatusPlaying,
			Version:    7,
			Queue:      []queue.Item{{ID: 5, Title: "Next", ContentRef: "x", AddedByID: "u2"}},
			NowPlaying: &np,
			Users:      []User{{ID: "u1", Name: "Alice"}},
		},
		NextItemID: 3,
	}
	store.records["DEAD00"] = Record{Snapshot: Snapshot{AccessCode: "DEAD00", Status: StatusClosed}}

	reg := NewRegistry(Options{Store: store})
	n, err := reg.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Restore() = %d, want 1", n)
	}

	snap, err := reg.Get("abc123")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(snap.Users) != 0 {
		t.Errorf("users = %v, want none after restore", snap.Users)
	}
	if snap.Version <= 7 {
		t.Errorf("version = %d, want > 7", snap.Version)
	}
	if snap.NowPlaying == nil || snap.NowPlaying.ID != 4 {
		t.Errorf("now playing = %v, want item 4", snap.NowPlaying)
	}

	proc := NewProcessor(reg, nil, ProcessorOptions{})
	added, err := proc.Apply(context.Background(), "ABC123", addItem(alice, "New"))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if id := added.Queue[len(added.Queue)-1].ID; id != 6 {
		t.Errorf("new item id = %d, want 6", id)
	}

	if _, ok := store.record("DEAD00"); ok {
		t.Error("closed record was not deleted")
	}
}

func TestFairPolicyExposesUpNext(t *testing.T) {
	reg := NewRegistry(Options{QueuePolicy: queue.PolicyFair})
	proc := NewProcessor(reg, nil, ProcessorOptions{})
	code, _ := reg.Create(context.Background())

	for _, cmd := range []Command{addItem(alice, "A1"), addItem(alice, "A2"), addItem(bob, "B1")} {
		if _, err := proc.Apply(context.Background(), code, cmd); err != nil {
			t.Fatal(err)
		}
	}
	snap, _ := reg.Get(code)
	if len(snap.UpNext) != 3 || snap.UpNext[1].Title != "B1" {
		t.Errorf("upNext = %v, want B1 second", snap.UpNext)
	}
	if snap.Queue[1].Title != "A2" {
		t.Errorf("queue = %v, want request order", snap.Queue)
	}
}

type recordingObserver struct {
	kinds []string
	errs  []error
}

func (o *recordingObserver) CommandApplied(kind string, err error) {
	o.kinds = append(o.kinds, kind)
	o.errs = append(o.errs, err)
}

func TestObserverSeesOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	env := newTestEnv(t, ProcessorOptions{Observer: obs})
	code := env.create(t)

	env.apply(t, code, Advance{})
	env.proc.Apply(context.Background(), "QQQQQQ", Advance{})

	if len(obs.kinds) != 2 || obs.kinds[0] != "advance" {
		t.Fatalf("kinds = %v", obs.kinds)
	}
	if obs.errs[0] != nil || !errors.Is(obs.errs[1], ErrSessionNotFound) {
		t.Errorf("errs = %v", obs.errs)
	}
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatal(err)
		}
		if !ValidCode(code) {
			t.Fatalf("GenerateCode() = %q, not a valid code", code)
		}
	}
	if NormalizeCode(" ab12cd ") != "AB12CD" {
		t.Error("NormalizeCode should trim and upper-case")
	}
}
