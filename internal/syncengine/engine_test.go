package syncengine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/profilesync/internal/convert"
	"github.com/and161185/profilesync/internal/errs"
	"github.com/and161185/profilesync/internal/model"
	"github.com/and161185/profilesync/internal/repository"
	"github.com/and161185/profilesync/internal/repository/sqlite"
	"github.com/and161185/profilesync/internal/service"
)

// ---- fakes ----

type fakeRemote struct {
	mu      sync.Mutex
	docs    map[string]repository.Document
	failIDs map[string]error
	getErr  error
	merges  int
	block   chan struct{} // when set, Merge waits on it
	blocked int           // Merge calls that reached block

	subBlock   chan struct{} // when set, Subscribe waits on it
	subWaiting int

	subs       map[string][]*fakeSub
	subscribes int
}

var _ repository.DocumentStore = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		docs:    map[string]repository.Document{},
		failIDs: map[string]error{},
		subs:    map[string][]*fakeSub{},
	}
}

func (f *fakeRemote) Get(_ context.Context, id string) (repository.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	out := repository.Document{}
	for k, v := range d {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRemote) Merge(_ context.Context, id string, fields repository.Document) error {
	f.mu.Lock()
	block := f.block
	if block != nil {
		f.blocked++
	}
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIDs[id]; err != nil {
		return err
	}
	f.merges++
	d, ok := f.docs[id]
	if !ok {
		d = repository.Document{}
		f.docs[id] = d
	}
	for k, v := range fields {
		d[k] = v
	}
	return nil
}

func (f *fakeRemote) Subscribe(ctx context.Context, id string) (repository.Subscription, error) {
	f.mu.Lock()
	block := f.subBlock
	if block != nil {
		f.subWaiting++
	}
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	s := &fakeSub{events: make(chan repository.DocumentEvent), ctx: ctx, closed: make(chan struct{})}
	f.subs[id] = append(f.subs[id], s)
	return s, nil
}

func (f *fakeRemote) blockMerge() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = make(chan struct{})
	f.blocked = 0
	return f.block
}

func (f *fakeRemote) mergesBlocked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

func (f *fakeRemote) blockSubscribe() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subBlock = make(chan struct{})
	f.subWaiting = 0
	return f.subBlock
}

func (f *fakeRemote) subscribesWaiting() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subWaiting
}

func (f *fakeRemote) sub(t *testing.T, id string) *fakeSub {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.subs[id], 1)
	return f.subs[id][0]
}

type fakeSub struct {
	ctx    context.Context
	events chan repository.DocumentEvent
	once   sync.Once
	closed chan struct{}
}

func (s *fakeSub) Events() <-chan repository.DocumentEvent { return s.events }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		close(s.closed)
		close(s.events)
	})
	return nil
}

// deliver blocks until the listener took the event.
func (s *fakeSub) deliver(ev repository.DocumentEvent) {
	s.events <- ev
}

func (s *fakeSub) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// ---- harness ----

type harness struct {
	eng      *Engine
	profiles *service.ProfileServiceImpl
	remote   *fakeRemote
	clk      *clock

	mu        sync.Mutex
	listenErr []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{clk: &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}, remote: newFakeRemote()}
	h.profiles = service.NewProfileService(sqlite.NewProfileRepo(db), h.clk.now)
	h.eng = New(h.profiles, h.remote, nil,
		WithClock(h.clk.now),
		WithListenerErrors(func(_ string, err error) {
			h.mu.Lock()
			h.listenErr = append(h.listenErr, err)
			h.mu.Unlock()
		}),
	)
	t.Cleanup(h.eng.Close)
	return h
}

func (h *harness) create(t *testing.T, id, first, last, email string) *model.Profile {
	t.Helper()
	p, err := h.profiles.Create(context.Background(), model.NewProfile{ID: id, FirstName: first, LastName: last, Email: email})
	require.NoError(t, err)
	return p
}

func (h *harness) load(t *testing.T, id string) *model.Profile {
	t.Helper()
	p, err := h.profiles.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func remoteDoc(id, first, last, email string, created, updated time.Time) repository.Document {
	return convert.ToDocument(model.Mirror{
		ID: id, FirstName: first, LastName: last, Email: email, CreatedAt: created, UpdatedAt: updated,
	})
}

// ---- push ----

func TestPush_ScenarioA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	require.True(t, p.NeedsSync)

	require.NoError(t, h.eng.Push(ctx, p))
	require.False(t, p.NeedsSync)
	require.NotNil(t, p.LastSyncedAt)

	stored := h.load(t, "u1")
	require.False(t, stored.NeedsSync)
	require.NotNil(t, stored.LastSyncedAt)
	require.False(t, stored.LastSyncedAt.Before(stored.UpdatedAt))

	doc := h.remote.docs["u1"]
	require.Equal(t, "Jean", doc[convert.FieldFirstName])
	require.Equal(t, "jean@x.com", doc[convert.FieldEmail])
}

func TestPush_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	require.NoError(t, h.eng.Push(ctx, p))
	first, _ := h.remote.Get(ctx, "u1")

	require.NoError(t, h.eng.Push(ctx, p))
	second, _ := h.remote.Get(ctx, "u1")

	require.Equal(t, first, second)
	require.False(t, h.load(t, "u1").NeedsSync)
	require.Equal(t, 2, h.remote.merges)
}

func TestPush_FailureLeavesDirty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	h.remote.failIDs["u1"] = errs.ErrRemoteUnavailable

	err := h.eng.Push(ctx, p)
	require.ErrorIs(t, err, errs.ErrRemoteUnavailable)
	require.True(t, p.NeedsSync)
	require.True(t, h.load(t, "u1").NeedsSync)
	require.Nil(t, h.load(t, "u1").LastSyncedAt)
	require.False(t, h.eng.IsSyncing())

	st, err := h.eng.Status(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.SyncPending, st.State.Kind)
	require.ErrorIs(t, st.LastError, errs.ErrRemoteUnavailable)

	// retry is safe
	delete(h.remote.failIDs, "u1")
	require.NoError(t, h.eng.Push(ctx, p))
	require.False(t, h.load(t, "u1").NeedsSync)
	st, _ = h.eng.Status(ctx, "u1")
	require.NoError(t, st.LastError)
}

func TestPush_PreservesUnknownRemoteFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.docs["u1"] = repository.Document{"fcmToken": "abc"}

	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	require.NoError(t, h.eng.Push(ctx, p))
	require.Equal(t, "abc", h.remote.docs["u1"]["fcmToken"])
}

func TestPush_UnknownRecord(t *testing.T) {
	h := newHarness(t)
	err := h.eng.Push(context.Background(), &model.Profile{ID: "ghost"})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestIsSyncing_DuringPush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")

	block := make(chan struct{})
	h.remote.mu.Lock()
	h.remote.block = block
	h.remote.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- h.eng.Push(ctx, p) }()

	require.Eventually(t, h.eng.IsSyncing, time.Second, time.Millisecond)
	close(block)
	require.NoError(t, <-done)
	require.False(t, h.eng.IsSyncing())
}

// ---- pull ----

func TestPull_ScenarioB_RemoteNewerWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	h.remote.docs["u1"] = remoteDoc("u1", "Jeanne", "Durand", "jeanne@x.com", p.CreatedAt, p.UpdatedAt.Add(time.Hour))

	out, err := h.eng.Pull(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, PullApplied, out)

	got := h.load(t, "u1")
	require.Equal(t, "Jeanne", got.FirstName)
	require.Equal(t, "Durand", got.LastName)
	require.Equal(t, "jeanne@x.com", got.Email)
	require.False(t, got.NeedsSync)
	require.NotNil(t, got.LastSyncedAt)
	require.True(t, p.UpdatedAt.Add(time.Hour).Equal(got.UpdatedAt))
}

func TestPull_ConflictRule(t *testing.T) {
	cases := []struct {
		name  string
		delta time.Duration
		want  PullOutcome
	}{
		{"equal timestamps keep local", 0, PullUnchanged},
		{"older remote keeps local", -time.Minute, PullUnchanged},
		{"newer remote overwrites", time.Microsecond, PullApplied},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t)
			p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
			h.remote.docs["u1"] = remoteDoc("u1", "Remote", "Name", "r@x.com", p.CreatedAt, p.UpdatedAt.Add(c.delta))

			out, err := h.eng.Pull(context.Background(), "u1")
			require.NoError(t, err)
			require.Equal(t, c.want, out)

			got := h.load(t, "u1")
			if c.want == PullApplied {
				require.Equal(t, "Remote", got.FirstName)
				require.False(t, got.NeedsSync)
			} else {
				require.Equal(t, "Jean", got.FirstName)
				require.True(t, got.NeedsSync)
			}
		})
	}
}

func TestPull_ScenarioC_AbsentIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.eng.Pull(ctx, "u9")
	require.NoError(t, err)
	require.Equal(t, PullAbsent, out)

	_, err = h.profiles.FindByID(ctx, "u9")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPull_CreatesSyncedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h.remote.docs["u2"] = remoteDoc("u2", "Anne", "Martin", "anne@x.com", created, created.Add(time.Hour))

	out, err := h.eng.Pull(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, PullCreated, out)

	got := h.load(t, "u2")
	require.Equal(t, "Anne", got.FirstName)
	require.True(t, created.Equal(got.CreatedAt))
	require.False(t, got.NeedsSync)
	require.NotNil(t, got.LastSyncedAt)
}

func TestPull_InvalidDocumentIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.docs["u3"] = repository.Document{convert.FieldID: "u3", convert.FieldFirstName: 12}

	out, err := h.eng.Pull(ctx, "u3")
	require.NoError(t, err)
	require.Equal(t, PullInvalid, out)
	_, err = h.profiles.FindByID(ctx, "u3")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPull_RemoteFailure(t *testing.T) {
	h := newHarness(t)
	h.remote.getErr = errs.ErrRemoteUnavailable
	_, err := h.eng.Pull(context.Background(), "u1")
	require.ErrorIs(t, err, errs.ErrRemoteUnavailable)
	require.False(t, h.eng.IsSyncing())
}

// ---- sync pending ----

func TestSyncPending_ScenarioD(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.create(t, "r1", "A", "Alpha", "a@x.com")
	h.create(t, "r2", "B", "Bravo", "b@x.com")
	h.create(t, "r3", "C", "Charlie", "c@x.com")
	h.remote.failIDs["r2"] = errors.New("write failed")

	require.True(t, h.eng.LastAttempt().IsZero())
	rep, err := h.eng.SyncPending(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{"r1", "r3"}, rep.Pushed)
	require.Len(t, rep.Failed, 1)
	require.Contains(t, rep.Failed, "r2")
	require.False(t, h.load(t, "r1").NeedsSync)
	require.True(t, h.load(t, "r2").NeedsSync)
	require.False(t, h.load(t, "r3").NeedsSync)

	require.False(t, h.eng.LastAttempt().IsZero())
	last, ok := h.eng.LastReport()
	require.True(t, ok)
	require.Equal(t, rep.RunID, last.RunID)

	st, err := h.eng.Status(ctx, "r2")
	require.NoError(t, err)
	require.Error(t, st.LastError)
}

func TestSyncPending_StampsAttemptWhenNothingPending(t *testing.T) {
	h := newHarness(t)
	rep, err := h.eng.SyncPending(context.Background())
	require.NoError(t, err)
	require.Empty(t, rep.Pushed)
	require.Empty(t, rep.Failed)
	require.False(t, h.eng.LastAttempt().IsZero())
}

// ---- force / mutate ----

func TestForceSync_PushesCleanRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	require.NoError(t, h.eng.Push(ctx, p))
	updated := p.UpdatedAt

	got, err := h.eng.ForceSync(ctx, "u1")
	require.NoError(t, err)
	require.False(t, got.NeedsSync)
	require.Equal(t, updated, got.UpdatedAt)
	require.Equal(t, 2, h.remote.merges)
}

func TestMutate_OnlySavesOnChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	require.NoError(t, h.eng.Push(ctx, p))

	got, changed, err := h.eng.Mutate(ctx, "u1", func(*model.Profile) bool { return false })
	require.NoError(t, err)
	require.False(t, changed)
	require.False(t, got.NeedsSync)

	got, changed, err = h.eng.Mutate(ctx, "u1", func(p *model.Profile) bool {
		p.FirstName = "Jeanne"
		p.ID = "hijack"
		return true
	})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "u1", got.ID)
	require.True(t, h.load(t, "u1").NeedsSync)
	require.Equal(t, "Jeanne", h.load(t, "u1").FirstName)
}

func TestPush_EditDuringWriteStaysDirty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")

	release := h.remote.blockMerge()
	pushed := make(chan error, 1)
	go func() { pushed <- h.eng.Push(ctx, p) }()
	require.Eventually(t, func() bool { return h.remote.mergesBlocked() == 1 }, time.Second, time.Millisecond)

	edit := h.load(t, "u1")
	edit.FirstName = "Jeanne"
	require.NoError(t, h.profiles.Update(ctx, edit))
	close(release)

	err := <-pushed
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.Equal(t, "Jeanne", p.FirstName, "p is refreshed with the newer record")
	got := h.load(t, "u1")
	require.True(t, got.NeedsSync)
	require.Equal(t, "Jean", h.remote.docs["u1"]["firstName"])

	st, err := h.eng.Status(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.SyncPending, st.State.Kind)

	// the next push carries the edit
	require.NoError(t, h.eng.Push(ctx, got))
	require.False(t, h.load(t, "u1").NeedsSync)
	require.Equal(t, "Jeanne", h.remote.docs["u1"]["firstName"])
}

func TestSyncPending_EditDuringWriteIsNotReportedPushed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, "u1", "Jean", "Dupont", "jean@x.com")

	release := h.remote.blockMerge()
	done := make(chan Report, 1)
	go func() {
		rep, _ := h.eng.SyncPending(ctx)
		done <- rep
	}()
	require.Eventually(t, func() bool { return h.remote.mergesBlocked() == 1 }, time.Second, time.Millisecond)

	edit := h.load(t, "u1")
	edit.LastName = "Durand"
	require.NoError(t, h.profiles.Update(ctx, edit))
	close(release)

	rep := <-done
	require.Empty(t, rep.Pushed)
	require.ErrorIs(t, rep.Failed["u1"], errs.ErrVersionConflict)
	require.True(t, h.load(t, "u1").NeedsSync)
}

// ---- listener ----

func TestStartListening_SetupDoesNotBlockEngine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, "u1", "Jean", "Dupont", "jean@x.com")

	release := h.remote.blockSubscribe()
	started := make(chan error, 1)
	go func() { started <- h.eng.StartListening(ctx, "u2") }()
	require.Eventually(t, func() bool { return h.remote.subscribesWaiting() == 1 }, time.Second, time.Millisecond)

	answered := make(chan struct{})
	go func() {
		_, _ = h.eng.Status(ctx, "u1")
		h.eng.LastAttempt()
		close(answered)
	}()
	select {
	case <-answered:
	case <-time.After(time.Second):
		t.Fatal("engine state locked while a subscription was being opened")
	}

	// the id is reserved while its subscription is opened
	require.NoError(t, h.eng.StartListening(ctx, "u2"))
	require.Empty(t, h.eng.Listening())

	close(release)
	require.NoError(t, <-started)
	require.Equal(t, []string{"u2"}, h.eng.Listening())
	require.Equal(t, 1, h.remote.subscribes)
}

func TestStartListening_SetupBoundedByContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	h.remote.blockSubscribe()
	started := make(chan error, 1)
	go func() { started <- h.eng.StartListening(ctx, "u1") }()
	require.Eventually(t, func() bool { return h.remote.subscribesWaiting() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-started, context.Canceled)
	require.Empty(t, h.eng.Listening())

	h.remote.mu.Lock()
	h.remote.subBlock = nil
	h.remote.mu.Unlock()
	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	require.Equal(t, []string{"u1"}, h.eng.Listening())
}

func TestStopListening_DuringSetup(t *testing.T) {
	h := newHarness(t)

	release := h.remote.blockSubscribe()
	started := make(chan error, 1)
	go func() { started <- h.eng.StartListening(context.Background(), "u1") }()
	require.Eventually(t, func() bool { return h.remote.subscribesWaiting() == 1 }, time.Second, time.Millisecond)

	h.eng.StopListening("u1")
	close(release)

	require.NoError(t, <-started)
	require.Empty(t, h.eng.Listening())
	h.remote.mu.Lock()
	defer h.remote.mu.Unlock()
	for _, sub := range h.remote.subs["u1"] {
		require.True(t, sub.isClosed())
	}
}

func TestStartListening_SingleInstance(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	require.Equal(t, 1, h.remote.subscribes)
	require.Equal(t, []string{"u1"}, h.eng.Listening())
}

func TestStopListening_ReleasesAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.eng.StopListening("nobody")
	h.eng.StopAll()

	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	require.NoError(t, h.eng.StartListening(context.Background(), "u2"))
	s1 := h.remote.sub(t, "u1")

	h.eng.StopListening("u1")
	require.True(t, s1.isClosed())
	require.Error(t, s1.ctx.Err())
	require.Equal(t, []string{"u2"}, h.eng.Listening())

	h.eng.StopAll()
	require.Empty(t, h.eng.Listening())
	require.True(t, h.remote.sub(t, "u2").isClosed())

	// a new start after stop opens a fresh subscription
	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	require.Equal(t, 3, h.remote.subscribes)
}

func TestListener_AppliesNewerAndIgnoresOlder(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	sub := h.remote.sub(t, "u1")

	sub.deliver(repository.DocumentEvent{Exists: true,
		Doc: remoteDoc("u1", "Old", "Data", "old@x.com", p.CreatedAt, p.UpdatedAt.Add(-time.Hour))})
	sub.deliver(repository.DocumentEvent{Exists: true,
		Doc: remoteDoc("u1", "Jeanne", "Durand", "jeanne@x.com", p.CreatedAt, p.UpdatedAt.Add(time.Hour))})
	// an absent event and a third delivery make sure the previous ones were processed
	sub.deliver(repository.DocumentEvent{Exists: false})
	sub.deliver(repository.DocumentEvent{Exists: true,
		Doc: remoteDoc("u1", "Jeanne", "Durand", "jeanne@x.com", p.CreatedAt, p.UpdatedAt.Add(time.Hour))})

	require.Eventually(t, func() bool { return h.load(t, "u1").FirstName == "Jeanne" }, time.Second, 5*time.Millisecond)
	got := h.load(t, "u1")
	require.False(t, got.NeedsSync)
	require.Equal(t, "jeanne@x.com", got.Email)
}

func TestListener_NeverCreatesRecords(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.eng.StartListening(context.Background(), "u7"))
	sub := h.remote.sub(t, "u7")
	now := time.Now().UTC()

	sub.deliver(repository.DocumentEvent{Exists: true, Doc: remoteDoc("u7", "A", "B", "ab@x.com", now, now)})
	sub.deliver(repository.DocumentEvent{Exists: false})
	h.eng.StopListening("u7")

	_, err := h.profiles.FindByID(context.Background(), "u7")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListener_ErrorsAreReported(t *testing.T) {
	h := newHarness(t)
	h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	sub := h.remote.sub(t, "u1")

	sub.deliver(repository.DocumentEvent{Err: errs.ErrRemoteUnavailable})
	// the listener keeps running after an error
	sub.deliver(repository.DocumentEvent{Exists: false})

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.listenErr, 1)
	require.ErrorIs(t, h.listenErr[0], errs.ErrRemoteUnavailable)
}

func TestListener_SerializedWithPush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.create(t, "u1", "Jean", "Dupont", "jean@x.com")
	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	sub := h.remote.sub(t, "u1")

	block := make(chan struct{})
	h.remote.mu.Lock()
	h.remote.block = block
	h.remote.mu.Unlock()

	pushed := make(chan error, 1)
	go func() { pushed <- h.eng.Push(ctx, p) }()
	require.Eventually(t, h.eng.IsSyncing, time.Second, time.Millisecond)

	// the delivery is queued behind the push on the same lane
	delivered := make(chan struct{})
	go func() {
		sub.deliver(repository.DocumentEvent{Exists: true,
			Doc: remoteDoc("u1", "Remote", "Newer", "r@x.com", p.CreatedAt, p.UpdatedAt.Add(time.Hour))})
		close(delivered)
	}()
	<-delivered
	require.Equal(t, "Jean", h.load(t, "u1").FirstName)

	close(block)
	require.NoError(t, <-pushed)
	require.Eventually(t, func() bool { return h.load(t, "u1").FirstName == "Remote" }, time.Second, 5*time.Millisecond)
	require.False(t, h.load(t, "u1").NeedsSync)
}

func TestListener_FeedEndUnregisters(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	require.NoError(t, h.remote.sub(t, "u1").Close())

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.listenErr) == 1
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, h.listenErr[0], errFeedEnded)
	require.Empty(t, h.eng.Listening())

	require.NoError(t, h.eng.StartListening(context.Background(), "u1"))
	require.Equal(t, 2, h.remote.subscribes)
}

func TestStartListening_AfterClose(t *testing.T) {
	h := newHarness(t)
	h.eng.Close()
	require.ErrorIs(t, h.eng.StartListening(context.Background(), "u1"), ErrClosed)
}
