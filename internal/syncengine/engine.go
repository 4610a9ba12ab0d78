// Package syncengine keeps local profile records and their remote documents consistent.
//
// Push, pull, listener-applied changes and edits made through the engine are serialized per
// profile id. Conflicts resolve by last writer wins on updatedAt; ties keep the local record.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/profilesync/internal/convert"
	"github.com/and161185/profilesync/internal/errs"
	"github.com/and161185/profilesync/internal/model"
	"github.com/and161185/profilesync/internal/repository"
	"github.com/and161185/profilesync/internal/service"
)

// ErrClosed is returned by StartListening after Close.
var ErrClosed = errors.New("sync engine closed")

// PullOutcome says what a pull or a listener delivery did to the local record.
type PullOutcome int

const (
	PullAbsent    PullOutcome = iota // no remote document
	PullInvalid                      // remote document failed validation
	PullUnchanged                    // local record is as new or newer
	PullApplied                      // local record overwritten from remote
	PullCreated                      // local record created from remote
	PullSkipped                      // no local record and creation not allowed
)

func (o PullOutcome) String() string {
	switch o {
	case PullAbsent:
		return "absent"
	case PullInvalid:
		return "invalid"
	case PullUnchanged:
		return "unchanged"
	case PullApplied:
		return "applied"
	case PullCreated:
		return "created"
	case PullSkipped:
		return "skipped"
	}
	return fmt.Sprintf("PullOutcome(%d)", int(o))
}

// Report summarizes one SyncPending run.
type Report struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Pushed     []string
	Failed     map[string]error
}

// Status is the sync view of one record.
type Status struct {
	State     model.SyncState
	LastError error // last push failure or listener error, nil once a push succeeds
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for sync stamps and reports.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithListenerErrors registers a callback for errors raised by standing subscriptions.
// It runs on the listener goroutine.
func WithListenerErrors(fn func(id string, err error)) Option {
	return func(e *Engine) { e.onListenErr = fn }
}

// Engine orchestrates push, pull and live subscriptions.
type Engine struct {
	profiles    service.ProfileService
	remote      repository.DocumentStore
	log         *zap.Logger
	now         func() time.Time
	onListenErr func(id string, err error)

	lanes   *lanes
	syncing atomic.Int64

	base context.Context
	stop context.CancelFunc

	mu          sync.Mutex
	listeners   map[string]*listener
	failures    map[string]error
	lastAttempt time.Time
	lastReport  *Report
	closed      bool
}

// New constructs an Engine. Nothing runs until an operation is called.
func New(profiles service.ProfileService, remote repository.DocumentStore, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	e := &Engine{
		profiles:  profiles,
		remote:    remote,
		log:       log,
		now:       service.Now,
		lanes:     newLanes(),
		base:      base,
		stop:      stop,
		listeners: make(map[string]*listener),
		failures:  make(map[string]error),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// IsSyncing reports whether a push or pull is in flight. Informational only.
func (e *Engine) IsSyncing() bool { return e.syncing.Load() > 0 }

// Push writes the current state of p's record to the remote store and marks it synced.
// p is refreshed from the store. On a remote failure the record stays dirty; if the record was
// edited while the write was in flight it also stays dirty and errs.ErrVersionConflict is returned.
func (e *Engine) Push(ctx context.Context, p *model.Profile) error {
	return e.serial("push", p.ID, func() error {
		cur, err := e.push(ctx, p.ID)
		if cur != nil {
			*p = *cur
		}
		return err
	})
}

// Pull reads the remote document for id and merges it into the local store.
// A missing or invalid document is not an error.
func (e *Engine) Pull(ctx context.Context, id string) (PullOutcome, error) {
	var out PullOutcome
	err := e.serial("pull", id, func() error {
		var err error
		out, err = e.pull(ctx, id)
		return err
	})
	return out, err
}

// ForceSync flags the record dirty without touching updatedAt and pushes it.
func (e *Engine) ForceSync(ctx context.Context, id string) (*model.Profile, error) {
	var cur *model.Profile
	err := e.serial("force", id, func() error {
		if _, err := e.profiles.MarkDirty(ctx, id); err != nil {
			return err
		}
		var err error
		cur, err = e.push(ctx, id)
		return err
	})
	return cur, err
}

// Mutate loads the record for id, applies fn and saves it as a local edit if fn reports a change.
// The whole read-modify-write runs on id's lane.
func (e *Engine) Mutate(ctx context.Context, id string, fn func(p *model.Profile) bool) (*model.Profile, bool, error) {
	var (
		cur     *model.Profile
		changed bool
	)
	err := e.serial("edit", id, func() error {
		p, err := e.profiles.FindByID(ctx, id)
		if err != nil {
			return err
		}
		next := p.Clone()
		if !fn(&next) {
			cur = p
			return nil
		}
		next.ID, next.CreatedAt = p.ID, p.CreatedAt
		if err := e.profiles.Update(ctx, &next); err != nil {
			return err
		}
		cur, changed = &next, true
		return nil
	})
	return cur, changed, err
}

// SyncPending pushes every dirty record in turn. A failing record does not stop the run; its
// error is recorded in the report and in Status. The attempt time is updated in all cases.
func (e *Engine) SyncPending(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.Must(uuid.NewV7()), StartedAt: e.now(), Failed: map[string]error{}}
	defer func() {
		rep.FinishedAt = e.now()
		e.mu.Lock()
		e.lastAttempt = rep.FinishedAt
		e.lastReport = &rep
		e.mu.Unlock()
	}()

	pending, err := e.profiles.ListPending(ctx)
	if err != nil {
		return rep, fmt.Errorf("list pending: %w", err)
	}
	for i := range pending {
		p := pending[i]
		if err := e.Push(ctx, &p); err != nil {
			rep.Failed[p.ID] = err
			continue
		}
		rep.Pushed = append(rep.Pushed, p.ID)
	}

	e.log.Info("sync pending",
		zap.Stringer("run", rep.RunID),
		zap.Int("pushed", len(rep.Pushed)),
		zap.Int("failed", len(rep.Failed)),
	)
	return rep, nil
}

// LastAttempt returns when SyncPending last finished; zero if it never ran.
func (e *Engine) LastAttempt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAttempt
}

// LastReport returns the latest SyncPending report, if any.
func (e *Engine) LastReport() (Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastReport == nil {
		return Report{}, false
	}
	return *e.lastReport, true
}

// Status reports the sync state of id and its last recorded failure.
func (e *Engine) Status(ctx context.Context, id string) (Status, error) {
	p, err := e.profiles.FindByID(ctx, id)
	if err != nil {
		return Status{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{State: p.SyncState(), LastError: e.failures[id]}, nil
}

// Close stops all listeners. Push and pull keep working.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.StopAll()
	e.stop()
}

func (e *Engine) push(ctx context.Context, id string) (*model.Profile, error) {
	e.syncing.Add(1)
	defer e.syncing.Add(-1)

	cur, err := e.profiles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := convert.ToDocument(convert.ToRemote(*cur))
	if err := e.remote.Merge(ctx, id, doc); err != nil {
		err = fmt.Errorf("push %s: %w", id, err)
		e.recordFailure(id, err)
		return cur, err
	}

	err = e.profiles.MarkSynced(ctx, cur)
	if errors.Is(err, errs.ErrVersionConflict) {
		// edited after the snapshot was taken: the remote has older data, stay dirty
		e.log.Info("record changed during push", zap.String("id", id))
		e.clearFailure(id)
		latest, ferr := e.profiles.FindByID(ctx, id)
		if ferr != nil {
			return cur, ferr
		}
		return latest, fmt.Errorf("push %s: %w", id, err)
	}
	if err != nil {
		return cur, err
	}
	e.clearFailure(id)
	return cur, nil
}

func (e *Engine) pull(ctx context.Context, id string) (PullOutcome, error) {
	e.syncing.Add(1)
	defer e.syncing.Add(-1)

	doc, err := e.remote.Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return PullAbsent, nil
	}
	if err != nil {
		return PullAbsent, fmt.Errorf("pull %s: %w", id, err)
	}
	m, ok := convert.FromRemote(doc)
	if !ok || m.ID != id {
		e.log.Warn("invalid remote document", zap.String("id", id))
		return PullInvalid, nil
	}
	return e.merge(ctx, m, true)
}

// merge applies m to the local record under last-writer-wins. Must run on m.ID's lane.
func (e *Engine) merge(ctx context.Context, m model.Mirror, allowCreate bool) (PullOutcome, error) {
	local, err := e.profiles.FindByID(ctx, m.ID)
	if errors.Is(err, errs.ErrNotFound) {
		if !allowCreate {
			return PullSkipped, nil
		}
		rec := convert.NewRecord(m, e.now())
		if err := e.profiles.Insert(ctx, &rec); err != nil {
			return PullAbsent, err
		}
		return PullCreated, nil
	}
	if err != nil {
		return PullAbsent, err
	}
	if !convert.IsNewerThan(m, *local) {
		return PullUnchanged, nil
	}
	convert.ApplyToRecord(m, local, e.now())
	if err := e.profiles.Replace(ctx, local); err != nil {
		return PullUnchanged, err
	}
	e.clearFailure(m.ID)
	return PullApplied, nil
}

func (e *Engine) recordFailure(id string, err error) {
	e.mu.Lock()
	e.failures[id] = err
	e.mu.Unlock()
}

func (e *Engine) clearFailure(id string) {
	e.mu.Lock()
	delete(e.failures, id)
	e.mu.Unlock()
}
