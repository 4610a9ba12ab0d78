package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/profilesync/internal/errs"
	"github.com/and161185/profilesync/internal/repository"
)

type step struct {
	exists bool
	data   map[string]any
	err    error
}

// fakeFeed unblocks on ctx like the real iterator does.
type fakeFeed struct {
	ctx     context.Context
	steps   chan step
	stopped chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{steps: make(chan step), stopped: make(chan struct{})}
}

func (f *fakeFeed) Next() (bool, map[string]any, error) {
	select {
	case s := <-f.steps:
		return s.exists, s.data, s.err
	case <-f.ctx.Done():
		return false, nil, status.Error(codes.Canceled, "context canceled")
	}
}

func (f *fakeFeed) Stop() {
	select {
	case <-f.stopped:
	default:
		close(f.stopped)
	}
}

func start(feed *fakeFeed) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	feed.ctx = ctx
	sub := &subscription{events: make(chan repository.DocumentEvent), cancel: cancel, done: make(chan struct{})}
	go sub.run(ctx, feed, zap.NewNop())
	return sub
}

func recv(t *testing.T, sub *subscription) repository.DocumentEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "feed closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return repository.DocumentEvent{}
	}
}

func TestSubscription_ForwardsSnapshots(t *testing.T) {
	feed := newFakeFeed()
	sub := start(feed)

	feed.steps <- step{exists: true, data: map[string]any{"id": "u1"}}
	ev := recv(t, sub)
	require.True(t, ev.Exists)
	require.Equal(t, "u1", ev.Doc["id"])

	feed.steps <- step{}
	require.False(t, recv(t, sub).Exists)

	require.NoError(t, sub.Close())
	_, ok := <-sub.Events()
	require.False(t, ok)
	<-feed.stopped
}

func TestSubscription_ErrorEndsFeed(t *testing.T) {
	feed := newFakeFeed()
	sub := start(feed)

	feed.steps <- step{err: status.Error(codes.Unavailable, "backend down")}
	ev := recv(t, sub)
	require.ErrorIs(t, ev.Err, errs.ErrRemoteUnavailable)
	_, ok := <-sub.Events()
	require.False(t, ok)
	require.NoError(t, sub.Close())
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want error
	}{
		{status.Error(codes.NotFound, "no doc"), errs.ErrNotFound},
		{status.Error(codes.InvalidArgument, "bad field"), errs.ErrValidation},
		{status.Error(codes.PermissionDenied, "rules"), errs.ErrUnauthorized},
		{status.Error(codes.Unauthenticated, "token"), errs.ErrUnauthorized},
		{status.Error(codes.Unavailable, "down"), errs.ErrRemoteUnavailable},
		{status.Error(codes.DeadlineExceeded, "slow"), errs.ErrRemoteUnavailable},
		{errors.New("dial tcp"), errs.ErrRemoteUnavailable},
	}
	for _, c := range cases {
		require.ErrorIs(t, classify("op", c.err), c.want, "%v", c.err)
	}
	require.NotErrorIs(t, classify("op", context.Canceled), errs.ErrRemoteUnavailable)
}
