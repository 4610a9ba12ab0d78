package syncengine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/profilesync/internal/convert"
	"github.com/and161185/profilesync/internal/repository"
)

var errFeedEnded = errors.New("subscription ended")

type listener struct {
	sub    repository.Subscription // nil while the subscription is being opened
	cancel context.CancelFunc
	done   chan struct{}
}

// StartListening opens the standing subscription for id. Calling it again for an id that is
// already listened to, or being set up, is a no-op. Deliveries for a record that does not exist
// locally are ignored. ctx bounds the setup only; the subscription lives until stopped.
func (e *Engine) StartListening(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if _, ok := e.listeners[id]; ok {
		e.mu.Unlock()
		return nil
	}
	lctx, cancel := context.WithCancel(e.base)
	l := &listener{cancel: cancel, done: make(chan struct{})}
	e.listeners[id] = l
	e.mu.Unlock()

	stopSetup := context.AfterFunc(ctx, cancel)
	sub, err := e.remote.Subscribe(lctx, id)
	inTime := stopSetup()
	if err == nil && !inTime {
		_ = sub.Close()
		err = ctx.Err()
	}

	e.mu.Lock()
	stopped := e.listeners[id] != l
	switch {
	case stopped:
	case err != nil:
		delete(e.listeners, id)
	default:
		l.sub = sub
		go e.listen(lctx, id, l)
	}
	closed := e.closed
	e.mu.Unlock()

	if stopped {
		// stopped while the subscription was being opened
		cancel()
		if sub != nil && err == nil {
			_ = sub.Close()
		}
		if closed {
			return ErrClosed
		}
		return nil
	}
	if err != nil {
		cancel()
		return fmt.Errorf("listen %s: %w", id, err)
	}
	e.log.Info("listening", zap.String("id", id))
	return nil
}

// StopListening releases the subscription for id and waits for its goroutine. No-op if none.
// Must not be called from a job running on id's lane.
func (e *Engine) StopListening(id string) {
	e.mu.Lock()
	l, ok := e.listeners[id]
	delete(e.listeners, id)
	e.mu.Unlock()
	if !ok {
		return
	}
	e.release(id, l)
}

// StopAll releases every subscription.
func (e *Engine) StopAll() {
	e.mu.Lock()
	all := e.listeners
	e.listeners = make(map[string]*listener)
	e.mu.Unlock()
	for id, l := range all {
		e.release(id, l)
	}
}

// Listening reports the ids with an open subscription.
func (e *Engine) Listening() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.listeners))
	for id, l := range e.listeners {
		if l.sub != nil {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) release(id string, l *listener) {
	l.cancel()
	if l.sub == nil {
		return
	}
	if err := l.sub.Close(); err != nil {
		e.log.Warn("close subscription", zap.String("id", id), zap.Error(err))
	}
	<-l.done
	e.log.Info("stopped listening", zap.String("id", id))
}

func (e *Engine) listen(ctx context.Context, id string, l *listener) {
	defer close(l.done)
	defer func() {
		if ctx.Err() != nil {
			return
		}
		// the feed ended on its own: unregister so a later start can reopen it
		e.mu.Lock()
		if e.listeners[id] == l {
			delete(e.listeners, id)
		}
		e.mu.Unlock()
		l.cancel()
		e.listenerError(id, fmt.Errorf("listen %s: %w", id, errFeedEnded))
	}()
	// applies started before a stop still complete
	apply := context.WithoutCancel(ctx)

	for ev := range l.sub.Events() {
		if ev.Err != nil {
			e.listenerError(id, fmt.Errorf("listen %s: %w", id, ev.Err))
			continue
		}
		if !ev.Exists {
			continue
		}
		m, ok := convert.FromRemote(ev.Doc)
		if !ok || m.ID != id {
			e.log.Warn("invalid remote document", zap.String("id", id))
			continue
		}
		err := e.serial("listen", id, func() error {
			out, err := e.merge(apply, m, false)
			if out == PullSkipped {
				e.log.Debug("no local record for delivery", zap.String("id", id))
			}
			return err
		})
		if err != nil {
			e.listenerError(id, err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (e *Engine) listenerError(id string, err error) {
	e.log.Warn("listener", zap.String("id", id), zap.Error(err))
	e.recordFailure(id, err)
	if e.onListenErr != nil {
		e.onListenErr(id, err)
	}
}
