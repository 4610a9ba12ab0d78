package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/and161185/profilesync/internal/errs"
	"github.com/and161185/profilesync/internal/repository"
)

// notifyChannel is the channel the documents trigger notifies with "collection/id" payloads.
const notifyChannel = "documents"

// DocumentStore implements repository.DocumentStore on a jsonb table.
type DocumentStore struct {
	db         *DB
	collection string
	log        *zap.Logger
}

var _ repository.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore returns a store for the documents of collection.
func NewDocumentStore(db *DB, collection string, log *zap.Logger) *DocumentStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentStore{db: db, collection: collection, log: log}
}

// Get reads a document.
func (s *DocumentStore) Get(ctx context.Context, id string) (repository.Document, error) {
	var raw []byte
	err := s.db.Pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection=$1 AND id=$2`,
		s.collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

// Merge writes fields over the stored document; fields not named are kept.
func (s *DocumentStore) Merge(ctx context.Context, id string, fields repository.Document) error {
	if id == "" {
		return fmt.Errorf("merge: empty id: %w", errs.ErrValidation)
	}
	data, err := encodeDocument(fields)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3::jsonb, now())
		 ON CONFLICT (collection, id) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`,
		s.collection, id, data)
	if err != nil {
		return unavailable("merge", err)
	}
	return nil
}

// Subscribe listens for changes of id. The current state is read once the LISTEN is in place,
// then again after every notification for id.
func (s *DocumentStore) Subscribe(ctx context.Context, id string) (repository.Subscription, error) {
	conn, err := s.db.Listener.Listen(ctx, notifyChannel)
	if err != nil {
		return nil, unavailable("listen", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan repository.DocumentEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(ctx, s, conn, id)
	return sub, nil
}

type subscription struct {
	events chan repository.DocumentEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) Events() <-chan repository.DocumentEvent { return s.events }

func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *subscription) run(ctx context.Context, store *DocumentStore, conn NotificationConn, id string) {
	defer close(s.done)
	defer close(s.events)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.Close(cctx); err != nil {
			store.log.Debug("close listen connection", zap.Error(err))
		}
	}()

	key := store.collection + "/" + id
	if !s.emit(ctx, store.current(ctx, id)) {
		return
	}
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.emit(ctx, repository.DocumentEvent{Err: unavailable("wait for notification", err)})
			}
			return
		}
		if n.Payload != key {
			continue
		}
		if !s.emit(ctx, store.current(ctx, id)) {
			return
		}
	}
}

// emit reports false once ctx is done, without delivering ev.
func (s *subscription) emit(ctx context.Context, ev repository.DocumentEvent) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *DocumentStore) current(ctx context.Context, id string) repository.DocumentEvent {
	doc, err := s.Get(ctx, id)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return repository.DocumentEvent{}
	case err != nil:
		return repository.DocumentEvent{Err: err}
	}
	return repository.DocumentEvent{Doc: doc, Exists: true}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errs.ErrRemoteUnavailable, err)
}
