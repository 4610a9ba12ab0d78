// Package firestore implements the remote document store on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/profilesync/internal/errs"
	"github.com/and161185/profilesync/internal/repository"
)

// Store keeps one collection of documents keyed by identity id.
type Store struct {
	client     *firestore.Client
	collection string
	log        *zap.Logger
}

var _ repository.DocumentStore = (*Store)(nil)

// Open connects to the project's default database. An empty credentialsFile uses
// application default credentials.
func Open(ctx context.Context, projectID, credentialsFile, collection string, log *zap.Logger) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return New(client, collection, log), nil
}

// New wraps an existing client.
func New(client *firestore.Client, collection string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, collection: collection, log: log}
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

// Get reads a document.
func (s *Store) Get(ctx context.Context, id string) (repository.Document, error) {
	if id == "" {
		return nil, fmt.Errorf("get: empty id: %w", errs.ErrValidation)
	}
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		return nil, classify("get", err)
	}
	if !snap.Exists() {
		return nil, errs.ErrNotFound
	}
	return snap.Data(), nil
}

// Merge writes fields into the document with merge semantics.
func (s *Store) Merge(ctx context.Context, id string, fields repository.Document) error {
	if id == "" {
		return fmt.Errorf("merge: empty id: %w", errs.ErrValidation)
	}
	// MergeAll only accepts a plain map
	if _, err := s.doc(id).Set(ctx, map[string]any(fields), firestore.MergeAll); err != nil {
		return classify("merge", err)
	}
	return nil
}

// Subscribe opens a snapshot listener on the document.
func (s *Store) Subscribe(ctx context.Context, id string) (repository.Subscription, error) {
	if id == "" {
		return nil, fmt.Errorf("subscribe: empty id: %w", errs.ErrValidation)
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan repository.DocumentEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(ctx, &snapshotFeed{it: s.doc(id).Snapshots(ctx)}, s.log.With(zap.String("id", id)))
	return sub, nil
}

// snapshots is the part of the snapshot iterator a subscription consumes.
type snapshots interface {
	Next() (exists bool, data map[string]any, err error)
	Stop()
}

type snapshotFeed struct{ it *firestore.DocumentSnapshotIterator }

func (f *snapshotFeed) Next() (bool, map[string]any, error) {
	snap, err := f.it.Next()
	if err != nil {
		return false, nil, err
	}
	if !snap.Exists() {
		return false, nil, nil
	}
	return true, snap.Data(), nil
}

func (f *snapshotFeed) Stop() { f.it.Stop() }

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

func (s *subscription) run(ctx context.Context, feed snapshots, log *zap.Logger) {
	defer close(s.done)
	defer close(s.events)
	defer feed.Stop()

	for {
		exists, data, err := feed.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return
			}
			log.Warn("snapshot listener", zap.Error(err))
			// the iterator keeps returning the same error once it failed
			s.emit(ctx, repository.DocumentEvent{Err: classify("listen", err)})
			return
		}
		ev := repository.DocumentEvent{Exists: exists}
		if exists {
			ev.Doc = data
		}
		if !s.emit(ctx, ev) {
			return
		}
	}
}

func (s *subscription) emit(ctx context.Context, ev repository.DocumentEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// classify maps Firestore errors onto the store error taxonomy.
func classify(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return errs.ErrNotFound
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %w", op, errs.ErrValidation, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%s: %w: %w", op, errs.ErrUnauthorized, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, errs.ErrRemoteUnavailable, err)
}
