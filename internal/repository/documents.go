package repository

import "context"

// Document is a remote document as a field map. Timestamps are time.Time values.
type Document map[string]any

// DocumentEvent is one delivery of a subscription: the current document, its absence, or an error.
type DocumentEvent struct {
	Doc    Document
	Exists bool
	Err    error
}

// Subscription is a standing change feed for one document.
type Subscription interface {
	// Events is closed once the subscription ends.
	Events() <-chan DocumentEvent
	// Close cancels the feed and waits for it to release its resources.
	Close() error
}

// DocumentStore is a keyed remote document store.
type DocumentStore interface {
	// Get reads a document. Returns errs.ErrNotFound if absent.
	Get(ctx context.Context, id string) (Document, error)
	// Merge writes fields into the document, keeping fields not named. Creates it if missing.
	Merge(ctx context.Context, id string, fields Document) error
	// Subscribe opens a change feed. The first event reflects the current state.
	Subscribe(ctx context.Context, id string) (Subscription, error)
}
