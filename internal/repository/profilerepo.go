// Package repository declares storage contracts for local profiles and the remote document store.
package repository

import (
	"context"
	"time"

	"github.com/and161185/profilesync/internal/model"
)

// ProfileFilter narrows List results.
type ProfileFilter struct {
	PendingOnly bool   // only records with NeedsSync
	Query       string // case-insensitive substring of first name, last name or email
}

// ProfileRepository persists local profile records.
type ProfileRepository interface {
	// Insert stores a new record as given. Returns errs.ErrAlreadyExists on duplicate id.
	Insert(ctx context.Context, p *model.Profile) error
	// Get loads a record by id. Returns errs.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*model.Profile, error)
	// GetByEmail loads a record by e-mail. Returns errs.ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*model.Profile, error)
	// List returns records ordered by last name, first name.
	List(ctx context.Context, f ProfileFilter) ([]model.Profile, error)
	// Save overwrites every stored field of an existing record.
	Save(ctx context.Context, p *model.Profile) error
	// SetSynced clears needs_sync if updated_at still equals expect. Returns errs.ErrVersionConflict otherwise.
	SetSynced(ctx context.Context, id string, expect, syncedAt time.Time) error
	// Delete removes a record by id.
	Delete(ctx context.Context, id string) error
}
