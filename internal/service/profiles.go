// Package service implements the local profile record store on top of a repository.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/profilesync/internal/errs"
	"github.com/and161185/profilesync/internal/model"
	"github.com/and161185/profilesync/internal/repository"
)

// ProfileService defines operations over local profile records.
type ProfileService interface {
	// Create stores a new dirty record stamped with the current time.
	Create(ctx context.Context, in model.NewProfile) (*model.Profile, error)
	// Insert stores a record exactly as given (used for records arriving from the remote store).
	Insert(ctx context.Context, p *model.Profile) error
	// FindByID returns errs.ErrNotFound if absent.
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	// FindByEmail returns errs.ErrNotFound if absent.
	FindByEmail(ctx context.Context, email string) (*model.Profile, error)
	// ListAll returns every record ordered by last name, then first name.
	ListAll(ctx context.Context) ([]model.Profile, error)
	// ListPending returns dirty records in ListAll order.
	ListPending(ctx context.Context) ([]model.Profile, error)
	// Search matches first name, last name or e-mail case-insensitively. Empty query lists all.
	Search(ctx context.Context, query string) ([]model.Profile, error)
	// Update persists p and stamps UpdatedAt and NeedsSync.
	Update(ctx context.Context, p *model.Profile) error
	// Replace persists p as given, sync metadata included.
	Replace(ctx context.Context, p *model.Profile) error
	// MarkSynced clears the dirty flag if the stored record still has p.UpdatedAt.
	MarkSynced(ctx context.Context, p *model.Profile) error
	// MarkDirty sets NeedsSync without touching UpdatedAt.
	MarkDirty(ctx context.Context, id string) (*model.Profile, error)
	// Delete removes a record.
	Delete(ctx context.Context, id string) error
}

// Now returns the current UTC time truncated to microseconds, the precision both
// remote backends keep.
func Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

type ProfileServiceImpl struct {
	repo repository.ProfileRepository
	now  func() time.Time
}

// NewProfileService constructs ProfileService. A nil clock means Now.
func NewProfileService(repo repository.ProfileRepository, clock func() time.Time) *ProfileServiceImpl {
	if clock == nil {
		clock = Now
	}
	return &ProfileServiceImpl{repo: repo, now: clock}
}

// Create validates input and inserts a new record.
func (s *ProfileServiceImpl) Create(ctx context.Context, in model.NewProfile) (*model.Profile, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	now := s.now()
	p := &model.Profile{
		ID:        in.ID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Image:     in.Image,
		CreatedAt: now,
		UpdatedAt: now,
		NeedsSync: true,
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Insert stores p unchanged.
func (s *ProfileServiceImpl) Insert(ctx context.Context, p *model.Profile) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	return s.repo.Insert(ctx, p)
}

func (s *ProfileServiceImpl) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	return s.repo.Get(ctx, id)
}

func (s *ProfileServiceImpl) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return s.repo.GetByEmail(ctx, strings.TrimSpace(email))
}

func (s *ProfileServiceImpl) ListAll(ctx context.Context) ([]model.Profile, error) {
	return s.repo.List(ctx, repository.ProfileFilter{})
}

func (s *ProfileServiceImpl) ListPending(ctx context.Context) ([]model.Profile, error) {
	return s.repo.List(ctx, repository.ProfileFilter{PendingOnly: true})
}

func (s *ProfileServiceImpl) Search(ctx context.Context, query string) ([]model.Profile, error) {
	return s.repo.List(ctx, repository.ProfileFilter{Query: query})
}

// Update stamps the record as locally modified and saves it. On error p is left untouched.
func (s *ProfileServiceImpl) Update(ctx context.Context, p *model.Profile) error {
	next := p.Clone()
	next.Touch(s.now())
	if err := s.repo.Save(ctx, &next); err != nil {
		return err
	}
	*p = next
	return nil
}

func (s *ProfileServiceImpl) Replace(ctx context.Context, p *model.Profile) error {
	return s.repo.Save(ctx, p)
}

// MarkSynced stamps LastSyncedAt. A concurrent edit since p was read yields errs.ErrVersionConflict
// and the stored record stays dirty.
func (s *ProfileServiceImpl) MarkSynced(ctx context.Context, p *model.Profile) error {
	next := p.Clone()
	next.MarkSynced(s.now())
	if err := s.repo.SetSynced(ctx, p.ID, p.UpdatedAt, *next.LastSyncedAt); err != nil {
		return err
	}
	*p = next
	return nil
}

func (s *ProfileServiceImpl) MarkDirty(ctx context.Context, id string) (*model.Profile, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.NeedsSync {
		return p, nil
	}
	p.NeedsSync = true
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProfileServiceImpl) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
