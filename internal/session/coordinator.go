package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/profilesync/internal/errs"
	"github.com/and161185/profilesync/internal/identity"
	"github.com/and161185/profilesync/internal/model"
	"github.com/and161185/profilesync/internal/service"
	"github.com/and161185/profilesync/internal/syncengine"
)

// Syncer is the part of the sync engine the coordinator drives.
type Syncer interface {
	Push(ctx context.Context, p *model.Profile) error
	Pull(ctx context.Context, id string) (syncengine.PullOutcome, error)
	Mutate(ctx context.Context, id string, fn func(p *model.Profile) bool) (*model.Profile, bool, error)
	StartListening(ctx context.Context, id string) error
	StopAll()
}

var _ Syncer = (*syncengine.Engine)(nil)

// SignUp is the data available right after an e-mail sign-up.
type SignUp struct {
	IdentityID string
	Email      string
	FirstName  string // optional, defaults to the e-mail local part
	LastName   string
}

// Federated is the data a federated (Google) sign-in yields.
type Federated struct {
	IdentityID  string
	Email       string
	DisplayName string
	PhotoURL    string
}

// ProfileEdit lists user edits; nil fields are left alone.
type ProfileEdit struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// Coordinator reacts to identity events and owns profile creation entry points.
type Coordinator struct {
	profiles service.ProfileService
	engine   Syncer
	sess     *Context
	log      *zap.Logger
}

// NewCoordinator wires a coordinator to its session context.
func NewCoordinator(profiles service.ProfileService, engine Syncer, sess *Context, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{profiles: profiles, engine: engine, sess: sess, log: log}
}

// Session returns the session context.
func (c *Coordinator) Session() *Context { return c.sess }

// Run applies auth state changes until ctx is done or states is closed, then stops listeners.
func (c *Coordinator) Run(ctx context.Context, states <-chan identity.AuthState) error {
	defer c.engine.StopAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-states:
			if !ok {
				return nil
			}
			if !st.SignedIn || st.IdentityID == "" {
				c.SignedOut()
				continue
			}
			if _, err := c.SignedIn(ctx, st.IdentityID); err != nil {
				c.log.Warn("resolve profile", zap.String("id", st.IdentityID), zap.Error(err))
			}
		}
	}
}

// SignedIn resolves the profile for id, locally or with one remote pull, and starts its
// listener. A nil profile with a nil error means no profile exists yet; a creation entry point
// fills it in. A listener setup failure does not fail the sign-in; it is kept as LastError.
func (c *Coordinator) SignedIn(ctx context.Context, id string) (*model.Profile, error) {
	if prev := c.sess.Identity(); prev != "" && prev != id {
		c.SignedOut()
	}
	if c.sess.Identity() != id {
		c.sess.begin(id)
	}

	p, err := c.profiles.FindByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		out, perr := c.engine.Pull(ctx, id)
		if perr != nil {
			c.sess.setError(perr)
			return nil, perr
		}
		c.log.Debug("pulled on sign-in", zap.String("id", id), zap.Stringer("outcome", out))
		p, err = c.profiles.FindByID(ctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, err
	}

	c.sess.setCurrent(p)
	c.listen(ctx, id)
	return p, nil
}

// SignedOut clears the current profile and stops every listener.
func (c *Coordinator) SignedOut() {
	c.engine.StopAll()
	c.sess.reset()
}

// CreateFromEmailSignUp creates the profile of a new e-mail account and pushes it.
// If the profile already exists it is returned unchanged.
//
// The profile is returned whenever it exists locally, even when err reports a failed push;
// such a record stays dirty and is retried by the next pending sync.
func (c *Coordinator) CreateFromEmailSignUp(ctx context.Context, in SignUp) (*model.Profile, error) {
	first := strings.TrimSpace(in.FirstName)
	if first == "" {
		first = DefaultFirstName(in.Email)
	}
	return c.create(ctx, model.NewProfile{
		ID:        in.IdentityID,
		FirstName: first,
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.TrimSpace(in.Email),
	})
}

// CreateOrUpdateFromFederated creates the profile on first federated sign-in. On later sign-ins
// it updates the fields the provider changed and pushes only if something did change.
func (c *Coordinator) CreateOrUpdateFromFederated(ctx context.Context, in Federated) (*model.Profile, error) {
	first, last := SplitDisplayName(in.DisplayName)
	email := strings.TrimSpace(in.Email)

	_, err := c.profiles.FindByID(ctx, in.IdentityID)
	if errors.Is(err, errs.ErrNotFound) {
		return c.create(ctx, model.NewProfile{
			ID:        in.IdentityID,
			FirstName: first,
			LastName:  last,
			Email:     email,
			Image:     model.ImageAt(in.PhotoURL),
		})
	}
	if err != nil {
		return nil, err
	}

	p, changed, err := c.engine.Mutate(ctx, in.IdentityID, func(p *model.Profile) bool {
		changed := false
		if first != "" && (p.FirstName != first || p.LastName != last) {
			p.FirstName, p.LastName = first, last
			changed = true
		}
		if email != "" && p.Email != email {
			p.Email = email
			changed = true
		}
		// a picture chosen on the device wins over the provider's
		if in.PhotoURL != "" && p.Image.Kind() != model.ImageInline && !p.Image.Equal(model.ImageAt(in.PhotoURL)) {
			p.Image = model.ImageAt(in.PhotoURL)
			changed = true
		}
		return changed
	})
	if err != nil {
		return nil, err
	}
	c.sess.setCurrent(p)
	c.listen(ctx, p.ID)
	if !changed {
		return p, nil
	}
	return p, c.push(ctx, p)
}

// EditProfile applies user edits to the signed-in profile and pushes them.
// As with creation, a failed push is reported while the saved profile is still returned.
func (c *Coordinator) EditProfile(ctx context.Context, edit ProfileEdit) (*model.Profile, error) {
	return c.edit(ctx, func(p *model.Profile) bool {
		changed := false
		for _, f := range []struct {
			dst *string
			src *string
		}{
			{&p.FirstName, edit.FirstName},
			{&p.LastName, edit.LastName},
			{&p.Email, edit.Email},
		} {
			if f.src == nil {
				continue
			}
			if v := strings.TrimSpace(*f.src); v != *f.dst {
				*f.dst = v
				changed = true
			}
		}
		return changed
	})
}

// SetProfileImage replaces the signed-in profile's image. Inline data and URL exclude each other.
func (c *Coordinator) SetProfileImage(ctx context.Context, img model.ProfileImage) (*model.Profile, error) {
	return c.edit(ctx, func(p *model.Profile) bool {
		if p.Image.Equal(img) {
			return false
		}
		p.Image = img
		return true
	})
}

func (c *Coordinator) edit(ctx context.Context, fn func(p *model.Profile) bool) (*model.Profile, error) {
	id := c.sess.Identity()
	if id == "" {
		return nil, errs.ErrUnauthorized
	}
	p, changed, err := c.engine.Mutate(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	c.sess.setCurrent(p)
	if !changed {
		return p, nil
	}
	return p, c.push(ctx, p)
}

func (c *Coordinator) create(ctx context.Context, in model.NewProfile) (*model.Profile, error) {
	p, err := c.profiles.Create(ctx, in)
	if errors.Is(err, errs.ErrAlreadyExists) {
		existing, ferr := c.profiles.FindByID(ctx, in.ID)
		if ferr != nil {
			return nil, ferr
		}
		c.sess.setCurrent(existing)
		c.listen(ctx, existing.ID)
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	c.sess.setCurrent(p)
	perr := c.push(ctx, p)
	c.listen(ctx, p.ID)
	return p, perr
}

func (c *Coordinator) push(ctx context.Context, p *model.Profile) error {
	if err := c.engine.Push(ctx, p); err != nil {
		c.sess.setError(err)
		return fmt.Errorf("profile saved locally, sync pending: %w", err)
	}
	c.sess.setCurrent(p)
	return nil
}

func (c *Coordinator) listen(ctx context.Context, id string) {
	if id != c.sess.Identity() {
		return
	}
	if err := c.engine.StartListening(ctx, id); err != nil {
		c.log.Warn("start listening", zap.String("id", id), zap.Error(err))
		c.sess.setError(err)
	}
}
