// Package session resolves the signed-in user's profile and drives the sync engine from
// identity events.
package session

import (
	"sync"

	"github.com/and161185/profilesync/internal/model"
)

// Context holds the state of the current session. It is created when the application starts
// and reset on sign-out.
type Context struct {
	mu       sync.RWMutex
	identity string
	current  *model.Profile
	lastErr  error
}

// NewContext returns an empty, signed-out session.
func NewContext() *Context { return &Context{} }

// Identity returns the signed-in identity id, or "" when signed out.
func (c *Context) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Current returns a copy of the resolved profile.
func (c *Context) Current() (model.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return model.Profile{}, false
	}
	return c.current.Clone(), true
}

// LastError returns the most recent background failure (listener or deferred push).
func (c *Context) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// RecordListenerError stores err if it concerns the signed-in identity.
// It matches the sync engine's listener error callback.
func (c *Context) RecordListenerError(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.identity {
		c.lastErr = err
	}
}

func (c *Context) begin(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
	c.current = nil
	c.lastErr = nil
}

func (c *Context) setCurrent(p *model.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == "" {
		c.identity = p.ID
	}
	if p.ID != c.identity {
		return
	}
	cp := p.Clone()
	c.current = &cp
}

func (c *Context) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
}

func (c *Context) reset() {
	c.begin("")
}
