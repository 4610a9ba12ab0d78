// Package model defines domain entities used by services, the sync engine and repositories.
package model

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Profile is the locally owned user profile together with its sync metadata.
type Profile struct {
	ID           string // identity provider uid, immutable
	FirstName    string
	LastName     string
	Email        string
	Image        ProfileImage
	CreatedAt    time.Time  // set once at creation
	UpdatedAt    time.Time  // bumped on every field mutation
	LastSyncedAt *time.Time // nil until the first successful sync
	NeedsSync    bool       // dirty flag
}

// NewProfile carries the fields required to create a profile record.
type NewProfile struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Image     ProfileImage
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Initials returns the upper-cased first letters of first and last name.
func (p Profile) Initials() string {
	var b strings.Builder
	for _, s := range []string{p.FirstName, p.LastName} {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		r, _ := utf8.DecodeRuneInString(s)
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Touch records a local mutation at now.
func (p *Profile) Touch(now time.Time) {
	p.UpdatedAt = now
	p.NeedsSync = true
}

// MarkSynced clears the dirty flag. LastSyncedAt is never earlier than UpdatedAt.
func (p *Profile) MarkSynced(now time.Time) {
	at := now
	if at.Before(p.UpdatedAt) {
		at = p.UpdatedAt
	}
	p.LastSyncedAt = &at
	p.NeedsSync = false
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := p
	out.Image = p.Image.clone()
	if p.LastSyncedAt != nil {
		at := *p.LastSyncedAt
		out.LastSyncedAt = &at
	}
	return out
}

// SyncState reports where the record stands with respect to the remote copy.
func (p Profile) SyncState() SyncState {
	switch {
	case p.NeedsSync:
		return SyncState{Kind: SyncPending}
	case p.LastSyncedAt != nil:
		return SyncState{Kind: SyncDone, At: *p.LastSyncedAt}
	default:
		return SyncState{Kind: SyncNever}
	}
}

// SyncKind enumerates sync states.
type SyncKind int

const (
	SyncNever SyncKind = iota
	SyncPending
	SyncDone
)

// SyncState is a SyncKind plus the time of the last sync when known.
type SyncState struct {
	Kind SyncKind
	At   time.Time
}

func (s SyncState) String() string {
	switch s.Kind {
	case SyncPending:
		return "pending"
	case SyncDone:
		return "synced at " + s.At.Local().Format("2006-01-02 15:04:05")
	default:
		return "never synced"
	}
}

// Mirror is the remote projection of a Profile. It never carries inline image data.
type Mirror struct {
	ID              string
	FirstName       string
	LastName        string
	Email           string
	ProfileImageURL string // empty when absent
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
