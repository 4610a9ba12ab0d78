// Package convert maps profiles to and from their remote document form.
package convert

import (
	"time"

	"github.com/and161185/profilesync/internal/model"
	"github.com/and161185/profilesync/internal/repository"
)

// Remote document field names.
const (
	FieldID              = "id"
	FieldFirstName       = "firstName"
	FieldLastName        = "lastName"
	FieldEmail           = "email"
	FieldProfileImageURL = "profileImageURL"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
)

// ToRemote projects a profile into its mirror. Inline image bytes are dropped.
func ToRemote(p model.Profile) model.Mirror {
	url, _ := p.Image.URL()
	return model.Mirror{
		ID:              p.ID,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Email:           p.Email,
		ProfileImageURL: url,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// ToDocument renders a mirror as a document. profileImageURL is omitted when empty.
func ToDocument(m model.Mirror) repository.Document {
	doc := repository.Document{
		FieldID:        m.ID,
		FieldFirstName: m.FirstName,
		FieldLastName:  m.LastName,
		FieldEmail:     m.Email,
		FieldCreatedAt: m.CreatedAt,
		FieldUpdatedAt: m.UpdatedAt,
	}
	if m.ProfileImageURL != "" {
		doc[FieldProfileImageURL] = m.ProfileImageURL
	}
	return doc
}

// FromRemote validates a document. ok is false when a required field is missing or mistyped.
// Unknown fields are ignored.
func FromRemote(doc repository.Document) (m model.Mirror, ok bool) {
	if doc == nil {
		return model.Mirror{}, false
	}
	var okID, okFirst, okLast, okEmail, okCreated, okUpdated bool
	m.ID, okID = doc[FieldID].(string)
	m.FirstName, okFirst = doc[FieldFirstName].(string)
	m.LastName, okLast = doc[FieldLastName].(string)
	m.Email, okEmail = doc[FieldEmail].(string)
	m.CreatedAt, okCreated = timestamp(doc[FieldCreatedAt])
	m.UpdatedAt, okUpdated = timestamp(doc[FieldUpdatedAt])
	if !(okID && okFirst && okLast && okEmail && okCreated && okUpdated) || m.ID == "" {
		return model.Mirror{}, false
	}
	// optional; a mistyped value is treated as absent
	m.ProfileImageURL, _ = doc[FieldProfileImageURL].(string)
	return m, true
}

func timestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), !t.IsZero()
	default:
		return time.Time{}, false
	}
}

// IsNewerThan reports whether the mirror wins over the local record. Ties keep the local record.
func IsNewerThan(m model.Mirror, p model.Profile) bool {
	return m.UpdatedAt.After(p.UpdatedAt)
}

// ApplyToRecord overwrites the record's mutable fields from m and marks it synced at now.
// A missing remote URL leaves the local image alone, since inline images never leave the device.
func ApplyToRecord(m model.Mirror, p *model.Profile, now time.Time) {
	p.FirstName = m.FirstName
	p.LastName = m.LastName
	p.Email = m.Email
	if m.ProfileImageURL != "" {
		p.Image = model.ImageAt(m.ProfileImageURL)
	}
	p.UpdatedAt = m.UpdatedAt.UTC()
	p.MarkSynced(now)
}

// NewRecord builds a local record for a mirror that has no local counterpart yet.
// Such a record is already in sync.
func NewRecord(m model.Mirror, now time.Time) model.Profile {
	p := model.Profile{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		Image:     model.ImageAt(m.ProfileImageURL),
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	p.MarkSynced(now)
	return p
}
