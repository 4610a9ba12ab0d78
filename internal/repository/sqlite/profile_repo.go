package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/and161185/profilesync/internal/errs"
	"github.com/and161185/profilesync/internal/model"
	"github.com/and161185/profilesync/internal/repository"
)

// ProfileRepo implements repository.ProfileRepository on SQLite.
type ProfileRepo struct{ db *DB }

var _ repository.ProfileRepository = (*ProfileRepo)(nil)

// NewProfileRepo constructs a profile repository.
func NewProfileRepo(db *DB) *ProfileRepo { return &ProfileRepo{db: db} }

const profileCols = `id, first_name, last_name, email, image_kind, image_data, image_url,
	created_at, updated_at, last_synced_at, needs_sync`

// Insert stores a new record as given.
func (r *ProfileRepo) Insert(ctx context.Context, p *model.Profile) error {
	kind, data, url := imageCols(p.Image)
	_, err := r.db.SQL.ExecContext(ctx,
		`INSERT INTO profiles (`+profileCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.FirstName, p.LastName, p.Email, kind, data, url,
		nanos(p.CreatedAt), nanos(p.UpdatedAt), nullNanos(p.LastSyncedAt), p.NeedsSync)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get loads a record by id.
func (r *ProfileRepo) Get(ctx context.Context, id string) (*model.Profile, error) {
	row := r.db.SQL.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = ?`, id)
	return scanOne(row)
}

// GetByEmail loads the first record by last/first name order with the given e-mail.
func (r *ProfileRepo) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	row := r.db.SQL.QueryRowContext(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE email = ? ORDER BY last_name, first_name, id LIMIT 1`, email)
	return scanOne(row)
}

// List returns records matching f ordered by last name, first name.
func (r *ProfileRepo) List(ctx context.Context, f repository.ProfileFilter) ([]model.Profile, error) {
	var (
		where []string
		args  []any
	)
	if f.PendingOnly {
		where = append(where, "needs_sync = 1")
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pat := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(lower(first_name) LIKE ? ESCAPE '\' OR lower(last_name) LIKE ? ESCAPE '\' OR lower(email) LIKE ? ESCAPE '\')`)
		args = append(args, pat, pat, pat)
	}
	query := `SELECT ` + profileCols + ` FROM profiles`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY last_name, first_name, id`

	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Save overwrites an existing record. created_at is never rewritten.
func (r *ProfileRepo) Save(ctx context.Context, p *model.Profile) error {
	kind, data, url := imageCols(p.Image)
	res, err := r.db.SQL.ExecContext(ctx, `
		UPDATE profiles SET first_name = ?, last_name = ?, email = ?,
			image_kind = ?, image_data = ?, image_url = ?,
			updated_at = ?, last_synced_at = ?, needs_sync = ?
		WHERE id = ?`,
		p.FirstName, p.LastName, p.Email, kind, data, url,
		nanos(p.UpdatedAt), nullNanos(p.LastSyncedAt), p.NeedsSync, p.ID)
	if err != nil {
		return err
	}
	return expectOne(res, errs.ErrNotFound)
}

// SetSynced clears needs_sync only if updated_at still equals expect.
func (r *ProfileRepo) SetSynced(ctx context.Context, id string, expect, syncedAt time.Time) error {
	res, err := r.db.SQL.ExecContext(ctx,
		`UPDATE profiles SET last_synced_at = ?, needs_sync = 0 WHERE id = ? AND updated_at = ?`,
		nanos(syncedAt), id, nanos(expect))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = r.db.SQL.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}
	if err != nil {
		return err
	}
	return errs.ErrVersionConflict
}

// Delete removes a record.
func (r *ProfileRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.SQL.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res, errs.ErrNotFound)
}

type scanner interface{ Scan(dest ...any) error }

func scanOne(row *sql.Row) (*model.Profile, error) {
	p, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return p, err
}

func scan(s scanner) (*model.Profile, error) {
	var (
		p                model.Profile
		kind             model.ImageKind
		data             []byte
		url              sql.NullString
		created, updated int64
		synced           sql.NullInt64
	)
	if err := s.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &kind, &data, &url,
		&created, &updated, &synced, &p.NeedsSync); err != nil {
		return nil, err
	}
	switch kind {
	case model.ImageInline:
		p.Image = model.InlineImage(data)
	case model.ImageURL:
		p.Image = model.ImageAt(url.String)
	}
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	if synced.Valid {
		at := fromNanos(synced.Int64)
		p.LastSyncedAt = &at
	}
	return &p, nil
}

func imageCols(img model.ProfileImage) (model.ImageKind, []byte, sql.NullString) {
	data, _ := img.Data()
	url, ok := img.URL()
	return img.Kind(), data, sql.NullString{String: url, Valid: ok}
}

func expectOne(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
