package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Documents a user can accept.
const (
	DocumentPrivacy = "privacy"
	DocumentTerms   = "terms"
)

// User is a signed-in Google account.
type User struct {
	ID      int64
	Sub     string
	Email   string
	Name    string
	Picture string
}

// UserRepository reads and writes the users table.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a repository over db.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert inserts the user or refreshes the profile fields of an existing one,
// keyed by Google subject.
func (r *UserRepository) Upsert(ctx context.Context, u User) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	query := `INSERT INTO users (google_sub, email, name, picture)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (google_sub) DO UPDATE
			  SET email = EXCLUDED.email, name = EXCLUDED.name, picture = EXCLUDED.picture, updated_at = now()`

	if _, err := r.db.ExecContext(ctx, query, u.Sub, u.Email, u.Name, u.Picture); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// FindIDBySub returns the row id for a Google subject.
func (r *UserRepository) FindIDBySub(ctx context.Context, sub string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM users WHERE google_sub = $1`, sub).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find user: %w", err)
	}
	return id, nil
}

// RecordAcceptance stores the accepted version of a legal document.
func (r *UserRepository) RecordAcceptance(ctx context.Context, sub, document, version string) error {
	var query string
	switch document {
	case DocumentPrivacy:
		query = `UPDATE users SET privacy_version = $2, privacy_accepted_at = now(), updated_at = now() WHERE google_sub = $1`
	case DocumentTerms:
		query = `UPDATE users SET terms_version = $2, terms_accepted_at = now(), updated_at = now() WHERE google_sub = $1`
	default:
		return fmt.Errorf("unknown document %q", document)
	}

	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, sub, version)
	if err != nil {
		return fmt.Errorf("failed to record acceptance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
