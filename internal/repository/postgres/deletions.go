package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Deletion request states.
const (
	DeletionPending   = "pending"
	DeletionProcessed = "processed"
)

// DeletionRepository tracks user-initiated account deletion requests.
type DeletionRepository struct {
	db *sql.DB
}

// NewDeletionRepository creates a repository over db.
func NewDeletionRepository(db *sql.DB) *DeletionRepository {
	return &DeletionRepository{db: db}
}

// Create opens a pending request for userID and returns its id.
func (r *DeletionRepository) Create(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO deletion_requests (user_id) VALUES ($1) RETURNING id`, userID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create deletion request: %w", err)
	}
	return id, nil
}

// MarkProcessed sets the request to processed. Unknown ids yield ErrNotFound.
func (r *DeletionRepository) MarkProcessed(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE deletion_requests SET status = $2, processed_at = now() WHERE id = $1`, id, DeletionProcessed,
	)
	if err != nil {
		return fmt.Errorf("failed to process deletion request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to process deletion request: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
