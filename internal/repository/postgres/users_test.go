package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, *UserRepository, *DeletionRepository) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return mock, NewUserRepository(db), NewDeletionRepository(db)
}

func TestUserRepository_Upsert(t *testing.T) {
	mock, users, _ := newMock(t)

	mock.ExpectExec(`INSERT INTO users .* ON CONFLICT \(google_sub\) DO UPDATE`).
		WithArgs("sub-1", "jane@example.com", "Jane", "https://example.com/p.png").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := users.Upsert(context.Background(), User{
		Sub:     "sub-1",
		Email:   "jane@example.com",
		Name:    "Jane",
		Picture: "https://example.com/p.png",
	})
	require.NoError(t, err)
}

func TestUserRepository_UpsertError(t *testing.T) {
	mock, users, _ := newMock(t)

	mock.ExpectExec(`INSERT INTO users`).WillReturnError(errors.New("connection refused"))

	err := users.Upsert(context.Background(), User{Sub: "sub-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert user")
}

func TestUserRepository_FindIDBySub(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(sqlmock.Sqlmock)
		want    int64
		wantErr error
	}{
		{
			name: "found",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT id FROM users WHERE google_sub = \$1`).
					WithArgs("sub-1").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
			},
			want: 42,
		},
		{
			name: "not found",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT id FROM users`).
					WithArgs("sub-1").
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, users, _ := newMock(t)
			tt.setup(mock)

			id, err := users.FindIDBySub(context.Background(), "sub-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestUserRepository_RecordAcceptance(t *testing.T) {
	mock, users, _ := newMock(t)

	mock.ExpectExec(`UPDATE users SET privacy_version = \$2`).
		WithArgs("sub-1", "PP-1.0.0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET terms_version = \$2`).
		WithArgs("sub-unknown", "TOS-1.0.0").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, users.RecordAcceptance(ctx, "sub-1", DocumentPrivacy, "PP-1.0.0"))
	assert.ErrorIs(t, users.RecordAcceptance(ctx, "sub-unknown", DocumentTerms, "TOS-1.0.0"), ErrNotFound)
	assert.Error(t, users.RecordAcceptance(ctx, "sub-1", "cookies", "x"))
}

func TestDeletionRepository(t *testing.T) {
	mock, _, deletions := newMock(t)

	mock.ExpectQuery(`INSERT INTO deletion_requests \(user_id\) VALUES \(\$1\) RETURNING id`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(`UPDATE deletion_requests SET status = \$2, processed_at = now\(\) WHERE id = \$1`).
		WithArgs(int64(7), DeletionProcessed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE deletion_requests`).
		WithArgs(int64(8), DeletionProcessed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	id, err := deletions.Create(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	require.NoError(t, deletions.MarkProcessed(ctx, 7))
	assert.ErrorIs(t, deletions.MarkProcessed(ctx, 8), ErrNotFound)
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT 1`).WillReturnError(errors.New("down"))

	assert.NoError(t, Ping(context.Background(), db))
	assert.Error(t, Ping(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
