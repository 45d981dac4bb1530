package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godilite/valuation-server/internal/repository/models"
)

func TestSoftDeleteRollsBackOnCascadeFailure(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
	}{
		{
			name: "opportunities update fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE opportunities SET deleted_at`).
					WithArgs(formatTime(at), "ev-1").
					WillReturnError(errors.New("disk I/O error"))
				mock.ExpectRollback()
			},
		},
		{
			name: "progress update fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE opportunities SET deleted_at`).
					WillReturnResult(sqlmock.NewResult(0, 2))
				mock.ExpectExec(`UPDATE improvement_progress SET deleted_at`).
					WillReturnError(errors.New("database is locked"))
				mock.ExpectRollback()
			},
		},
		{
			name: "commit fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE opportunities SET deleted_at`).
					WillReturnResult(sqlmock.NewResult(0, 2))
				mock.ExpectExec(`UPDATE improvement_progress SET deleted_at`).
					WillReturnResult(sqlmock.NewResult(0, 2))
				mock.ExpectCommit().WillReturnError(errors.New("commit aborted"))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE evaluations SET deleted_at`).
				WithArgs(formatTime(at), "alice", "ev-1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			tc.expect(mock)

			repo := NewEvaluationRepository(db)
			err = repo.SoftDeleteEvaluation(context.Background(), "ev-1", "alice", at)

			assert.ErrorIs(t, err, models.ErrCascade)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSoftDeleteBeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	repo := NewEvaluationRepository(db)
	err = repo.SoftDeleteEvaluation(context.Background(), "ev-1", "alice", time.Now())

	assert.ErrorIs(t, err, models.ErrCascade)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeRoundTrip(t *testing.T) {
	in := time.Date(2025, 3, 1, 9, 0, 0, 120, time.FixedZone("x", 3600))

	out, err := parseTime(formatTime(in))
	require.NoError(t, err)
	assert.True(t, in.Equal(out))

	early, late := formatTime(in), formatTime(in.Add(time.Nanosecond*880))
	assert.Less(t, early, late, "fixed-width timestamps sort lexically")

	none, err := parseNullTime(formatNullTime(nil))
	require.NoError(t, err)
	assert.Nil(t, none)
}
