package ledger

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewRepository(db), mock
}

var (
	insertEntry  = regexp.QuoteMeta("INSERT INTO ledger_entries")
	upsertTotals = regexp.QuoteMeta("INSERT INTO user_rewards")
)

func plantationReward() Reward {
	return Reward{
		SubmissionID: "p-1",
		UserID:       "user-7",
		Kind:         "plantation",
		Credits:      5.55,
		Points:       50,
	}
}

func TestApplyReward_CreditsOnce(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertEntry).
		WithArgs(sqlmock.AnyArg(), "p-1", "user-7", "plantation", 5.55, 50, "", `{}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsertTotals).
		WithArgs("user-7", 5.55, 50, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := repo.ApplyReward(ctx, plantationReward())
	require.NoError(t, err)
	assert.True(t, applied)

	// The entry already exists: the insert is a no-op and the totals are not touched.
	mock.ExpectBegin()
	mock.ExpectExec(insertEntry).
		WithArgs(sqlmock.AnyArg(), "p-1", "user-7", "plantation", 5.55, 50, "", `{}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	applied, err = repo.ApplyReward(ctx, plantationReward())
	require.NoError(t, err)
	assert.False(t, applied)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReward_RollsBackWhenTotalsFail(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertEntry).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsertTotals).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	applied, err := repo.ApplyReward(context.Background(), plantationReward())
	assert.ErrorContains(t, err, "failed to update user rewards")
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReward_InsertError(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertEntry).WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, err := repo.ApplyReward(context.Background(), plantationReward())
	assert.ErrorContains(t, err, "failed to insert ledger entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReward_InvalidRewardNeverReachesTheDatabase(t *testing.T) {
	repo, mock := newMockRepository(t)

	_, err := repo.ApplyReward(context.Background(), Reward{SubmissionID: "c-1"})
	assert.ErrorIs(t, err, ErrInvalidReward)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserRewards(t *testing.T) {
	repo, mock := newMockRepository(t)
	query := regexp.QuoteMeta(`SELECT * FROM "user_rewards" WHERE user_id = $1`)

	mock.ExpectQuery(query).WillReturnRows(
		sqlmock.NewRows([]string{"user_id", "credits_earned", "points", "submissions", "updated_at"}).
			AddRow("user-7", 7.55, 70, 2, time.Now()))

	totals, err := repo.GetUserRewards(context.Background(), "user-7")
	require.NoError(t, err)
	assert.Equal(t, 7.55, totals.CreditsEarned)
	assert.Equal(t, 70, totals.Points)
	assert.Equal(t, 2, totals.Submissions)

	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	totals, err = repo.GetUserRewards(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.Equal(t, &UserRewards{UserID: "newcomer"}, totals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntry(t *testing.T) {
	repo, mock := newMockRepository(t)
	query := regexp.QuoteMeta(`SELECT * FROM "ledger_entries" WHERE submission_id = $1`)

	mock.ExpectQuery(query).WillReturnRows(
		sqlmock.NewRows([]string{"id", "submission_id", "user_id", "kind", "credits", "points"}).
			AddRow("5f0c1f8e-8d7e-4a53-9b8a-3c1f7e2d9a10", "p-1", "user-7", "plantation", 5.55, 50))

	entry, err := repo.GetEntry(context.Background(), "p-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "p-1", entry.SubmissionID)
	assert.Equal(t, 5.55, entry.Credits)

	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	entry, err = repo.GetEntry(context.Background(), "c-9")
	require.NoError(t, err)
	assert.Nil(t, entry)

	mock.ExpectQuery(query).WillReturnError(errors.New("pq: relation does not exist"))
	_, err = repo.GetEntry(context.Background(), "c-9")
	assert.ErrorContains(t, err, "failed to get ledger entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}
