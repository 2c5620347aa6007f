package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/confluence-sentinel/internal/domain"
)

func newMockRepo(t *testing.T) (*AlertRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	return &AlertRepo{db: sqlxDB, timeout: 5 * time.Second}, mock
}

func testAlert() domain.Alert {
	return domain.Alert{
		ID:              "BTCUSDT-SHORT_SQUEEZE-1700000000000",
		Symbol:          "BTCUSDT",
		SetupType:       domain.ShortSqueeze,
		Severity:        domain.SeverityHigh,
		Title:           "Short squeeze forming",
		Description:     "Funding elevated with rising OI",
		Signals:         []string{"funding_elevated", "oi_rising"},
		ConfluenceScore: 82,
		Timestamp:       1700000000000,
	}
}

func TestAlertRepo_InsertUsesOnConflictDoNothing(t *testing.T) {
	repo, mock := newMockRepo(t)
	alert := testAlert()

	mock.ExpectExec("INSERT INTO confluence_alerts").
		WithArgs(alert.ID, alert.Symbol, string(alert.SetupType), string(alert.Severity),
			alert.Title, alert.Description, sqlmock.AnyArg(), alert.ConfluenceScore,
			alert.Timestamp, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), alert)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_InsertPropagatesDriverError(t *testing.T) {
	repo, mock := newMockRepo(t)
	alert := testAlert()

	mock.ExpectExec("INSERT INTO confluence_alerts").
		WillReturnError(assertDriverErr{})

	err := repo.Insert(context.Background(), alert)

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_ExistsReturnsScannedValue(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("BTCUSDT-SHORT_SQUEEZE-1700000000000").WillReturnRows(rows)

	exists, err := repo.Exists(context.Background(), "BTCUSDT-SHORT_SQUEEZE-1700000000000")

	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_PruneReturnsRowsAffected(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("DELETE FROM confluence_alerts").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	removed, err := repo.Prune(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_OperationsFailWhenDisconnected(t *testing.T) {
	repo := &AlertRepo{timeout: 5 * time.Second}

	_, err := repo.Exists(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = repo.Insert(context.Background(), testAlert())
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = repo.Prune(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAlertRepo_CloseOnDisconnectedRepoIsNoop(t *testing.T) {
	repo := &AlertRepo{timeout: 5 * time.Second}
	assert.NoError(t, repo.Close())
}

type assertDriverErr struct{}

func (assertDriverErr) Error() string { return "driver: insert failed" }
