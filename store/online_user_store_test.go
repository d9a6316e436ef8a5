package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api/models"
)

var onlineUserCols = []string{
	"id", "browser_id", "user_type", "customer_id", "ip_address", "user_agent", "source", "page_url",
	"session_history", "session_phases", "ip_history", "total_page_views", "guest_page_views",
	"customer_page_views", "login_time", "last_activity", "created_at",
}

const (
	selectForUpdate = `SELECT .* FROM online_users WHERE browser_id = \$1 FOR UPDATE`
	insertOnline    = `INSERT INTO online_users`
	updateOnline    = `UPDATE online_users SET`
	evictOnline     = `DELETE FROM online_users WHERE user_type = 'customer' AND customer_id = \$1 AND browser_id <> \$2`
)

func setupOnlineUserStore(t *testing.T) (sqlmock.Sqlmock, *OnlineUserStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, NewOnlineUserStore(db)
}

func guestRow(browserID string, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(onlineUserCols).AddRow(
		int64(5), browserID, "guest", nil, "10.0.0.1", "Mozilla/5.0", "web", "/home",
		[]byte(`[{"url":"/home","referrer":"/home","browsingPhase":"guest","timestamp":"2026-01-01T10:00:00Z"}]`),
		[]byte(`[{"phase":"guest","startTime":"2026-01-01T10:00:00Z","endTime":null,"pageViews":1}]`),
		[]byte(`[]`),
		int64(1), int64(1), int64(0), nil, at, at,
	)
}

func newGuestWrite(at time.Time) models.SessionWrite {
	return models.SessionWrite{
		Row: &models.OnlineUser{
			UserType:       models.UserTypeGuest,
			Source:         models.SourceWeb,
			TotalPageViews: 1,
			GuestPageViews: 1,
			LastActivity:   at,
			CreatedAt:      at,
		},
		Insert: true,
	}
}

func TestOnlineUserStore_Merge_CreatesRow(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnRows(sqlmock.NewRows(onlineUserCols))
	mock.ExpectQuery(insertOnline).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	var seen *models.OnlineUser
	row, err := s.Merge(context.Background(), "bid-12345", func(cur *models.OnlineUser) (models.SessionWrite, error) {
		seen = cur
		return newGuestWrite(at), nil
	})

	require.NoError(t, err)
	assert.Nil(t, seen)
	assert.Equal(t, int64(7), row.ID)
	assert.Equal(t, "bid-12345", row.BrowserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_Merge_UpdatesExistingRow(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnRows(guestRow("bid-12345", at))
	mock.ExpectExec(updateOnline).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	row, err := s.Merge(context.Background(), "bid-12345", func(cur *models.OnlineUser) (models.SessionWrite, error) {
		require.NotNil(t, cur)
		require.Len(t, cur.SessionHistory, 1)
		require.Len(t, cur.SessionPhases, 1)
		assert.Nil(t, cur.SessionPhases[0].EndTime)
		next := cur.Clone()
		next.TotalPageViews++
		next.GuestPageViews++
		return models.SessionWrite{Row: next}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(5), row.ID)
	assert.Equal(t, int64(2), row.TotalPageViews)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_Merge_EvictsOtherCustomerSessions(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnRows(guestRow("bid-12345", at))
	mock.ExpectExec(evictOnline).WithArgs(int64(42), "bid-12345").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateOnline).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := s.Merge(context.Background(), "bid-12345", func(cur *models.OnlineUser) (models.SessionWrite, error) {
		next := cur.Clone()
		next.UserType = models.UserTypeCustomer
		next.CustomerID = 42
		return models.SessionWrite{Row: next, EvictCustomerID: 42}, nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_Merge_LostCreateRetriesAsUpdate(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnRows(sqlmock.NewRows(onlineUserCols))
	mock.ExpectQuery(insertOnline).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnRows(guestRow("bid-12345", at))
	mock.ExpectExec(updateOnline).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	row, err := s.Merge(context.Background(), "bid-12345", func(cur *models.OnlineUser) (models.SessionWrite, error) {
		calls++
		if cur == nil {
			return newGuestWrite(at), nil
		}
		return models.SessionWrite{Row: cur.Clone()}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(5), row.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_Merge_RetriesDeadlock(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnError(&pq.Error{Code: pqDeadlockDetected})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnRows(sqlmock.NewRows(onlineUserCols))
	mock.ExpectQuery(insertOnline).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	_, err := s.Merge(context.Background(), "bid-12345", func(*models.OnlineUser) (models.SessionWrite, error) {
		return newGuestWrite(at), nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_Merge_FuncErrorIsNotRetried(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnRows(sqlmock.NewRows(onlineUserCols))
	mock.ExpectRollback()

	_, err := s.Merge(context.Background(), "bid-12345", func(*models.OnlineUser) (models.SessionWrite, error) {
		return models.SessionWrite{}, boom
	})

	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_Merge_GivesUpAfterMaxAttempts(t *testing.T) {
	mock, s := setupOnlineUserStore(t)

	for i := 0; i < maxMergeAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).WillReturnError(&pq.Error{Code: pqSerializationFailure})
		mock.ExpectRollback()
	}

	_, err := s.Merge(context.Background(), "bid-12345", func(*models.OnlineUser) (models.SessionWrite, error) {
		t.Fatal("fn must not run when the read fails")
		return models.SessionWrite{}, nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_CountActiveSince(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	since := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT\s+COUNT\(\*\) FILTER`).WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"guests", "customers"}).AddRow(int64(3), int64(2)))

	guests, customers, err := s.CountActiveSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(3), guests)
	assert.Equal(t, int64(2), customers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_GetByBrowserID_Missing(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	mock.ExpectQuery(`SELECT .* FROM online_users WHERE browser_id = \$1`).WithArgs("nope-1234").
		WillReturnRows(sqlmock.NewRows(onlineUserCols))

	row, err := s.GetByBrowserID(context.Background(), "nope-1234")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestOnlineUserStore_Merge_SkipWritesNothing(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnRows(guestRow("bid-12345", at))
	mock.ExpectCommit()

	row, err := s.Merge(context.Background(), "bid-12345", func(*models.OnlineUser) (models.SessionWrite, error) {
		return models.SessionWrite{Skip: true}, nil
	})

	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(5), row.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_Merge_DeletesRow(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("bid-12345").WillReturnRows(guestRow("bid-12345", at))
	mock.ExpectExec(`DELETE FROM online_users WHERE browser_id = \$1`).WithArgs("bid-12345").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	row, err := s.Merge(context.Background(), "bid-12345", func(*models.OnlineUser) (models.SessionWrite, error) {
		return models.SessionWrite{Delete: true}, nil
	})

	require.NoError(t, err)
	assert.Nil(t, row)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnlineUserStore_GetByBrowserID(t *testing.T) {
	mock, s := setupOnlineUserStore(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM online_users WHERE browser_id = \$1`).WithArgs("bid-12345").
		WillReturnRows(guestRow("bid-12345", at))

	row, err := s.GetByBrowserID(context.Background(), "bid-12345")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.UserTypeGuest, row.UserType)
	require.Len(t, row.SessionHistory, 1)
	assert.Equal(t, "/home", row.SessionHistory[0].URL)
}
