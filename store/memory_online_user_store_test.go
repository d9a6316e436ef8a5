package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api/models"
)

func customerWrite(customerID int64, insert bool) func(*models.OnlineUser) (models.SessionWrite, error) {
	return func(cur *models.OnlineUser) (models.SessionWrite, error) {
		row := cur.Clone()
		if row == nil {
			row = &models.OnlineUser{CreatedAt: time.Now()}
		}
		row.UserType = models.UserTypeCustomer
		row.CustomerID = customerID
		row.TotalPageViews++
		return models.SessionWrite{Row: row, Insert: insert, EvictCustomerID: customerID}, nil
	}
}

func TestMemoryOnlineUserStore_InsertAssignsID(t *testing.T) {
	s := NewMemoryOnlineUserStore()
	row, err := s.Merge(context.Background(), "bid-aaaaaaaa", customerWrite(1, true))
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.ID)
	assert.Equal(t, "bid-aaaaaaaa", row.BrowserID)

	row, err = s.Merge(context.Background(), "bid-aaaaaaaa", customerWrite(1, false))
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.ID)
	assert.Equal(t, int64(2), row.TotalPageViews)
}

func TestMemoryOnlineUserStore_InsertOverExistingFails(t *testing.T) {
	s := NewMemoryOnlineUserStore()
	_, err := s.Merge(context.Background(), "bid-aaaaaaaa", customerWrite(1, true))
	require.NoError(t, err)

	_, err = s.Merge(context.Background(), "bid-aaaaaaaa", customerWrite(1, true))
	require.ErrorIs(t, err, ErrBrowserExists)
}

func TestMemoryOnlineUserStore_EvictsOtherBrowsersOfCustomer(t *testing.T) {
	s := NewMemoryOnlineUserStore()
	ctx := context.Background()
	_, err := s.Merge(ctx, "bid-aaaaaaaa", customerWrite(9, true))
	require.NoError(t, err)
	_, err = s.Merge(ctx, "bid-cccccccc", customerWrite(10, true))
	require.NoError(t, err)

	_, err = s.Merge(ctx, "bid-bbbbbbbb", customerWrite(9, true))
	require.NoError(t, err)

	assert.Nil(t, s.Get("bid-aaaaaaaa"))
	assert.NotNil(t, s.Get("bid-bbbbbbbb"))
	assert.NotNil(t, s.Get("bid-cccccccc"))

	rows := s.List()
	require.Len(t, rows, 2)
	assert.Equal(t, "bid-bbbbbbbb", rows[0].BrowserID)
}

func TestMemoryOnlineUserStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryOnlineUserStore()
	row, err := s.Merge(context.Background(), "bid-aaaaaaaa", customerWrite(1, true))
	require.NoError(t, err)

	row.TotalPageViews = 100
	assert.Equal(t, int64(1), s.Get("bid-aaaaaaaa").TotalPageViews)
}

func TestMemoryOnlineUserStore_CanceledContext(t *testing.T) {
	s := NewMemoryOnlineUserStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Merge(ctx, "bid-aaaaaaaa", customerWrite(1, true))
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryOnlineUserStore_CountActiveSince(t *testing.T) {
	s := NewMemoryOnlineUserStore()
	ctx := context.Background()
	now := time.Now()
	write := func(ut models.UserType, at time.Time) func(*models.OnlineUser) (models.SessionWrite, error) {
		return func(*models.OnlineUser) (models.SessionWrite, error) {
			return models.SessionWrite{Row: &models.OnlineUser{UserType: ut, LastActivity: at}, Insert: true}, nil
		}
	}
	_, _ = s.Merge(ctx, "bid-aaaaaaaa", write(models.UserTypeGuest, now))
	_, _ = s.Merge(ctx, "bid-bbbbbbbb", write(models.UserTypeGuest, now.Add(-time.Hour)))
	_, _ = s.Merge(ctx, "bid-cccccccc", write(models.UserTypeCustomer, now))

	guests, customers, err := s.CountActiveSince(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), guests)
	assert.Equal(t, int64(1), customers)
}

func TestMemoryOnlineUserStore_SkipAndDelete(t *testing.T) {
	s := NewMemoryOnlineUserStore()
	ctx := context.Background()
	_, err := s.Merge(ctx, "bid-dddddddd", customerWrite(4, true))
	require.NoError(t, err)

	row, err := s.Merge(ctx, "bid-dddddddd", func(*models.OnlineUser) (models.SessionWrite, error) {
		return models.SessionWrite{Skip: true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.TotalPageViews)

	row, err = s.Merge(ctx, "bid-dddddddd", func(*models.OnlineUser) (models.SessionWrite, error) {
		return models.SessionWrite{Delete: true}, nil
	})
	require.NoError(t, err)
	assert.Nil(t, row)

	got, err := s.GetByBrowserID(ctx, "bid-dddddddd")
	require.NoError(t, err)
	assert.Nil(t, got)
}
