package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"storefront/api/models"
)

const maxMergeAttempts = 3

const onlineUserColumns = `id, browser_id, user_type, customer_id, ip_address, user_agent, source, page_url,
	session_history, session_phases, ip_history, total_page_views, guest_page_views, customer_page_views,
	login_time, last_activity, created_at`

// OnlineUserStore keeps one tracking row per browser id in Postgres.
type OnlineUserStore struct {
	db *sql.DB
}

func NewOnlineUserStore(db *sql.DB) *OnlineUserStore {
	return &OnlineUserStore{db: db}
}

// Merge locks the row for browserID (if any), lets fn decide the write and
// applies it in the same transaction. The returned row is nil after a delete. A create that loses the race against a
// concurrent create, and deadlocks between evicting logins, are retried; the
// retry re-reads the row so a lost create becomes an update.
func (s *OnlineUserStore) Merge(ctx context.Context, browserID string, fn func(*models.OnlineUser) (models.SessionWrite, error)) (*models.OnlineUser, error) {
	var lastErr error
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		row, err := s.mergeOnce(ctx, browserID, fn)
		if err == nil {
			return row, nil
		}
		if !isRetryableMerge(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("merge %s: gave up after %d attempts: %w", browserID, maxMergeAttempts, lastErr)
}

func (s *OnlineUserStore) mergeOnce(ctx context.Context, browserID string, fn func(*models.OnlineUser) (models.SessionWrite, error)) (_ *models.OnlineUser, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := scanOnlineUser(tx.QueryRowContext(ctx,
		`SELECT `+onlineUserColumns+` FROM online_users WHERE browser_id = $1 FOR UPDATE`, browserID))
	if errors.Is(err, sql.ErrNoRows) {
		current, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load online user: %w", err)
	}

	w, err := fn(current)
	if err != nil {
		return nil, err
	}
	switch {
	case w.Skip:
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit merge: %w", err)
		}
		return current, nil
	case w.Delete:
		if _, err = tx.ExecContext(ctx, `DELETE FROM online_users WHERE browser_id = $1`, browserID); err != nil {
			return nil, fmt.Errorf("delete online user: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit merge: %w", err)
		}
		return nil, nil
	}
	if w.Row == nil {
		return nil, fmt.Errorf("merge %s: no row to write", browserID)
	}
	row := w.Row.Clone()
	row.BrowserID = browserID

	if w.EvictCustomerID != 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM online_users WHERE user_type = 'customer' AND customer_id = $1 AND browser_id <> $2`,
			w.EvictCustomerID, browserID)
		if err != nil {
			return nil, fmt.Errorf("evict sessions of customer %d: %w", w.EvictCustomerID, err)
		}
	}

	args, err := onlineUserArgs(row)
	if err != nil {
		return nil, err
	}
	if w.Insert {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO online_users (
				browser_id, user_type, customer_id, ip_address, user_agent, source, page_url,
				session_history, session_phases, ip_history, total_page_views, guest_page_views,
				customer_page_views, login_time, last_activity, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (browser_id) DO NOTHING
			RETURNING id`,
			append(args, row.CreatedAt)...,
		).Scan(&row.ID)
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrBrowserExists
		}
		if err != nil {
			return nil, fmt.Errorf("insert online user: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE online_users SET
				user_type = $2, customer_id = $3, ip_address = $4, user_agent = $5, source = $6,
				page_url = $7, session_history = $8, session_phases = $9, ip_history = $10,
				total_page_views = $11, guest_page_views = $12, customer_page_views = $13,
				login_time = $14, last_activity = $15
			WHERE browser_id = $1`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("update online user: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}
	return row, nil
}

// GetByBrowserID returns the row for browserID or nil when there is none.
func (s *OnlineUserStore) GetByBrowserID(ctx context.Context, browserID string) (*models.OnlineUser, error) {
	row, err := scanOnlineUser(s.db.QueryRowContext(ctx,
		`SELECT `+onlineUserColumns+` FROM online_users WHERE browser_id = $1`, browserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get online user %s: %w", browserID, err)
	}
	return row, nil
}

// CountActiveSince counts guest and customer rows active after since.
func (s *OnlineUserStore) CountActiveSince(ctx context.Context, since time.Time) (guests, customers int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE user_type = 'guest'),
			COUNT(*) FILTER (WHERE user_type = 'customer')
		FROM online_users
		WHERE last_activity >= $1`, since).Scan(&guests, &customers)
	if err != nil {
		return 0, 0, fmt.Errorf("count active online users: %w", err)
	}
	return guests, customers, nil
}

func onlineUserArgs(row *models.OnlineUser) ([]any, error) {
	history, err := json.Marshal(nonNil(row.SessionHistory))
	if err != nil {
		return nil, fmt.Errorf("encode session history: %w", err)
	}
	phases, err := json.Marshal(nonNil(row.SessionPhases))
	if err != nil {
		return nil, fmt.Errorf("encode session phases: %w", err)
	}
	ips, err := json.Marshal(nonNil(row.IPHistory))
	if err != nil {
		return nil, fmt.Errorf("encode ip history: %w", err)
	}
	var loginTime sql.NullTime
	if row.LoginTime != nil {
		loginTime = sql.NullTime{Time: *row.LoginTime, Valid: true}
	}
	// jsonb parameters are passed as text; lib/pq would send []byte as bytea.
	return []any{
		row.BrowserID,
		string(row.UserType),
		sql.NullInt64{Int64: row.CustomerID, Valid: row.CustomerID != 0},
		row.IPAddress,
		row.UserAgent,
		string(row.Source),
		row.PageURL,
		string(history),
		string(phases),
		string(ips),
		row.TotalPageViews,
		row.GuestPageViews,
		row.CustomerPageViews,
		loginTime,
		row.LastActivity,
	}, nil
}

func scanOnlineUser(r *sql.Row) (*models.OnlineUser, error) {
	var (
		u                    models.OnlineUser
		userType, source     string
		customerID           sql.NullInt64
		history, phases, ips []byte
		loginTime            sql.NullTime
	)
	err := r.Scan(
		&u.ID, &u.BrowserID, &userType, &customerID, &u.IPAddress, &u.UserAgent, &source, &u.PageURL,
		&history, &phases, &ips, &u.TotalPageViews, &u.GuestPageViews, &u.CustomerPageViews,
		&loginTime, &u.LastActivity, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.UserType = models.UserType(userType)
	u.Source = models.Source(source)
	u.CustomerID = customerID.Int64
	if loginTime.Valid {
		lt := loginTime.Time
		u.LoginTime = &lt
	}
	if err := json.Unmarshal(history, &u.SessionHistory); err != nil {
		return nil, fmt.Errorf("decode session history: %w", err)
	}
	if err := json.Unmarshal(phases, &u.SessionPhases); err != nil {
		return nil, fmt.Errorf("decode session phases: %w", err)
	}
	if err := json.Unmarshal(ips, &u.IPHistory); err != nil {
		return nil, fmt.Errorf("decode ip history: %w", err)
	}
	return &u, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
