package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"storefront/api/database"
	"storefront/api/models"
	"storefront/api/utils"
)

const activitySchema = `
CREATE TABLE IF NOT EXISTS user_activities
(
	activity_id   String,
	action        LowCardinality(String),
	entity_type   LowCardinality(String),
	product_id    Int64,
	order_id      Int64,
	category_id   Int64,
	entity_id     String,
	activity_data String,
	customer_id   Int64,
	browser_id    String,
	ip_address    String,
	user_agent    String,
	source        LowCardinality(String),
	last_activity DateTime64(3, 'UTC')
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(last_activity)
ORDER BY (action, last_activity, browser_id)`

// ActivityStore appends activity records to ClickHouse and answers the
// admin stats queries.
type ActivityStore struct {
	DB  *database.ClickHouseClient
	log zerolog.Logger
}

func NewActivityStore(chClient *database.ClickHouseClient, log zerolog.Logger) *ActivityStore {
	return &ActivityStore{DB: chClient, log: log}
}

func (s *ActivityStore) EnsureSchema(ctx context.Context) error {
	if err := s.DB.Conn.Exec(ctx, activitySchema); err != nil {
		return fmt.Errorf("create user_activities: %w", err)
	}
	return nil
}

// WriteActivities inserts items as one ClickHouse batch.
func (s *ActivityStore) WriteActivities(ctx context.Context, items []models.UserActivity) error {
	if len(items) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO user_activities (
			activity_id, action, entity_type, product_id, order_id, category_id, entity_id,
			activity_data, customer_id, browser_id, ip_address, user_agent, source, last_activity
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, a := range items {
		data, err := json.Marshal(a.ActivityData)
		if err != nil {
			s.log.Warn().Err(err).Str("activity_id", a.ActivityID).Msg("encode activity data")
			data = []byte("{}")
		}
		err = batch.Append(
			a.ActivityID,
			a.Action,
			string(a.EntityType),
			a.ProductID,
			a.OrderID,
			a.CategoryID,
			a.EntityID,
			string(data),
			a.CustomerID,
			a.BrowserID,
			a.IPAddress,
			a.UserAgent,
			string(a.Source),
			a.LastActivity.UTC(),
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append activity %s: %w", a.ActivityID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	s.log.Debug().Int("count", len(items)).Msg("activities inserted")
	return nil
}

// actionCountsQuery builds the bucketed count query. bucketFn comes from
// utils.IntervalBucketFunc.
func actionCountsQuery(bucketFn, actionFilter string) string {
	selectCols := fmt.Sprintf("%s(last_activity) AS time_bucket, count() AS total", bucketFn)
	groupByCols := "time_bucket"
	whereClause := "WHERE last_activity >= ? AND last_activity <= ?"
	orderByCols := "time_bucket ASC"

	if actionFilter != "" {
		selectCols += ", action"
		groupByCols += ", action"
		whereClause += " AND action = ?"
		orderByCols += ", action ASC"
	}

	return fmt.Sprintf(`
		SELECT %s
		FROM user_activities
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)
}

func (s *ActivityStore) GetActionCountsOverTime(ctx context.Context, interval string, start, end time.Time, actionFilter string) ([]models.ActionCountByTime, error) {
	bucketFn, ok := utils.IntervalBucketFunc(interval)
	if !ok {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []any{start, end}
	if actionFilter != "" {
		args = append(args, actionFilter)
	}

	rows, err := s.DB.Conn.Query(ctx, actionCountsQuery(bucketFn, actionFilter), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query action counts over time: %w", err)
	}
	defer rows.Close()

	results := []models.ActionCountByTime{}
	for rows.Next() {
		var (
			bucket time.Time
			count  uint64
			action string
			res    models.ActionCountByTime
		)
		if actionFilter != "" {
			if err := rows.Scan(&bucket, &count, &action); err != nil {
				return nil, fmt.Errorf("scan action count: %w", err)
			}
			res.Action = &action
		} else if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan action count: %w", err)
		}
		res.Time = bucket
		res.Count = count
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during action counts query: %w", err)
	}
	return results, nil
}

func (s *ActivityStore) GetUniqueBrowsersOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.ActionCountByTime, error) {
	bucketFn, ok := utils.IntervalBucketFunc(interval)
	if !ok {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT %s(last_activity) AS time_bucket, uniq(browser_id) AS unique_browsers
		FROM user_activities
		WHERE last_activity >= ? AND last_activity <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, bucketFn)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique browsers over time: %w", err)
	}
	defer rows.Close()

	results := []models.ActionCountByTime{}
	for rows.Next() {
		var res models.ActionCountByTime
		if err := rows.Scan(&res.Time, &res.Count); err != nil {
			return nil, fmt.Errorf("scan unique browsers: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique browsers: %w", err)
	}
	return results, nil
}

// GetTopProducts returns the most viewed products in the range.
func (s *ActivityStore) GetTopProducts(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopProductResult, error) {
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT product_id, count() AS views
		FROM user_activities
		WHERE action = ? AND product_id > 0 AND last_activity >= ? AND last_activity <= ?
		GROUP BY product_id
		ORDER BY views DESC
		LIMIT ?
	`, models.ActionViewProduct, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top products: %w", err)
	}
	defer rows.Close()

	results := []models.TopProductResult{}
	for rows.Next() {
		var res models.TopProductResult
		if err := rows.Scan(&res.ProductID, &res.Views); err != nil {
			return nil, fmt.Errorf("scan top product: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top products: %w", err)
	}
	return results, nil
}

// GetAverageDuration averages the handler duration recorded in activity data.
func (s *ActivityStore) GetAverageDuration(ctx context.Context, actionFilter string, start, end time.Time) (float64, error) {
	query := `SELECT avg(JSONExtractFloat(activity_data, 'durationMs')) FROM user_activities WHERE last_activity >= ? AND last_activity <= ?`
	args := []any{start, end}
	if actionFilter != "" {
		query += ` AND action = ?`
		args = append(args, actionFilter)
	}

	var avg float64
	err := s.DB.Conn.QueryRow(ctx, query, args...).Scan(&avg)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query average duration: %w", err)
	}
	// avg() over no rows is NaN, which JSON cannot carry.
	if math.IsNaN(avg) {
		return 0, nil
	}
	return avg, nil
}
