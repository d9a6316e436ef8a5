// Package presence keeps a Redis sorted set of recently active browser ids,
// scored by their last activity, for the admin "who is online" view.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "storefront:online"

type Tracker struct {
	rdb    *redis.Client
	key    string
	window time.Duration
}

// New returns a presence tracker. A nil client yields a tracker whose
// methods are no-ops.
func New(rdb *redis.Client, window time.Duration) *Tracker {
	return &Tracker{rdb: rdb, key: defaultKey, window: window}
}

// Touch marks browserID as active at at and trims entries older than the window.
func (t *Tracker) Touch(ctx context.Context, browserID string, at time.Time) error {
	if t == nil || t.rdb == nil {
		return nil
	}
	pipe := t.rdb.TxPipeline()
	pipe.ZAdd(ctx, t.key, redis.Z{Score: float64(at.UnixMilli()), Member: browserID})
	pipe.ZRemRangeByScore(ctx, t.key, "-inf", "("+strconv.FormatInt(at.Add(-t.window).UnixMilli(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence touch: %w", err)
	}
	return nil
}

// CountOnline counts browsers active within the window ending at now.
func (t *Tracker) CountOnline(ctx context.Context, now time.Time) (int64, error) {
	if t == nil || t.rdb == nil {
		return 0, nil
	}
	n, err := t.rdb.ZCount(ctx, t.key, strconv.FormatInt(now.Add(-t.window).UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("presence count: %w", err)
	}
	return n, nil
}

// Recent returns up to limit browser ids, most recently active first.
func (t *Tracker) Recent(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	if t == nil || t.rdb == nil {
		return nil, nil
	}
	ids, err := t.rdb.ZRevRangeByScore(ctx, t.key, &redis.ZRangeBy{
		Min:   strconv.FormatInt(now.Add(-t.window).UnixMilli(), 10),
		Max:   "+inf",
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence recent: %w", err)
	}
	return ids, nil
}

// Enabled reports whether a Redis client is attached.
func (t *Tracker) Enabled() bool {
	return t != nil && t.rdb != nil
}
