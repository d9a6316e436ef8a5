package store

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api/models"
)

func TestActionCountsQuery(t *testing.T) {
	q := actionCountsQuery("toStartOfHour", "")
	assert.Contains(t, q, "toStartOfHour(last_activity)")
	assert.NotContains(t, q, "AND action = ?")

	q = actionCountsQuery("toStartOfDay", "login")
	assert.Contains(t, q, "toStartOfDay(last_activity)")
	assert.Contains(t, q, "AND action = ?")
	assert.Contains(t, q, "GROUP BY time_bucket, action")
}

func TestActivityStore_RejectsInvalidInterval(t *testing.T) {
	s := &ActivityStore{}
	_, err := s.GetActionCountsOverTime(context.Background(), "Fortnight", time.Now(), time.Now(), "")
	require.Error(t, err)
	_, err = s.GetUniqueBrowsersOverTime(context.Background(), "1; DROP", time.Now(), time.Now())
	require.Error(t, err)
}

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestActivityPublisher_WriteActivities(t *testing.T) {
	w := &captureWriter{}
	p := NewActivityPublisher(w)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	err := p.WriteActivities(context.Background(), []models.UserActivity{
		{ActivityID: "a1", Action: models.ActionViewProduct, ProductID: 7, BrowserID: "bid-1", LastActivity: at},
		{ActivityID: "a2", Action: models.ActionSearch, BrowserID: "bid-2", LastActivity: at},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, []byte("bid-1"), w.msgs[0].Key)

	var decoded models.UserActivity
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, int64(7), decoded.ProductID)
	assert.Equal(t, models.ActionViewProduct, decoded.Action)
}

func TestActivityPublisher_PropagatesWriteError(t *testing.T) {
	p := NewActivityPublisher(&captureWriter{err: errors.New("broker down")})
	err := p.WriteActivities(context.Background(), []models.UserActivity{{ActivityID: "a1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestActivityPublisher_EmptyBatch(t *testing.T) {
	w := &captureWriter{}
	require.NoError(t, NewActivityPublisher(w).WriteActivities(context.Background(), nil))
	assert.Empty(t, w.msgs)
}
