package tracking

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"storefront/api/models"
)

// BreakerSink stops calling a failing sink for a while after consecutive
// failures. While open, batches are rejected with gobreaker.ErrOpenState
// and counted as lost by the batcher.
type BreakerSink struct {
	name string
	next ActivitySink
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerSink(name string, next ActivitySink, failures uint32, openFor time.Duration, log zerolog.Logger) *BreakerSink {
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("sink", name).Str("from", from.String()).Str("to", to.String()).Msg("activity sink breaker changed state")
		},
	}
	return &BreakerSink{name: name, next: next, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (b *BreakerSink) WriteActivities(ctx context.Context, items []models.UserActivity) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.WriteActivities(ctx, items)
	})
	result := "written"
	if err != nil {
		result = "failed"
	}
	sinkActivities.WithLabelValues(b.name, result).Add(float64(len(items)))
	return err
}

func (b *BreakerSink) State() gobreaker.State {
	return b.cb.State()
}
