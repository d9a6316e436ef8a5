package tracking

import (
	"context"
	"errors"
	"fmt"

	"storefront/api/models"
)

// PartialWriteError reports a batch that reached some sinks but not all.
type PartialWriteError struct {
	Failed, Total int
	Err           error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%d of %d activity sinks failed: %v", e.Failed, e.Total, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// FanOut writes every batch to each sink in order. All sinks are attempted.
// When only some fail the error is a *PartialWriteError.
type FanOut []ActivitySink

func (f FanOut) WriteActivities(ctx context.Context, items []models.UserActivity) error {
	var errs []error
	for _, s := range f {
		if err := s.WriteActivities(ctx, items); err != nil {
			errs = append(errs, err)
		}
	}
	switch {
	case len(errs) == 0:
		return nil
	case len(errs) < len(f):
		return &PartialWriteError{Failed: len(errs), Total: len(f), Err: errors.Join(errs...)}
	default:
		return errors.Join(errs...)
	}
}

// DiscardSink drops activities. Used when no activity store is configured.
type DiscardSink struct{}

func (DiscardSink) WriteActivities(context.Context, []models.UserActivity) error { return nil }
