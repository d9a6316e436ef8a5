package tracking

import (
	"context"
	"errors"
	"fmt"

	"storefront/api/models"
)

// MergeFunc decides what to write given the row currently stored for a
// browser id (nil when there is none). It may be called more than once if
// the repository retries.
type MergeFunc = func(current *models.OnlineUser) (models.SessionWrite, error)

// Repository stores OnlineUser rows keyed by browser id. Merge must run the
// read, fn and the resulting write (including eviction) atomically with
// respect to other merges for the same browser id.
type Repository interface {
	Merge(ctx context.Context, browserID string, fn MergeFunc) (*models.OnlineUser, error)
}

var errNoBrowserID = errors.New("tracking: visit has no browser id")

type Merger struct {
	repo Repository
}

func NewMerger(repo Repository) *Merger {
	return &Merger{repo: repo}
}

// Track applies the visit to the stored session for its browser id.
func (m *Merger) Track(ctx context.Context, v Visit) (row *models.OnlineUser, err error) {
	defer func() {
		if r := recover(); r != nil {
			row, err = nil, fmt.Errorf("tracking: merge panicked: %v", r)
		}
		if err != nil {
			mergeErrors.Inc()
		}
	}()

	if v.BrowserID == "" {
		return nil, errNoBrowserID
	}

	var kind OutcomeKind
	row, err = m.repo.Merge(ctx, v.BrowserID, func(current *models.OnlineUser) (models.SessionWrite, error) {
		out := Transition(StateOf(current), v)
		kind = out.Kind
		return out.Write(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge online user %s: %w", v.BrowserID, err)
	}
	mergeOutcomes.WithLabelValues(string(kind)).Inc()
	return row, nil
}

// Forget deletes the guest row for browserID. Customer rows are kept since
// they belong to a customer rather than to whoever used the browser last.
func (m *Merger) Forget(ctx context.Context, browserID string) error {
	if browserID == "" {
		return errNoBrowserID
	}
	_, err := m.repo.Merge(ctx, browserID, func(current *models.OnlineUser) (models.SessionWrite, error) {
		if current == nil || current.UserType == models.UserTypeCustomer {
			return models.SessionWrite{Skip: true}, nil
		}
		return models.SessionWrite{Delete: true}, nil
	})
	if err != nil {
		mergeErrors.Inc()
		return fmt.Errorf("forget online user %s: %w", browserID, err)
	}
	return nil
}
