package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront/api/models"
)

// MemoryOnlineUserStore keeps online users in process. Merges are serialized
// by a single mutex, which gives the same atomicity as the Postgres store.
type MemoryOnlineUserStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*models.OnlineUser
}

func NewMemoryOnlineUserStore() *MemoryOnlineUserStore {
	return &MemoryOnlineUserStore{rows: make(map[string]*models.OnlineUser)}
}

func (s *MemoryOnlineUserStore) Merge(ctx context.Context, browserID string, fn func(*models.OnlineUser) (models.SessionWrite, error)) (*models.OnlineUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.rows[browserID].Clone()
	w, err := fn(current)
	if err != nil {
		return nil, err
	}
	switch {
	case w.Skip:
		return current, nil
	case w.Delete:
		delete(s.rows, browserID)
		return nil, nil
	}
	if w.Row == nil {
		return nil, fmt.Errorf("merge %s: no row to write", browserID)
	}
	if w.Insert && current != nil {
		return nil, fmt.Errorf("merge %s: %w", browserID, ErrBrowserExists)
	}

	if w.EvictCustomerID != 0 {
		for id, row := range s.rows {
			if id != browserID && row.UserType == models.UserTypeCustomer && row.CustomerID == w.EvictCustomerID {
				delete(s.rows, id)
			}
		}
	}

	row := w.Row.Clone()
	row.BrowserID = browserID
	if w.Insert {
		s.nextID++
		row.ID = s.nextID
	}
	s.rows[browserID] = row
	return row.Clone(), nil
}

// GetByBrowserID returns a copy of the row for browserID, or nil.
func (s *MemoryOnlineUserStore) GetByBrowserID(_ context.Context, browserID string) (*models.OnlineUser, error) {
	return s.Get(browserID), nil
}

// Get returns a copy of the row for browserID, or nil.
func (s *MemoryOnlineUserStore) Get(browserID string) *models.OnlineUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[browserID].Clone()
}

// List returns copies of every row ordered by browser id.
func (s *MemoryOnlineUserStore) List() []*models.OnlineUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.OnlineUser, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrowserID < out[j].BrowserID })
	return out
}

func (s *MemoryOnlineUserStore) CountActiveSince(_ context.Context, since time.Time) (guests, customers int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.LastActivity.Before(since) {
			continue
		}
		switch row.UserType {
		case models.UserTypeGuest:
			guests++
		case models.UserTypeCustomer:
			customers++
		}
	}
	return guests, customers, nil
}
