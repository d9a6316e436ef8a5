package store

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrCustomerExists   = errors.New("customer already exists")
	// ErrBrowserExists is returned when a create lost the race for a browser id.
	ErrBrowserExists = errors.New("online user already exists for browser")
)

// Postgres error codes the stores react to.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

// isRetryableMerge reports whether a merge failed for a reason that a fresh
// attempt (which re-reads the row) can resolve.
func isRetryableMerge(err error) bool {
	if errors.Is(err, ErrBrowserExists) {
		return true
	}
	switch pqCode(err) {
	case pqUniqueViolation, pqSerializationFailure, pqDeadlockDetected:
		return true
	}
	return false
}
