package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dantezy/polyweather/internal/weather"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("record not found")
	// ErrCorruptRecord is returned by a mirror when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrLockContention is returned when the durable mirror lock could not be
	// acquired in time. The write was not applied and may be retried.
	ErrLockContention = errors.New("store lock contention")
	// ErrMaxRegression is returned when an observation would lower the
	// running maximum. The stored record is unchanged.
	ErrMaxRegression = errors.New("observed maximum cannot decrease")
	// ErrInvalid wraps write validation failures.
	ErrInvalid = errors.New("invalid write")
)

// LockError describes a failed advisory lock acquisition.
type LockError struct {
	Key     weather.Key
	Timeout time.Duration
	Err     error
}

func (e *LockError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lock %s not acquired within %s: %v", e.Key, e.Timeout, e.Err)
	}
	return fmt.Sprintf("lock %s not acquired within %s", e.Key, e.Timeout)
}

func (e *LockError) Is(target error) bool {
	return target == ErrLockContention
}

func (e *LockError) Unwrap() error {
	return e.Err
}
