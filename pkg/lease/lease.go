// Package lease gives one worker at a time ownership of an execution or a schedule tick.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotHeld is returned when releasing or extending a lease whose token no longer owns the key.
var ErrNotHeld = errors.New("lease not held")

// Locker hands out expiring leases. A lease that is not released before its
// ttl elapses becomes available to other workers.
type Locker interface {
	// Acquire returns the token of the new lease, or ok=false when another worker holds key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Extend resets the ttl of a lease still owned by token.
	Extend(ctx context.Context, key string, token string, ttl time.Duration) error
	Release(ctx context.Context, key string, token string) error
}

func newToken() string {
	return uuid.New().String()
}
