package lease

import (
	"context"
	"sync"
	"time"
)

type localLease struct {
	token     string
	expiresAt time.Time
}

// LocalLocker keeps leases in process memory. It only coordinates goroutines of a single worker.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		leases: make(map[string]localLease),
		now:    time.Now,
	}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if current, ok := l.leases[key]; ok && now.Before(current.expiresAt) {
		return "", false, nil
	}

	token := newToken()
	l.leases[key] = localLease{token: token, expiresAt: now.Add(ttl)}

	return token, true, nil
}

func (l *LocalLocker) Extend(_ context.Context, key string, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	current, ok := l.leases[key]
	if !ok || current.token != token || !now.Before(current.expiresAt) {
		return ErrNotHeld
	}

	l.leases[key] = localLease{token: token, expiresAt: now.Add(ttl)}

	return nil
}

func (l *LocalLocker) Release(_ context.Context, key string, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.leases[key]
	if !ok || current.token != token {
		return ErrNotHeld
	}

	delete(l.leases, key)

	return nil
}
