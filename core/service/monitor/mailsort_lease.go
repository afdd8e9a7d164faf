package monitor

import (
	"context"
	"sync"
	"time"
)

// LocalLease is an in-process mailbox lease for single-instance deployments
// and tests. Multi-instance deployments use the Redis-backed lease instead.
type LocalLease struct {
	mu     sync.Mutex
	leases map[int64]time.Time // mailbox id -> expiry
}

// NewLocalLease creates an in-process lease.
func NewLocalLease() *LocalLease {
	return &LocalLease{leases: make(map[int64]time.Time)}
}

// Acquire takes the lease when it is free or expired.
func (l *LocalLease) Acquire(_ context.Context, mailboxID int64, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiry, held := l.leases[mailboxID]; held && now.Before(expiry) {
		return false, nil
	}
	l.leases[mailboxID] = now.Add(ttl)
	return true, nil
}

// Release frees the lease.
func (l *LocalLease) Release(_ context.Context, mailboxID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leases, mailboxID)
	return nil
}
