package out

import (
	"context"
	"time"
)

// MailboxLease serializes monitor checks per mailbox across processes.
// Acquire returns false when another holder owns the lease; Release is a
// no-op for a lease the caller does not hold.
type MailboxLease interface {
	Acquire(ctx context.Context, mailboxID int64, ttl time.Duration) (bool, error)
	Release(ctx context.Context, mailboxID int64) error
}
