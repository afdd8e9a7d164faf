// Package cache provides Redis-backed adapters for cross-process coordination.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mailsort_server/core/port/out"
)

// =============================================================================
// Redis Mailbox Lease
// =============================================================================

// RedisLease implements out.MailboxLease with a SETNX key per mailbox, so
// concurrent monitor instances never check the same mailbox at once. The TTL
// bounds how long a crashed holder can block the mailbox.
type RedisLease struct {
	client     *redis.Client
	instanceID string
}

var _ out.MailboxLease = (*RedisLease)(nil)

// NewRedisLease creates a Redis-backed mailbox lease.
func NewRedisLease(client *redis.Client, instanceID string) *RedisLease {
	return &RedisLease{client: client, instanceID: instanceID}
}

func leaseKey(mailboxID int64) string {
	return fmt.Sprintf("mailsort:lease:mailbox:%d", mailboxID)
}

// Acquire takes the lease when free.
func (l *RedisLease) Acquire(ctx context.Context, mailboxID int64, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, leaseKey(mailboxID), l.instanceID, ttl).Result()
}

// releaseScript deletes the lease only when this instance still holds it, so
// an expired-and-reacquired lease is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release frees the lease if held by this instance.
func (l *RedisLease) Release(ctx context.Context, mailboxID int64) error {
	return releaseScript.Run(ctx, l.client, []string{leaseKey(mailboxID)}, l.instanceID).Err()
}
