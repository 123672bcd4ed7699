package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PeriodLockKey builds redis keys for per-period critical sections.
func PeriodLockKey(tenantID, periodID int64) string {
	return fmt.Sprintf("ledger:tenant:%d:period:%d:lock", tenantID, periodID)
}

// PeriodLocker serialises mutations touching the same billing period.
// Acquisition waits at most maxWait before giving up with ErrBusy, so a slow
// close cannot starve routine postings indefinitely.
type PeriodLocker struct {
	client  *redis.Client
	ttl     time.Duration
	maxWait time.Duration
	retry   time.Duration
}

// NewPeriodLocker constructs a locker. ttl bounds how long a crashed holder
// can keep a period locked.
func NewPeriodLocker(client *redis.Client, ttl, maxWait time.Duration) *PeriodLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &PeriodLocker{client: client, ttl: ttl, maxWait: maxWait, retry: 50 * time.Millisecond}
}

// Lease represents a held period lock.
type Lease struct {
	key   string
	token string
}

// Acquire takes the lock for the given period, waiting up to the configured
// ceiling. Returns ErrBusy when the wait expires.
func (l *PeriodLocker) Acquire(ctx context.Context, tenantID, periodID int64) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("shared: period locker not initialised")
	}
	key := PeriodLockKey(tenantID, periodID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.maxWait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("shared: acquire period lock: %w", err)
		}
		if ok {
			return &Lease{key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release frees the lease. Releasing a lease that expired is a no-op; the
// token check prevents deleting a lock re-acquired by someone else.
func (l *PeriodLocker) Release(ctx context.Context, lease *Lease) error {
	if l == nil || lease == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{lease.key}, lease.token).Err()
}
