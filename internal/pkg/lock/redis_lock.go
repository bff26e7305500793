// internal/pkg/lock/redis_lock.go
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// MerchantLocker serializes batch reconciliation passes per merchant.
// Losing the lock is not a correctness problem (the ledger's compare-and-swap
// transitions still reject racers); it just avoids two passes doing the same
// scoring work at once.
type MerchantLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMerchantLocker(client *redis.Client, ttl time.Duration) *MerchantLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &MerchantLocker{client: client, ttl: ttl}
}

// Acquire takes the per-merchant lock. It returns a release func and
// ok=false when another pass already holds the lock.
func (l *MerchantLocker) Acquire(ctx context.Context, merchantID int64) (release func(), ok bool, err error) {
	key := lockKey(merchantID)
	token := ulid.Make().String()

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire merchant lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// Only delete the lock if we still own it.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		l.client.Eval(context.Background(), script, []string{key}, token)
	}
	return release, true, nil
}

func lockKey(merchantID int64) string {
	return fmt.Sprintf("reconcile:lock:merchant:%d", merchantID)
}
