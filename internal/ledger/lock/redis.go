package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "lanfiasave/pkg/domain-errors"
)

// defaultLockTTL caps how long a crashed holder can block a donation.
const defaultLockTTL = 30 * time.Second

// releaseScript deletes the key only when it still holds our token, so an
// expired-then-reacquired lock is never released by the previous holder.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLock implements DistributionLock with a SET NX token per donation.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, ttl: defaultLockTTL}
}

func (l *RedisLock) Acquire(ctx context.Context, donationID string) (func(), error) {
	key := "ledger:distribution:" + donationID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConflict, "acquire distribution lock")
	}
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeConflict, "donation %s is being distributed elsewhere", donationID)
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.client.Eval(ctx, releaseScript, []string{key}, token).Err()
	}
	return release, nil
}
