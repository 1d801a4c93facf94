package ledger

import (
	"context"
	"sync"
	"time"

	pkgerrors "lanfiasave/pkg/domain-errors"
)

// shardedTx provides the transactional boundary for the in-memory store using
// sharded mutexes. Operations are distributed across shards by a hash of the
// donation ID tagged on the context, so distributions of distinct donations
// rarely contend while two distributions of the same donation always
// serialize.
const numTxShards = 128

// defaultTxTimeout bounds how long a distribution may hold its shard.
const defaultTxTimeout = 5 * time.Second

type shardedTx struct {
	shards  [numTxShards]sync.Mutex
	timeout time.Duration
}

// NewMemoryTxRunner returns a TxRunner backed by sharded mutexes, suitable
// for the in-memory store.
func NewMemoryTxRunner() TxRunner {
	return &shardedTx{}
}

func (t *shardedTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// Check again after acquiring the lock.
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx)
}

func (t *shardedTx) selectShard(ctx context.Context) int {
	if donationID, ok := DonationFrom(ctx); ok && donationID != "" {
		return int(hashString(donationID) % numTxShards)
	}
	return 0
}

// hashString uses FNV-1a for even shard distribution.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
