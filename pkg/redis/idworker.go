package redis

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// idEpoch is 2022-01-01T00:00:00Z; ids are seconds since this epoch shifted
// left 32 bits, OR-ed with a per-day sequence number. Roughly time ordered,
// unique as long as one scope stays under 2^32 ids per day.
const idEpoch = 1640995200

const sequenceBits = 32

// IDWorker allocates globally unique, roughly time-ordered ids from a redis
// counter. Scopes (e.g. "order") keep independent sequences.
type IDWorker struct {
	rdb *rd.Client
}

func NewIDWorker(rdb *rd.Client) *IDWorker {
	return &IDWorker{rdb: rdb}
}

// NextID returns the next id for scope.
func (w *IDWorker) NextID(ctx context.Context, scope string) (uint64, error) {
	now := time.Now().UTC()
	ts := uint64(now.Unix() - idEpoch)

	day := now.Format("20060102")
	seq, err := w.rdb.Incr(ctx, IDCounterKey(scope, day)).Result()
	if err != nil {
		return 0, fmt.Errorf("id worker incr: %w", err)
	}

	return ts<<sequenceBits | uint64(seq), nil
}
