package redis

import (
	"context"

	"seckill/internal/admission"

	rd "github.com/redis/go-redis/v9"
)

// luaReserve is the admission script: stock check, duplicate check, decrement
// and purchase marker in one atomic round trip.
// KEYS[1]=stock key, KEYS[2]=purchased set, ARGV[1]=user id
// Returns: 0 reserved, 1 sold out, 2 duplicate purchase.
const luaReserve = `
local stock = tonumber(redis.call('GET', KEYS[1]) or '0')
if stock <= 0 then
  return 1
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return 2
end
redis.call('DECRBY', KEYS[1], 1)
redis.call('SADD', KEYS[2], ARGV[1])
return 0
`

// luaRelease rolls a reservation back exactly once, guarded by a SETNX marker
// keyed by the admitted order id. The stock counter is restored only while
// the mirror still exists: an INCRBY on an expired key would recreate it
// without a TTL, and absent reads already count as sold out.
// KEYS[1]=released marker, KEYS[2]=stock key, KEYS[3]=purchased set
// ARGV[1]=user id, ARGV[2]=marker ttl seconds
// Returns 1 when the rollback was applied, 0 when already done.
const luaRelease = `
if redis.call('SETNX', KEYS[1], '1') == 0 then
  return 0
end
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
if redis.call('EXISTS', KEYS[2]) == 1 then
  redis.call('INCRBY', KEYS[2], 1)
end
redis.call('SREM', KEYS[3], ARGV[1])
return 1
`

const releaseMarkerTTLSeconds = 7 * 24 * 60 * 60

// Reserver runs the admission script against redis.
type Reserver struct {
	rdb *rd.Client
}

func NewReserver(rdb *rd.Client) *Reserver {
	return &Reserver{rdb: rdb}
}

// Reserve atomically takes one unit of stock and one purchase slot for
// (voucher, user).
func (r *Reserver) Reserve(ctx context.Context, voucherID uint, userID int64) (admission.ReserveStatus, error) {
	res, err := r.rdb.Eval(ctx, luaReserve,
		[]string{StockKey(voucherID), PurchasedKey(voucherID)},
		userID).Int()
	if err != nil {
		return 0, err
	}
	switch res {
	case 0:
		return admission.Reserved, nil
	case 1:
		return admission.SoldOut, nil
	default:
		return admission.Duplicate, nil
	}
}

// Release undoes a reservation when the intent could not be handed to the
// fulfillment pipeline. Idempotent per order id; returns whether this call
// applied the rollback.
func (r *Reserver) Release(ctx context.Context, voucherID uint, userID int64, orderID uint64) (bool, error) {
	n, err := r.rdb.Eval(ctx, luaRelease,
		[]string{ReleasedKey(orderID), StockKey(voucherID), PurchasedKey(voucherID)},
		userID, releaseMarkerTTLSeconds).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
