package redis

import "fmt"

// StockKey is the mirrored live stock counter for a voucher.
func StockKey(voucherID uint) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// PurchasedKey is the set of user ids that already bought a voucher.
func PurchasedKey(voucherID uint) string {
	return fmt.Sprintf("seckill:purchased:%d", voucherID)
}

// ReleasedKey marks an order id whose reservation was already rolled back,
// so a release is applied at most once.
func ReleasedKey(orderID uint64) string {
	return fmt.Sprintf("seckill:released:%d", orderID)
}

// OrderLockKey serializes fulfillment per user.
func OrderLockKey(userID int64) string {
	return fmt.Sprintf("seckill:lock:order:%d", userID)
}

// VoucherCacheKey holds the serialized voucher for read-through lookups.
func VoucherCacheKey(voucherID uint) string {
	return fmt.Sprintf("seckill:cache:voucher:%d", voucherID)
}

// VoucherLockKey guards a voucher cache rebuild.
func VoucherLockKey(voucherID uint) string {
	return fmt.Sprintf("seckill:lock:voucher:%d", voucherID)
}

// HotVoucherCacheKey holds the logically-expiring envelope written at
// preload time for vouchers under sale pressure.
func HotVoucherCacheKey(voucherID uint) string {
	return fmt.Sprintf("seckill:cache:hot:voucher:%d", voucherID)
}

// HotVoucherLockKey guards the async rebuild of a hot voucher entry.
func HotVoucherLockKey(voucherID uint) string {
	return fmt.Sprintf("seckill:lock:hot:voucher:%d", voucherID)
}

// IDCounterKey is the daily sequence counter behind the id worker.
func IDCounterKey(scope, day string) string {
	return fmt.Sprintf("seckill:icr:%s:%s", scope, day)
}
