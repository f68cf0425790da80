// Package admission is the synchronous front of the flash-sale pipeline:
// it decides, atomically against the coordination store, whether a request
// gets one unit of stock and one purchase slot, and hands admitted intents
// to the fulfillment queue. Durability happens later; the reservation itself
// is final once Admit returns Ok.
package admission

import (
	"context"
	"log/slog"
	"time"

	"seckill/internal/model"
	"seckill/internal/order"
)

// ReserveStatus is the outcome of the atomic check-and-mutate script.
type ReserveStatus int

const (
	Reserved ReserveStatus = iota
	SoldOut
	Duplicate
)

// Reserver runs the atomic stock+duplicate script and its idempotent undo.
type Reserver interface {
	Reserve(ctx context.Context, voucherID uint, userID int64) (ReserveStatus, error)
	Release(ctx context.Context, voucherID uint, userID int64, orderID uint64) (bool, error)
}

// IDGenerator allocates globally unique, roughly time-ordered ids.
type IDGenerator interface {
	NextID(ctx context.Context, scope string) (uint64, error)
}

// VoucherReader resolves vouchers, normally through the read-through cache.
// (nil, nil) means the voucher does not exist.
type VoucherReader interface {
	ByID(ctx context.Context, id uint) (*model.Voucher, error)
}

// Outcome is the caller-facing result value. Business rejections and system
// failures both arrive here as messages, never as errors across the boundary.
type Outcome struct {
	OK      bool   `json:"ok"`
	OrderID uint64 `json:"order_id,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

func ok(orderID uint64) Outcome { return Outcome{OK: true, OrderID: orderID} }
func fail(msg string) Outcome   { return Outcome{Msg: msg} }

// Rejection messages returned to callers. Coordination failures map to
// msgSystemBusy without leaking internals.
const (
	msgNotFound   = "voucher not found"
	msgNotStarted = "sale has not started"
	msgEnded      = "sale has ended"
	msgSoldOut    = "sold out"
	msgDuplicate  = "already purchased"
	msgSystemBusy = "system busy, try again later"
)

// Gate is the admission gate.
type Gate struct {
	vouchers VoucherReader
	reserver Reserver
	ids      IDGenerator
	queue    *order.Queue
	log      *slog.Logger
}

func NewGate(vouchers VoucherReader, reserver Reserver, ids IDGenerator, queue *order.Queue, log *slog.Logger) *Gate {
	return &Gate{vouchers: vouchers, reserver: reserver, ids: ids, queue: queue, log: log}
}

// Admit runs the full admission sequence for one purchase attempt:
// window check, atomic reserve, id allocation, enqueue. The checks
// short-circuit in that order. Admission fails closed: any coordination
// failure rejects the purchase.
//
// The sale window is inclusive at both ends.
func (g *Gate) Admit(ctx context.Context, voucherID uint, userID int64, now time.Time) Outcome {
	v, err := g.vouchers.ByID(ctx, voucherID)
	if err != nil {
		g.log.Error("admission voucher lookup failed", "voucher_id", voucherID, "err", err)
		return fail(msgSystemBusy)
	}
	if v == nil {
		return fail(msgNotFound)
	}
	if now.Before(v.BeginTime) {
		return fail(msgNotStarted)
	}
	if now.After(v.EndTime) {
		return fail(msgEnded)
	}

	// Allocate the id before reserving so every post-reserve failure path
	// has a real order id to key its rollback marker on. Ids burned on
	// rejected attempts are harmless.
	orderID, err := g.ids.NextID(ctx, "order")
	if err != nil {
		g.log.Error("admission id allocation failed", "voucher_id", voucherID, "user_id", userID, "err", err)
		return fail(msgSystemBusy)
	}

	status, err := g.reserver.Reserve(ctx, voucherID, userID)
	if err != nil {
		g.log.Error("admission reserve failed", "voucher_id", voucherID, "user_id", userID, "err", err)
		return fail(msgSystemBusy)
	}
	switch status {
	case SoldOut:
		return fail(msgSoldOut)
	case Duplicate:
		return fail(msgDuplicate)
	}

	it := order.Intent{
		OrderID:   orderID,
		UserID:    userID,
		VoucherID: voucherID,
		Amount:    v.Price,
	}
	if err := g.queue.Enqueue(it); err != nil {
		// Backpressure: the reservation is undone and the caller told to
		// retry. A full buffer means capacity is undersized for the burst.
		g.log.Error("intake queue rejected intent", "order_id", orderID,
			"voucher_id", voucherID, "user_id", userID, "queue_len", g.queue.Len(), "err", err)
		g.release(ctx, voucherID, userID, orderID)
		return fail(msgSystemBusy)
	}

	return ok(orderID)
}

// release undoes a reservation that never reached the queue. Failure here is
// alert-worthy: stock stays reserved for a user with no order.
func (g *Gate) release(ctx context.Context, voucherID uint, userID int64, orderID uint64) {
	if _, err := g.reserver.Release(ctx, voucherID, userID, orderID); err != nil {
		g.log.Error("reservation release failed", "order_id", orderID,
			"voucher_id", voucherID, "user_id", userID, "err", err)
	}
}
