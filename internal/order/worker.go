package order

import (
	"context"
	"log/slog"
	"time"

	"seckill/internal/model"
)

// Repo is the durable-storage surface fulfillment needs. Single-row
// transactional semantics are assumed.
type Repo interface {
	OrderExists(ctx context.Context, userID int64, voucherID uint) (bool, error)
	DecrementStock(ctx context.Context, voucherID uint) (bool, error)
	SaveOrder(ctx context.Context, o *model.Order) error
}

// Locker hands out the per-user fulfillment lock with a bounded wait.
// ok=false means someone else holds it, which is safe to skip: admission
// already guarantees at most one live reservation per (user, voucher).
type Locker interface {
	AcquireUserLock(ctx context.Context, userID int64) (release func(), ok bool, err error)
}

const handleTimeout = 10 * time.Second

// Worker is the single long-lived task draining the intake queue. One worker
// is enough; if it is ever parallelized the per-user lock is what keeps
// concurrent fulfillment correct, not the single-consumer property.
type Worker struct {
	q     *Queue
	repo  Repo
	locks Locker
	log   *slog.Logger
}

func NewWorker(q *Queue, repo Repo, locks Locker, log *slog.Logger) *Worker {
	return &Worker{q: q, repo: repo, locks: locks, log: log}
}

// Run drains the queue until ctx is cancelled or the queue is closed. On
// cancellation it finishes everything already buffered before returning, so
// admitted reservations are not abandoned mid-flight.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case it, ok := <-w.q.ch:
			if !ok {
				return
			}
			w.handle(it)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case it, ok := <-w.q.ch:
			if !ok {
				return
			}
			w.handle(it)
		default:
			return
		}
	}
}

// handle persists one intent. Every failure path discards the intent; there
// are no retries here, and each discard is logged with enough identity to
// investigate. Duplicate and decrement failures mean the durable mirror
// diverged from the coordination store, which admission should make
// impossible, so they log at Error.
func (w *Worker) handle(it Intent) {
	// The request that admitted this intent is long gone; run on our own
	// bounded context.
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	release, ok, err := w.locks.AcquireUserLock(ctx, it.UserID)
	if err != nil {
		w.log.Error("fulfillment lock error", "order_id", it.OrderID, "user_id", it.UserID, "err", err)
		return
	}
	if !ok {
		w.log.Warn("user lock busy, skipping intent", "order_id", it.OrderID, "user_id", it.UserID)
		return
	}
	defer release()

	exists, err := w.repo.OrderExists(ctx, it.UserID, it.VoucherID)
	if err != nil {
		w.log.Error("fulfillment duplicate check failed", "order_id", it.OrderID, "err", err)
		return
	}
	if exists {
		w.log.Error("duplicate order reached fulfillment", "order_id", it.OrderID,
			"user_id", it.UserID, "voucher_id", it.VoucherID)
		return
	}

	decremented, err := w.repo.DecrementStock(ctx, it.VoucherID)
	if err != nil {
		w.log.Error("fulfillment stock decrement failed", "order_id", it.OrderID, "err", err)
		return
	}
	if !decremented {
		w.log.Error("durable stock exhausted for admitted order", "order_id", it.OrderID,
			"voucher_id", it.VoucherID)
		return
	}

	o := &model.Order{
		ID:        it.OrderID,
		UserID:    it.UserID,
		VoucherID: it.VoucherID,
		Amount:    it.Amount,
	}
	if err := w.repo.SaveOrder(ctx, o); err != nil {
		w.log.Error("fulfillment save failed", "order_id", it.OrderID, "err", err)
		return
	}
	w.log.Info("order persisted", "order_id", it.OrderID, "user_id", it.UserID, "voucher_id", it.VoucherID)
}
