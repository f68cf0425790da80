package order

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"seckill/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu      sync.Mutex
	stock   map[uint]int64
	orders  map[[2]int64]*model.Order // (userID, voucherID)
	saveErr error
}

func newFakeRepo(stock map[uint]int64) *fakeRepo {
	return &fakeRepo{stock: stock, orders: make(map[[2]int64]*model.Order)}
}

func key(userID int64, voucherID uint) [2]int64 {
	return [2]int64{userID, int64(voucherID)}
}

func (r *fakeRepo) OrderExists(_ context.Context, userID int64, voucherID uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.orders[key(userID, voucherID)]
	return ok, nil
}

func (r *fakeRepo) DecrementStock(_ context.Context, voucherID uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stock[voucherID] <= 0 {
		return false, nil
	}
	r.stock[voucherID]--
	return true, nil
}

func (r *fakeRepo) SaveOrder(_ context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.orders[key(o.UserID, o.VoucherID)] = o
	return nil
}

func (r *fakeRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakeLocker struct {
	mu       sync.Mutex
	busy     bool
	err      error
	acquired int
	released int
}

func (l *fakeLocker) AcquireUserLock(context.Context, int64) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.busy {
		return nil, false, nil
	}
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, true, nil
}

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// runUntilDrained closes the queue and runs the worker to completion.
func runUntilDrained(w *Worker, q *Queue) {
	q.Close()
	w.Run(context.Background())
}

func TestWorkerPersistsIntent(t *testing.T) {
	repo := newFakeRepo(map[uint]int64{10: 5})
	locks := &fakeLocker{}
	q := NewQueue(8)
	w := NewWorker(q, repo, locks, testLog())

	require.NoError(t, q.Enqueue(Intent{OrderID: 100, UserID: 1, VoucherID: 10, Amount: 500}))
	runUntilDrained(w, q)

	require.Equal(t, 1, repo.orderCount())
	o := repo.orders[key(1, 10)]
	require.EqualValues(t, 100, o.ID)
	require.EqualValues(t, 500, o.Amount)
	require.EqualValues(t, 4, repo.stock[10])
	require.Equal(t, locks.acquired, locks.released)
}

func TestWorkerIdempotentOnRedelivery(t *testing.T) {
	repo := newFakeRepo(map[uint]int64{10: 5})
	locks := &fakeLocker{}
	q := NewQueue(8)
	w := NewWorker(q, repo, locks, testLog())

	it := Intent{OrderID: 100, UserID: 1, VoucherID: 10, Amount: 500}
	require.NoError(t, q.Enqueue(it))
	require.NoError(t, q.Enqueue(it))
	runUntilDrained(w, q)

	require.Equal(t, 1, repo.orderCount(), "second delivery must be discarded as duplicate")
	require.EqualValues(t, 4, repo.stock[10], "duplicate must not decrement stock")
	require.Equal(t, locks.acquired, locks.released)
}

func TestWorkerDiscardsWhenDurableStockExhausted(t *testing.T) {
	repo := newFakeRepo(map[uint]int64{10: 0})
	locks := &fakeLocker{}
	q := NewQueue(8)
	w := NewWorker(q, repo, locks, testLog())

	require.NoError(t, q.Enqueue(Intent{OrderID: 100, UserID: 1, VoucherID: 10}))
	runUntilDrained(w, q)

	require.Equal(t, 0, repo.orderCount())
	require.Equal(t, locks.acquired, locks.released)
}

func TestWorkerSkipsWhenLockBusy(t *testing.T) {
	repo := newFakeRepo(map[uint]int64{10: 5})
	locks := &fakeLocker{busy: true}
	q := NewQueue(8)
	w := NewWorker(q, repo, locks, testLog())

	require.NoError(t, q.Enqueue(Intent{OrderID: 100, UserID: 1, VoucherID: 10}))
	runUntilDrained(w, q)

	require.Equal(t, 0, repo.orderCount(), "contended intent is dropped, not retried")
	require.EqualValues(t, 5, repo.stock[10])
}

func TestWorkerReleasesLockOnSaveError(t *testing.T) {
	repo := newFakeRepo(map[uint]int64{10: 5})
	repo.saveErr = errors.New("disk full")
	locks := &fakeLocker{}
	q := NewQueue(8)
	w := NewWorker(q, repo, locks, testLog())

	require.NoError(t, q.Enqueue(Intent{OrderID: 100, UserID: 1, VoucherID: 10}))
	runUntilDrained(w, q)

	require.Equal(t, 0, repo.orderCount())
	require.Equal(t, 1, locks.acquired)
	require.Equal(t, 1, locks.released, "lock is released on the error path")
}

func TestWorkerDrainsBufferedIntentsOnCancel(t *testing.T) {
	repo := newFakeRepo(map[uint]int64{10: 10})
	locks := &fakeLocker{}
	q := NewQueue(8)
	w := NewWorker(q, repo, locks, testLog())

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(Intent{OrderID: uint64(i), UserID: i, VoucherID: 10}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx) // returns only after the buffered intents are handled

	require.Equal(t, 3, repo.orderCount())
	require.EqualValues(t, 7, repo.stock[10])
}
