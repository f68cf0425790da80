package admission

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seckill/internal/model"
	"seckill/internal/order"

	"github.com/stretchr/testify/require"
)

// fakeReserver mirrors the atomicity the redis script provides: the whole
// check-and-mutate runs under one mutex.
type fakeReserver struct {
	mu        sync.Mutex
	stock     int64
	purchased map[int64]bool
	released  map[uint64]bool
	err       error
}

func newFakeReserver(stock int64) *fakeReserver {
	return &fakeReserver{
		stock:     stock,
		purchased: make(map[int64]bool),
		released:  make(map[uint64]bool),
	}
}

func (r *fakeReserver) Reserve(_ context.Context, _ uint, userID int64) (ReserveStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	if r.stock <= 0 {
		return SoldOut, nil
	}
	if r.purchased[userID] {
		return Duplicate, nil
	}
	r.stock--
	r.purchased[userID] = true
	return Reserved, nil
}

func (r *fakeReserver) Release(_ context.Context, _ uint, userID int64, orderID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released[orderID] {
		return false, nil
	}
	r.released[orderID] = true
	r.stock++
	delete(r.purchased, userID)
	return true, nil
}

func (r *fakeReserver) snapshot() (int64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock, len(r.purchased)
}

type fakeIDs struct {
	n   atomic.Uint64
	err error
}

func (g *fakeIDs) NextID(context.Context, string) (uint64, error) {
	if g.err != nil {
		return 0, g.err
	}
	return g.n.Add(1), nil
}

type fakeVouchers struct {
	v   *model.Voucher
	err error
}

func (f *fakeVouchers) ByID(context.Context, uint) (*model.Voucher, error) {
	return f.v, f.err
}

func saleVoucher(now time.Time) *model.Voucher {
	return &model.Voucher{
		ID:        10,
		Title:     "100 off",
		Price:     500,
		BeginTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}
}

func testGate(vouchers VoucherReader, reserver Reserver, ids IDGenerator, q *order.Queue) *Gate {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewGate(vouchers, reserver, ids, q, log)
}

func TestAdmitRejectsUnknownVoucher(t *testing.T) {
	gate := testGate(&fakeVouchers{}, newFakeReserver(1), &fakeIDs{}, order.NewQueue(4))
	out := gate.Admit(context.Background(), 10, 1, time.Now())
	require.False(t, out.OK)
	require.Equal(t, "voucher not found", out.Msg)
}

func TestAdmitEnforcesSaleWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	v := &model.Voucher{
		ID:        10,
		Price:     500,
		BeginTime: now,
		EndTime:   now.Add(time.Hour),
	}
	reserver := newFakeReserver(100)
	gate := testGate(&fakeVouchers{v: v}, reserver, &fakeIDs{}, order.NewQueue(16))

	cases := []struct {
		name    string
		at      time.Time
		wantOK  bool
		wantMsg string
	}{
		{"before begin", v.BeginTime.Add(-time.Second), false, "sale has not started"},
		{"exactly at begin", v.BeginTime, true, ""},
		{"inside window", v.BeginTime.Add(time.Minute), true, ""},
		{"exactly at end", v.EndTime, true, ""},
		{"after end", v.EndTime.Add(time.Second), false, "sale has ended"},
	}
	user := int64(0)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user++ // fresh user per case so dedupe does not interfere
			out := gate.Admit(context.Background(), 10, user, tc.at)
			require.Equal(t, tc.wantOK, out.OK)
			if !tc.wantOK {
				require.Equal(t, tc.wantMsg, out.Msg)
			}
		})
	}
}

func TestAdmitNoOversell(t *testing.T) {
	const stock = 5
	const attempts = 100

	now := time.Now()
	reserver := newFakeReserver(stock)
	q := order.NewQueue(attempts)
	gate := testGate(&fakeVouchers{v: saleVoucher(now)}, reserver, &fakeIDs{}, q)

	outcomes := make([]Outcome, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = gate.Admit(context.Background(), 10, int64(i+1), now)
		}(i)
	}
	wg.Wait()

	admitted, soldOut := 0, 0
	seen := make(map[uint64]bool)
	for _, out := range outcomes {
		if out.OK {
			admitted++
			require.False(t, seen[out.OrderID], "order ids must be unique")
			seen[out.OrderID] = true
			continue
		}
		require.Equal(t, "sold out", out.Msg)
		soldOut++
	}
	require.Equal(t, stock, admitted)
	require.Equal(t, attempts-stock, soldOut)

	left, _ := reserver.snapshot()
	require.EqualValues(t, 0, left, "stock never goes negative")
	require.Equal(t, stock, q.Len(), "every admission enqueued exactly one intent")
}

func TestAdmitOneOrderPerUser(t *testing.T) {
	const attempts = 20

	now := time.Now()
	reserver := newFakeReserver(10)
	gate := testGate(&fakeVouchers{v: saleVoucher(now)}, reserver, &fakeIDs{}, order.NewQueue(attempts))

	outcomes := make([]Outcome, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = gate.Admit(context.Background(), 10, 42, now)
		}(i)
	}
	wg.Wait()

	admitted, duplicate := 0, 0
	for _, out := range outcomes {
		if out.OK {
			admitted++
			continue
		}
		require.Equal(t, "already purchased", out.Msg)
		duplicate++
	}
	require.Equal(t, 1, admitted)
	require.Equal(t, attempts-1, duplicate)
}

func TestAdmitFailsClosedOnCoordinationError(t *testing.T) {
	now := time.Now()
	reserver := newFakeReserver(5)
	reserver.err = errors.New("connection refused")
	q := order.NewQueue(4)
	gate := testGate(&fakeVouchers{v: saleVoucher(now)}, reserver, &fakeIDs{}, q)

	out := gate.Admit(context.Background(), 10, 1, now)
	require.False(t, out.OK)
	require.Equal(t, "system busy, try again later", out.Msg)
	require.Zero(t, q.Len())
}

func TestAdmitQueueOverflowReleasesReservation(t *testing.T) {
	now := time.Now()
	reserver := newFakeReserver(5)
	q := order.NewQueue(1) // no worker draining it
	gate := testGate(&fakeVouchers{v: saleVoucher(now)}, reserver, &fakeIDs{}, q)

	out := gate.Admit(context.Background(), 10, 1, now)
	require.True(t, out.OK)

	out = gate.Admit(context.Background(), 10, 2, now)
	require.False(t, out.OK)
	require.Equal(t, "system busy, try again later", out.Msg)

	stock, purchased := reserver.snapshot()
	require.EqualValues(t, 4, stock, "overflowed reservation is rolled back")
	require.Equal(t, 1, purchased, "user 2 may buy again")
}

// TestStockOfOneEndToEnd is the concrete two-user race: one Ok, one sold out,
// and after the worker drains, exactly one order is durable.
func TestStockOfOneEndToEnd(t *testing.T) {
	now := time.Now()
	reserver := newFakeReserver(1)
	q := order.NewQueue(4)
	gate := testGate(&fakeVouchers{v: saleVoucher(now)}, reserver, &fakeIDs{}, q)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = gate.Admit(context.Background(), 10, int64(i+1), now)
		}(i)
	}
	wg.Wait()

	okCount, soldOutCount := 0, 0
	for _, out := range outcomes {
		if out.OK {
			okCount++
		} else {
			require.Equal(t, "sold out", out.Msg)
			soldOutCount++
		}
	}
	require.Equal(t, 1, okCount)
	require.Equal(t, 1, soldOutCount)

	repo := &drainRepo{stock: 1}
	w := order.NewWorker(q, repo, allowAllLocks{}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	q.Close()
	w.Run(context.Background())

	require.Equal(t, 1, repo.saved)
	require.EqualValues(t, 0, repo.stock)
}

type drainRepo struct {
	mu    sync.Mutex
	stock int64
	saved int
}

func (r *drainRepo) OrderExists(context.Context, int64, uint) (bool, error) { return false, nil }

func (r *drainRepo) DecrementStock(context.Context, uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stock <= 0 {
		return false, nil
	}
	r.stock--
	return true, nil
}

func (r *drainRepo) SaveOrder(context.Context, *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved++
	return nil
}

type allowAllLocks struct{}

func (allowAllLocks) AcquireUserLock(context.Context, int64) (func(), bool, error) {
	return func() {}, true, nil
}
