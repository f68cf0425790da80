package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"
)

func TestLockTryLockAndUnlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewLock(db, OrderLockKey(7), 30*time.Second)

	mock.ExpectSetNX(l.key, l.token, 30*time.Second).SetVal(true)
	ok, err := l.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectEval(luaReleaseIfMatch, []string{l.key}, l.token).SetVal(int64(1))
	require.NoError(t, l.Unlock(context.Background()))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockAcquireRetriesUntilFree(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewLock(db, OrderLockKey(7), 30*time.Second)

	mock.ExpectSetNX(l.key, l.token, 30*time.Second).SetVal(false)
	mock.ExpectSetNX(l.key, l.token, 30*time.Second).SetVal(true)

	ok, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockAcquireGivesUpAfterWait(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewLock(db, OrderLockKey(7), 30*time.Second)

	mock.ExpectSetNX(l.key, l.token, 30*time.Second).SetVal(false)

	ok, err := l.Acquire(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockManagerAcquiresPerUserKey(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewLockManager(db, 30*time.Second, time.Second)

	mock.Regexp().ExpectSetNX(OrderLockKey(9), `[0-9a-f-]+`, 30*time.Second).SetVal(true)

	release, ok, err := m.AcquireUserLock(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, release)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockManagerReportsBusy(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewLockManager(db, 30*time.Second, 0)

	mock.Regexp().ExpectSetNX(OrderLockKey(9), `[0-9a-f-]+`, 30*time.Second).SetVal(false)

	release, ok, err := m.AcquireUserLock(context.Background(), 9)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, release)
	require.NoError(t, mock.ExpectationsWereMet())
}
