package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-server-go/config"
)

func TestCourseLockKey(t *testing.T) {
	assert.Equal(t, "course:42:enroll", CourseLockKey(42))
}

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "a")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(ctx, "b")
	require.NoError(t, err, "different keys do not block each other")
	other()

	unlock()
	unlock()

	again, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	again()

	l.mu.Lock()
	assert.Empty(t, l.slots)
	l.mu.Unlock()
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	var l LocalLocker
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "course")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker(t *testing.T) {
	mr, client := newMiniRedis(t)
	l := NewRedisLocker(client, 10*time.Second)
	l.Retry = 5 * time.Millisecond
	ctx := context.Background()

	unlock, err := l.Lock(ctx, CourseLockKey(1))
	require.NoError(t, err)

	key := lockKeyPrefix + CourseLockKey(1)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 10*time.Second, mr.TTL(key))

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, CourseLockKey(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, mr.Exists(key))

	again, err := l.Lock(ctx, CourseLockKey(1))
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ExpiredLockIsNotStolenBack(t *testing.T) {
	mr, client := newMiniRedis(t)
	l := NewRedisLocker(client, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	// The lock expires and another holder takes it.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(lockKeyPrefix+"k", "someone-else"))

	unlock()
	got, err := mr.Get(lockKeyPrefix + "k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	client.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(ctx, config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestRunInTx_RollsBackOnQueryError(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqldb.Close()

	store := New(sqldb, DialectSQLite)
	ctx := context.Background()
	sess, err := store.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "enrollments"`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err = sess.RunInTx(ctx, func(ctx context.Context, tx *Session) error {
		_, err := tx.CountEnrollments(ctx, 1)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	plain := errors.New("plain")
	assert.Equal(t, plain, classify(plain))
}
