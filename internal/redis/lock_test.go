package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockKeys(t *testing.T) {
	id := uuid.MustParse("7b0c6a57-3f3e-4b43-9a0f-2f6a3f1f8c11")
	assert.Equal(t, "lock:doctor:7b0c6a57-3f3e-4b43-9a0f-2f6a3f1f8c11", DoctorLockKey(id))
	assert.Equal(t, "lock:slot:7b0c6a57-3f3e-4b43-9a0f-2f6a3f1f8c11", SlotLockKey(id))
}

func TestRedisLockerReleasesKey(t *testing.T) {
	mr, client := newMiniredis(t)
	locker := NewRedisLocker(client, 5*time.Second, 100*time.Millisecond)

	var held bool
	err := locker.WithLock(context.Background(), "lock:doctor:a", func(ctx context.Context) error {
		held = mr.Exists("lock:doctor:a")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, held)
	assert.False(t, mr.Exists("lock:doctor:a"))
}

func TestRedisLockerPropagatesError(t *testing.T) {
	mr, client := newMiniredis(t)
	locker := NewRedisLocker(client, 5*time.Second, 100*time.Millisecond)

	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"))
}

func TestRedisLockerGivesUpAfterWait(t *testing.T) {
	mr, client := newMiniredis(t)
	require.NoError(t, mr.Set("k", "someone-else"))

	locker := NewRedisLocker(client, 5*time.Second, 60*time.Millisecond)
	called := false
	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	// a foreign token is never deleted
	v, _ := mr.Get("k")
	assert.Equal(t, "someone-else", v)
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	mr, client := newMiniredis(t)
	require.NoError(t, mr.Set("k", "someone-else"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		mr.Del("k")
	}()

	locker := NewRedisLocker(client, 5*time.Second, 2*time.Second)
	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestLocalLockerSerializes(t *testing.T) {
	locker := NewLocalLocker(time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.locks)
}

func TestLocalLockerTimesOut(t *testing.T) {
	locker := NewLocalLocker(30 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// other keys are independent
	err = locker.WithLock(context.Background(), "other", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	close(release)
}
