package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerialisesSameKey(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	var active, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "cse:3")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			assert.NoError(t, release(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Empty(t, locker.slots)
}

func TestLocalLockerTimesOut(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)
	release, err := locker.Acquire(context.Background(), "cse:3")
	require.NoError(t, err)
	defer release(context.Background()) //nolint:errcheck

	_, err = locker.Acquire(context.Background(), "cse:3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)
	first, err := locker.Acquire(context.Background(), "cse:3")
	require.NoError(t, err)
	second, err := locker.Acquire(context.Background(), "ece:3")
	require.NoError(t, err)

	require.NoError(t, first(context.Background()))
	require.NoError(t, second(context.Background()))
}

func TestLocalLockerReleaseIsIdempotent(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)
	release, err := locker.Acquire(context.Background(), "cse:3")
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
	require.NoError(t, release(context.Background()))

	again, err := locker.Acquire(context.Background(), "cse:3")
	require.NoError(t, err)
	require.NoError(t, again(context.Background()))
}
