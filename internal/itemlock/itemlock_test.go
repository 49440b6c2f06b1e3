package itemlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSameKeyIsSerialized(t *testing.T) {
	t.Parallel()

	l := New()
	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("book")
			defer unlock()

			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInside.Load())
	require.Zero(t, l.Held())
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	l := New()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestLockContextCanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	l := New()
	unlock := l.Lock("a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	second, err := l.LockContext(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, second)

	unlock()
	unlock() // double release is a no-op
	require.Zero(t, l.Held())
}
