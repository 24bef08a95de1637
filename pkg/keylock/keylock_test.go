package keylock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modkit/pkg/errors"
)

// tracker records how many goroutines are inside a critical section.
type tracker struct {
	current atomic.Int32
	max     atomic.Int32
	events  atomic.Int32
}

func (tr *tracker) enter() {
	n := tr.current.Add(1)
	for {
		m := tr.max.Load()
		if n <= m || tr.max.CompareAndSwap(m, n) {
			break
		}
	}
}

func (tr *tracker) leave() {
	tr.current.Add(-1)
	tr.events.Add(1)
}

func hammer(t *testing.T, table *Table, keys []string) *tracker {
	t.Helper()
	tr := &tracker{}
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			tok, err := table.Acquire(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			tr.enter()
			time.Sleep(20 * time.Millisecond)
			tr.leave()
			tok.Release()
		}(key)
	}
	wg.Wait()
	return tr
}

func TestAcquire_SameKeySerializes(t *testing.T) {
	table := New()
	keys := make([]string, 10)
	for i := range keys {
		keys[i] = "sha256:abc"
	}

	tr := hammer(t, table, keys)
	assert.Equal(t, int32(10), tr.events.Load())
	assert.Equal(t, int32(1), tr.max.Load())
	assert.Equal(t, 0, table.Len())
}

func TestAcquire_DistinctKeysOverlap(t *testing.T) {
	table := New()
	keys := make([]string, 5)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}

	tr := hammer(t, table, keys)
	assert.Equal(t, int32(5), tr.events.Load())
	assert.Greater(t, tr.max.Load(), int32(1))
	assert.Equal(t, 0, table.Len())
}

func TestAcquire_Timeout(t *testing.T) {
	table := New()
	held, err := table.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = table.Acquire(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrLockAcquire)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The timed out waiter left the count intact: the next waiter gets the
	// lock as soon as the holder releases it.
	acquired := make(chan *Token)
	go func() {
		tok, err := table.Acquire(context.Background(), "k")
		assert.NoError(t, err)
		acquired <- tok
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while still held")
	case <-time.After(20 * time.Millisecond):
	}
	held.Release()

	select {
	case tok := <-acquired:
		assert.Equal(t, "k", tok.Key())
		tok.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	assert.Equal(t, 0, table.Len())
}

func TestRelease_Idempotent(t *testing.T) {
	table := New()
	tok, err := table.Acquire(context.Background(), "k")
	require.NoError(t, err)
	tok.Release()
	tok.Release()

	again, ok := table.TryAcquire("k")
	require.True(t, ok)
	_, ok = table.TryAcquire("k")
	assert.False(t, ok)
	again.Release()
	assert.Equal(t, 0, table.Len())
}
