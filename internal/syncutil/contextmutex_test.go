package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex(0)
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(ctx, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, n, counter)
}

func TestKeyedMutex_ContextCancelledWhileWaiting(t *testing.T) {
	m := NewKeyedMutex(1)

	unlock, err := m.LockContext(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// single shard: any key contends
	_, err = m.LockContext(ctx, "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := m.LockContext(context.Background(), "b")
	require.NoError(t, err)
	unlock2()
}

func TestKeyedMutex_IndependentShards(t *testing.T) {
	m := NewKeyedMutex(DefaultShards)

	var k1, k2 string
	for i := 0; ; i++ {
		k1, k2 = "key-a", "key-"+string(rune('b'+i))
		if m.shardIdx(k1) != m.shardIdx(k2) {
			break
		}
	}

	unlock1, err := m.LockContext(context.Background(), k1)
	require.NoError(t, err)
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := m.LockContext(ctx, k2)
	require.NoError(t, err)
	unlock2()
}
