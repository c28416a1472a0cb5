package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentTxCache_EvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	c := NewRecentTxCache(3)

	for i := 0; i < 4; i++ {
		added, err := c.Add(ctx, "W", xfer(fmt.Sprintf("sig%d", i), "W", "X", 10, at(int64(i))))
		require.NoError(t, err)
		assert.True(t, added)
	}

	snap, err := c.Snapshot(ctx, "W")
	require.NoError(t, err)
	require.Len(t, snap, 3)
	assert.Equal(t, "sig1", snap[0].Signature)
	assert.Equal(t, "sig3", snap[2].Signature)

	ok, _ := c.Contains(ctx, "W", "sig0")
	assert.False(t, ok)
}

func TestRecentTxCache_Dedup(t *testing.T) {
	ctx := context.Background()
	c := NewRecentTxCache(5)

	tx := xfer("dup", "W", "X", 10, at(0))
	added, _ := c.Add(ctx, "W", tx)
	assert.True(t, added)
	added, _ = c.Add(ctx, "W", tx)
	assert.False(t, added)
	assert.Equal(t, 1, c.Len("W"))

	added, _ = c.Add(ctx, "Other", tx)
	assert.True(t, added, "dedup is per address")
}

func TestRecentTxCache_SnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	c := NewRecentTxCache(2)
	_, _ = c.Add(ctx, "W", xfer("a", "W", "X", 1, nil))

	snap, _ := c.Snapshot(ctx, "W")
	_, _ = c.Add(ctx, "W", xfer("b", "W", "X", 1, nil))
	_, _ = c.Add(ctx, "W", xfer("c", "W", "X", 1, nil))

	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].Signature)
}

func TestRecentTxCache_Resize(t *testing.T) {
	ctx := context.Background()
	c := NewRecentTxCache(5)
	for i := 0; i < 5; i++ {
		_, _ = c.Add(ctx, "W", xfer(fmt.Sprintf("s%d", i), "W", "X", 1, nil))
	}

	c.Resize(2)
	snap, _ := c.Snapshot(ctx, "W")
	require.Len(t, snap, 2)
	assert.Equal(t, "s3", snap[0].Signature)

	c.Resize(0)
	assert.Equal(t, 1, c.Len("W"))
}

func TestRecentTxCache_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	c := NewRecentTxCache(20)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = c.Add(ctx, "W", xfer(fmt.Sprintf("w%d-%d", w, i), "W", "X", 1, nil))
				_, _ = c.Snapshot(ctx, "W")
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 20, c.Len("W"))
}
