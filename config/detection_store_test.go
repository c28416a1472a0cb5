package config

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionStore_SwapReturnsPrevious(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	store := NewDetectionStore(cfg.Detection)
	first := store.Load()

	next := cfg.Detection
	next.LargeTransfer = 7
	old, err := store.Swap(next)
	require.NoError(t, err)

	assert.Same(t, first, old)
	assert.Equal(t, int64(7), store.Load().LargeTransfer)
	assert.Equal(t, cfg.Detection.LargeTransfer, first.LargeTransfer, "old snapshot must be untouched")
}

func TestDetectionStore_SwapRejectsInvalid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	store := NewDetectionStore(cfg.Detection)
	bad := cfg.Detection
	bad.RecentCacheSize = 0

	_, err = store.Swap(bad)
	require.Error(t, err)
	assert.Equal(t, 20, store.Load().RecentCacheSize)
}

func TestDetectionStore_ConcurrentReaders(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	store := NewDetectionStore(cfg.Detection)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					next := *store.Load()
					next.LargeTransfer = int64(j + 1)
					_, _ = store.Swap(next)
				} else {
					assert.Positive(t, store.Load().LargeTransfer)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestLoader_ReloadDetection(t *testing.T) {
	path := writeConfig(t, "detection:\n  large_transfer: 100\n")

	loader, err := NewLoader(path)
	require.NoError(t, err)
	cfg, err := loader.Config()
	require.NoError(t, err)
	store := NewDetectionStore(cfg.Detection)

	require.NoError(t, os.WriteFile(path, []byte("detection:\n  large_transfer: 250\n  fan_out_min_recipients: 5\n"), 0644))

	var gotOld, gotNew *Detection
	err = loader.ReloadDetection(store, func(old, next *Detection) {
		gotOld, gotNew = old, next
	})
	require.NoError(t, err)

	require.NotNil(t, gotOld)
	assert.Equal(t, int64(100), gotOld.LargeTransfer)
	assert.Equal(t, int64(250), gotNew.LargeTransfer)
	assert.Equal(t, 5, store.Load().FanOutMinRecipients)
}

func TestLoader_ReloadDetection_InvalidKeepsPrevious(t *testing.T) {
	path := writeConfig(t, "detection:\n  large_transfer: 100\n")

	loader, err := NewLoader(path)
	require.NoError(t, err)
	cfg, err := loader.Config()
	require.NoError(t, err)
	store := NewDetectionStore(cfg.Detection)

	require.NoError(t, os.WriteFile(path, []byte("detection:\n  large_transfer: -5\n"), 0644))

	called := false
	err = loader.ReloadDetection(store, func(_, _ *Detection) { called = true })
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, int64(100), store.Load().LargeTransfer)
}
