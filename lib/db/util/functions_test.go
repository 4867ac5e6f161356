package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStringSeed(t *testing.T) {
	assert.Equal(t, HashString("key", 1), HashString("key", 1))
	assert.NotEqual(t, HashString("key", 1), HashString("key", 2))
	assert.NotEqual(t, HashString("key-a", 1), HashString("key-b", 1))
}

func TestPickIsStable(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6}
	key := HashString("some-key", 42)
	first := Pick(key, items)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Pick(key, items))
	}
}

func TestKeyLocksSerializeSameKey(t *testing.T) {
	locks := NewKeyLocks(16)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				unlock := locks.Lock("shared")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 5000, counter)
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	assert.Equal(t, 0, h.MedianEstimate())

	for i := 0; i < 10; i++ {
		h.AddSample(100)
	}
	assert.Equal(t, int64(10), h.GetCount())
	assert.Equal(t, 100, h.AverageSize())
	// 100 lies in the (64, 256] bucket
	assert.Equal(t, 160, h.MedianEstimate())
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10})
	assert.InDelta(t, 1.0, even.DistributionQuality, 1e-9)

	skewed := NewDistributionStats([]float64{0, 0, 30})
	assert.Less(t, skewed.DistributionQuality, even.DistributionQuality)
}
