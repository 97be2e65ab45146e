package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageBuffer_FlushesAtThreshold(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]int

	buf := NewUsageBuffer[int](3, time.Hour, func(batch []int) {
		mu.Lock()
		defer mu.Unlock()
		flushed = append(flushed, batch)
	})
	defer buf.Close()

	buf.Append(1)
	buf.Append(2)
	buf.Append(3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 1 && len(flushed[0]) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestUsageBuffer_FlushesOnInterval(t *testing.T) {
	var mu sync.Mutex
	flushedCount := 0

	buf := NewUsageBuffer[string](1000, 20*time.Millisecond, func(batch []string) {
		mu.Lock()
		defer mu.Unlock()
		flushedCount += len(batch)
	})
	defer buf.Close()

	buf.Append("a")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return flushedCount == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, true)
}
