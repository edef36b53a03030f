package replicator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowAddAndContains(t *testing.T) {
	window := NewWindow()

	assert.False(t, window.Contains("k2r:orders:0:42"))
	window.Add("k2r:orders:0:42")
	assert.True(t, window.Contains("k2r:orders:0:42"))
	assert.Equal(t, 1, window.Len())
}

func TestWindowReAddKeepsPosition(t *testing.T) {
	window := NewWindow()

	window.Add("a")
	window.Add("b")
	window.Add("a")
	assert.Equal(t, 2, window.Len())
}

func TestWindowNeverExceedsCap(t *testing.T) {
	window := NewWindow()

	for i := 0; i < 25_000; i++ {
		window.Add(fmt.Sprintf("id-%d", i))
		assert.LessOrEqual(t, window.Len(), 10_000)
	}
}

func TestWindowEvictsOldestBatch(t *testing.T) {
	window := NewWindow()

	for i := 0; i < 10_001; i++ {
		window.Add(fmt.Sprintf("id-%d", i))
	}

	// The 10,001st insert evicts exactly the 1,000 oldest entries.
	assert.Equal(t, 9_001, window.Len())
	for i := 0; i < 1_000; i++ {
		assert.False(t, window.Contains(fmt.Sprintf("id-%d", i)), "id-%d should be evicted", i)
	}
	for _, i := range []int{1_000, 5_000, 9_999, 10_000} {
		assert.True(t, window.Contains(fmt.Sprintf("id-%d", i)), "id-%d should survive", i)
	}
}
