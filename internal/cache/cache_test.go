package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMemoizesHitsAndMisses(t *testing.T) {
	calls := map[string]int{}
	c := New(func(name string) (int, bool) {
		calls[name]++
		if name == "sim/known" {
			return 7, true
		}
		return 0, false
	})

	for i := 0; i < 3; i++ {
		h, ok := c.Get("sim/known")
		assert.True(t, ok)
		assert.Equal(t, 7, h)

		_, ok = c.Get("sim/missing")
		assert.False(t, ok)
	}

	assert.Equal(t, 1, calls["sim/known"])
	assert.Equal(t, 1, calls["sim/missing"])
	assert.Equal(t, 2, c.Len())
}

func TestClearForcesResolve(t *testing.T) {
	calls := 0
	c := New(func(string) (int, bool) {
		calls++
		return calls, true
	})

	h, _ := c.Get("a")
	assert.Equal(t, 1, h)

	c.Clear()
	assert.Equal(t, 0, c.Len())

	h, _ = c.Get("a")
	assert.Equal(t, 2, h)
	assert.Equal(t, 2, calls)
}
