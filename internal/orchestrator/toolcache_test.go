package orchestrator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheKey_Canonical(t *testing.T) {
	a := cacheKey("lookup", map[string]any{"q": "x", "limit": 3, "opts": map[string]any{"b": 1, "a": 2}})
	b := cacheKey("lookup", map[string]any{"opts": map[string]any{"a": 2, "b": 1}, "limit": 3, "q": "x"})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, cacheKey("search", map[string]any{"q": "x", "limit": 3, "opts": map[string]any{"b": 1, "a": 2}}))
	assert.NotEqual(t, cacheKey("lookup", nil), cacheKey("lookup", map[string]any{"q": "x"}))
}

func TestToolCache_SingleInvocationUnderConcurrency(t *testing.T) {
	c := newToolCache()
	var invoked atomic.Int32
	var wg sync.WaitGroup
	cachedCount := atomic.Int32{}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, cached := c.do("k", func() ToolResult {
				invoked.Add(1)
				time.Sleep(10 * time.Millisecond)
				return ToolResult{Tool: "lookup", Success: true, Result: "v"}
			})
			assert.Equal(t, "v", res.Result)
			if cached {
				cachedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), invoked.Load())
	assert.Equal(t, int32(9), cachedCount.Load())
	assert.Equal(t, 1, c.len())
}

func TestToolCache_CachesFailures(t *testing.T) {
	c := newToolCache()
	calls := 0
	invoke := func() ToolResult {
		calls++
		return ToolResult{Tool: "lookup", Error: "down"}
	}
	c.do("k", invoke)
	res, cached := c.do("k", invoke)
	assert.True(t, cached)
	assert.Equal(t, "down", res.Error)
	assert.Equal(t, 1, calls)
}
