package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
)

// toolCache memoizes tool results for one orchestration run. The first
// caller for a key runs the tool; concurrent callers for the same key wait
// for that result instead of invoking the tool again.
type toolCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	done   chan struct{}
	result ToolResult
}

func newToolCache() *toolCache {
	return &toolCache{entries: make(map[string]*cacheEntry)}
}

// cacheKey is the tool name plus canonical JSON of params. encoding/json
// sorts map keys, so equal params give equal keys.
func cacheKey(name string, params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return name + "\x00" + fmt.Sprintf("%#v", params)
	}
	return name + "\x00" + string(data)
}

// do returns the cached result for key, or runs invoke and caches what it
// returns. cached reports whether the result was reused.
func (c *toolCache) do(key string, invoke func() ToolResult) (res ToolResult, cached bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.done
		return e.result, true
	}
	e := &cacheEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	defer close(e.done)
	e.result = invoke()
	return e.result, false
}

func (c *toolCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
