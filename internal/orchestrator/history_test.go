package orchestrator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_EvictsOldestFirst(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(Execution{ScopeID: "s", Agent: KindReview, RunID: fmt.Sprint(i)})
	}

	got := h.Get("s", KindReview)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"2", "3", "4"}, []string{got[0].RunID, got[1].RunID, got[2].RunID})
}

func TestHistory_PartialAndKeyed(t *testing.T) {
	h := NewHistory(0)
	h.Append(Execution{ScopeID: "a", Agent: KindReview, RunID: "1"})
	h.Append(Execution{ScopeID: "a", Agent: KindDeploy, RunID: "2"})
	h.Append(Execution{ScopeID: "b", Agent: KindReview, RunID: "3"})

	assert.Len(t, h.Get("a", KindReview), 1)
	assert.Len(t, h.Get("a", KindDeploy), 1)
	assert.Equal(t, "3", h.Get("b", KindReview)[0].RunID)
	assert.NotNil(t, h.Get("c", KindReview))
}

func TestHistory_ReturnsCopy(t *testing.T) {
	h := NewHistory(2)
	h.Append(Execution{ScopeID: "s", Agent: KindReview, RunID: "1"})
	got := h.Get("s", KindReview)
	got[0].RunID = "changed"
	assert.Equal(t, "1", h.Get("s", KindReview)[0].RunID)
}

func TestHistory_ConcurrentAppend(t *testing.T) {
	h := NewHistory(HistoryCapacity)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Append(Execution{ScopeID: "s", Agent: KindCoding})
		}()
	}
	wg.Wait()
	assert.Len(t, h.Get("s", KindCoding), HistoryCapacity)
}
