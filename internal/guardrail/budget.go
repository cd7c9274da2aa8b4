package guardrail

import (
	"sync"

	"github.com/google/uuid"
)

type budgetKey struct {
	runID      uuid.UUID
	capability string
}

// CallBudget counts capability invocations per (run, capability). Runs
// never share counters, so one run exhausting its budget cannot affect
// another.
type CallBudget struct {
	mu     sync.Mutex
	counts map[budgetKey]int
}

// NewCallBudget creates an empty budget tracker.
func NewCallBudget() *CallBudget {
	return &CallBudget{counts: make(map[budgetKey]int)}
}

// Take consumes one call from the budget. Returns the count in use and
// whether the call is within max. A rejected call is not counted.
func (b *CallBudget) Take(runID uuid.UUID, capName string, max int) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := budgetKey{runID: runID, capability: capName}
	used := b.counts[key]
	if used >= max {
		return used, false
	}
	b.counts[key] = used + 1
	return used + 1, true
}

// Used returns the current count for a (run, capability) pair.
func (b *CallBudget) Used(runID uuid.UUID, capName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[budgetKey{runID: runID, capability: capName}]
}

// Release drops all counters belonging to the run.
func (b *CallBudget) Release(runID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.counts {
		if key.runID == runID {
			delete(b.counts, key)
		}
	}
}
