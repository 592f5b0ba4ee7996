package collection

import "sync"

// CycleOutcome is the terminal state of one collection cycle.
type CycleOutcome string

const (
	OutcomeCompleted      CycleOutcome = "completed"
	OutcomeFailed         CycleOutcome = "failed"
	OutcomePartialFailure CycleOutcome = "partial_failure"
)

// Status is what external callers can observe about an audience's
// collection: whether a cycle is in flight, how far it got, and how the last
// cycle ended (empty while Running or before the first cycle).
type Status struct {
	IsCollecting bool
	Progress     int
	Outcome      CycleOutcome
}

// Tracker is the process-wide audience -> collection status map. Read-heavy
// from API handlers, written only by the orchestrator. Each Set overwrites
// the previous status wholesale so readers can never observe a blend of two
// cycles.
type Tracker interface {
	Get(audienceID string) (Status, bool)
	Set(audienceID string, status Status)
	Delete(audienceID string)
}

// MemoryTracker is the default in-process Tracker.
type MemoryTracker struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{statuses: make(map[string]Status)}
}

func (t *MemoryTracker) Get(audienceID string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.statuses[audienceID]
	return status, ok
}

func (t *MemoryTracker) Set(audienceID string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[audienceID] = status
}

func (t *MemoryTracker) Delete(audienceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.statuses, audienceID)
}
