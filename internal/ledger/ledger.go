package ledger

import (
	"sort"
	"sync"
)

// Ledger counts intercepted accesses per AccessKey.
type Ledger interface {
	// Increment records one access and returns the post-increment count.
	// An unseen key starts at 0, so its first access returns 1.
	Increment(key string) int
}

// Memory is an in-process Ledger. Counts never decrease and keys are kept
// for the lifetime of the ledger. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{counts: make(map[string]int)}
}

// Increment implements Ledger.
func (m *Memory) Increment(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[key]++
	return m.counts[key]
}

// Count returns the current count for key without changing it.
func (m *Memory) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// Snapshot returns a copy of all counts.
func (m *Memory) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// Keys returns the counted keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.counts))
	for k := range m.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset drops all counts. Installed interceptors that already reverted stay
// reverted; only future counting starts over.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int)
}
