package main

import (
	"sync"

	"proctrace/types"
)

// Table capacities matching the BPF map sizing
const (
	MaxTrackedPids    = 1024
	MaxCommandFilters = 10
)

// PidInfo is one tracked-entity table entry. Presence with Tracked set is
// definitive proof of current eligibility.
type PidInfo struct {
	Pid     uint32
	Ppid    uint32
	Tracked bool
}

// PidTable is the shared tracked-PID table. Implementations provide atomic
// single-key operations but no cross-key transactions; callers tolerate
// stale reads between keys.
type PidTable interface {
	Get(pid uint32) (PidInfo, bool)
	// Put inserts or overwrites an entry. It reports false when a new
	// entry cannot be inserted because the table is at capacity; that
	// failure is best-effort data loss, not an error.
	Put(info PidInfo) bool
	Delete(pid uint32)
	Len() int
}

type pidTable struct {
	mu       sync.RWMutex
	entries  map[uint32]PidInfo
	capacity int
}

// NewPidTable returns an in-memory PidTable with the standard capacity.
func NewPidTable() PidTable {
	return &pidTable{
		entries:  make(map[uint32]PidInfo),
		capacity: MaxTrackedPids,
	}
}

func (t *pidTable) Get(pid uint32) (PidInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.entries[pid]
	return info, ok
}

func (t *pidTable) Put(info PidInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[info.Pid]; !exists && len(t.entries) >= t.capacity {
		return false
	}
	t.entries[info.Pid] = info
	return true
}

func (t *pidTable) Delete(pid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, pid)
}

func (t *pidTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// StartTable records exec timestamps keyed by pid so exit handling can
// compute process lifetime.
type StartTable interface {
	Record(pid uint32, timestampNs uint64)
	// Take returns the recorded start timestamp and removes it. A miss
	// means the process started before the tracer attached.
	Take(pid uint32) (uint64, bool)
}

type startTable struct {
	mu      sync.Mutex
	entries map[uint32]uint64
}

// NewStartTable returns an in-memory StartTable.
func NewStartTable() StartTable {
	return &startTable{entries: make(map[uint32]uint64)}
}

func (t *startTable) Record(pid uint32, timestampNs uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[pid] = timestampNs
}

func (t *startTable) Take(pid uint32) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.entries[pid]
	if ok {
		delete(t.entries, pid)
	}
	return ts, ok
}

type commandFilter struct {
	comm    [types.TaskCommLen]byte
	enabled bool
}

// CommandFilterSet is the fixed-capacity ordered list of command-name
// filters. It is configured once at startup and immutable after probes
// attach; unused slots stay disabled with an empty pattern.
type CommandFilterSet struct {
	filters [MaxCommandFilters]commandFilter
}

// NewCommandFilterSet configures up to MaxCommandFilters patterns. Excess
// patterns are silently dropped. Patterns longer than the bounded comm
// buffer are truncated the same way the kernel truncates comm.
func NewCommandFilterSet(patterns []string) *CommandFilterSet {
	s := &CommandFilterSet{}
	slot := 0
	for _, p := range patterns {
		if slot >= MaxCommandFilters {
			break
		}
		if p == "" {
			continue
		}
		s.filters[slot].comm = types.CommBytes(p)
		s.filters[slot].enabled = true
		slot++
	}
	return s
}

// Matches reports whether comm starts with any enabled filter pattern.
// The loop is bounded by the fixed slot count, mirroring the unrolled
// filter scan in the BPF program.
func (s *CommandFilterSet) Matches(comm string) bool {
	for i := 0; i < MaxCommandFilters; i++ {
		f := &s.filters[i]
		if !f.enabled {
			continue
		}
		if commStartsWith(comm, f.comm) {
			return true
		}
	}
	return false
}

// Enabled returns the configured patterns in slot order.
func (s *CommandFilterSet) Enabled() []string {
	var out []string
	for i := 0; i < MaxCommandFilters; i++ {
		if s.filters[i].enabled {
			out = append(out, types.CommString(s.filters[i].comm))
		}
	}
	return out
}

// commStartsWith compares against the NUL-terminated pattern buffer,
// byte for byte, capped at the comm buffer length.
func commStartsWith(comm string, pattern [types.TaskCommLen]byte) bool {
	for i := 0; i < types.TaskCommLen-1; i++ {
		if pattern[i] == 0 {
			return true
		}
		if i >= len(comm) || comm[i] != pattern[i] {
			return false
		}
	}
	return true
}
