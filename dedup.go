package main

import (
	"time"
)

// Aggregation table sizing and default window
const (
	MaxAggregationEntries = 1024
	DefaultDedupWindow    = 60 * time.Second
)

// FlushReason tags why an aggregation entry was emitted.
type FlushReason string

const (
	FlushWindowExpired FlushReason = "window_expired"
	FlushProcessExit   FlushReason = "process_exit"
	FlushShutdown      FlushReason = "shutdown"
)

// AggregationEntry accumulates repeated identical file-open events for
// one (pid, filepath) pair inside the dedup window.
type AggregationEntry struct {
	Hash       uint64
	LastSeenNs uint64
	Count      uint64
	Pid        uint32
	Flags      int32
	Comm       string
	Filepath   string
}

// FlushFunc receives an entry leaving the table together with the reason.
type FlushFunc func(entry AggregationEntry, reason FlushReason)

// FileOpenAggregator collapses repeated identical file-open events per
// process into a single counted emission. It is only ever touched by the
// consumption loop, so it carries no locking. The table is a flat
// unordered bag compacted by swap-with-last; iteration order after a
// removal is unspecified.
type FileOpenAggregator struct {
	entries  []AggregationEntry
	windowNs uint64
	flush    FlushFunc
}

// NewFileOpenAggregator creates an aggregator with the given window.
func NewFileOpenAggregator(window time.Duration, flush FlushFunc) *FileOpenAggregator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &FileOpenAggregator{
		entries:  make([]AggregationEntry, 0, MaxAggregationEntries),
		windowNs: uint64(window.Nanoseconds()),
		flush:    flush,
	}
}

// pathDigest folds pid and the full filepath into one digest with an
// order-sensitive polynomial accumulation. Collisions are additionally
// guarded by a pid/filepath equality check at lookup.
func pathDigest(pid uint32, path string) uint64 {
	h := uint64(pid)
	for i := 0; i < len(path); i++ {
		h = h*31 + uint64(path[i])
	}
	return h
}

// Observe records one file-open occurrence at nowNs and reports whether
// the caller should still emit the raw event. Expired entries are swept
// and flushed first; a surviving entry with the same digest absorbs the
// event (count incremented, window refreshed) and suppresses it. First
// occurrences are emitted normally, as are events arriving while the
// table is full.
func (a *FileOpenAggregator) Observe(pid uint32, comm, path string, flags int32, nowNs uint64) bool {
	a.sweep(nowNs)

	digest := pathDigest(pid, path)
	for i := range a.entries {
		e := &a.entries[i]
		if e.Hash == digest && e.Pid == pid && e.Filepath == path {
			e.Count++
			e.LastSeenNs = nowNs
			dedupSuppressedTotal.Inc()
			return false
		}
	}

	if len(a.entries) >= MaxAggregationEntries {
		// Best-effort degradation: emit directly, no aggregation.
		return true
	}

	a.entries = append(a.entries, AggregationEntry{
		Hash:       digest,
		LastSeenNs: nowNs,
		Count:      1,
		Pid:        pid,
		Flags:      flags,
		Comm:       comm,
		Filepath:   path,
	})
	return true
}

// FlushPid flushes and removes every entry belonging to pid, regardless
// of window expiry. Called on process exit so no accumulated count is
// lost mid-window.
func (a *FileOpenAggregator) FlushPid(pid uint32) {
	for i := 0; i < len(a.entries); {
		if a.entries[i].Pid == pid {
			a.remove(i, FlushProcessExit)
			continue
		}
		i++
	}
}

// FlushAll drains the table, tagging every entry with reason.
func (a *FileOpenAggregator) FlushAll(reason FlushReason) {
	for len(a.entries) > 0 {
		a.remove(len(a.entries)-1, reason)
	}
}

// Len returns the current number of aggregation entries.
func (a *FileOpenAggregator) Len() int {
	return len(a.entries)
}

func (a *FileOpenAggregator) sweep(nowNs uint64) {
	for i := 0; i < len(a.entries); {
		if nowNs > a.entries[i].LastSeenNs && nowNs-a.entries[i].LastSeenNs > a.windowNs {
			a.remove(i, FlushWindowExpired)
			continue
		}
		i++
	}
}

// remove flushes entry i and compacts with swap-with-last.
func (a *FileOpenAggregator) remove(i int, reason FlushReason) {
	entry := a.entries[i]
	last := len(a.entries) - 1
	a.entries[i] = a.entries[last]
	a.entries = a.entries[:last]

	dedupFlushesTotal.WithLabelValues(string(reason)).Inc()
	if a.flush != nil {
		a.flush(entry, reason)
	}
}
