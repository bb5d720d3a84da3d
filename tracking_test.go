package main

import (
	"testing"
)

func TestPidTableCapacity(t *testing.T) {
	table := NewPidTable()

	for i := 0; i < MaxTrackedPids; i++ {
		if !table.Put(PidInfo{Pid: uint32(i + 1), Tracked: true}) {
			t.Fatalf("insert %d failed below capacity", i)
		}
	}
	if table.Len() != MaxTrackedPids {
		t.Fatalf("Len() = %d, want %d", table.Len(), MaxTrackedPids)
	}

	// New inserts at capacity fail, best effort.
	if table.Put(PidInfo{Pid: MaxTrackedPids + 100, Tracked: true}) {
		t.Error("insert beyond capacity should fail")
	}
	// Overwriting an existing entry still works at capacity.
	if !table.Put(PidInfo{Pid: 1, Ppid: 99, Tracked: true}) {
		t.Error("overwrite at capacity should succeed")
	}
	if info, _ := table.Get(1); info.Ppid != 99 {
		t.Errorf("overwrite did not take effect, ppid = %d", info.Ppid)
	}

	// Deletion frees a slot.
	table.Delete(1)
	if !table.Put(PidInfo{Pid: MaxTrackedPids + 100, Tracked: true}) {
		t.Error("insert after delete should succeed")
	}
}

func TestStartTableTake(t *testing.T) {
	starts := NewStartTable()

	if _, ok := starts.Take(42); ok {
		t.Fatal("Take on empty table should miss")
	}

	starts.Record(42, 1000)
	ts, ok := starts.Take(42)
	if !ok || ts != 1000 {
		t.Fatalf("Take(42) = %d, %v; want 1000, true", ts, ok)
	}
	// Take removes the entry.
	if _, ok := starts.Take(42); ok {
		t.Fatal("second Take should miss")
	}
}

func TestStartTableOverwrite(t *testing.T) {
	starts := NewStartTable()
	starts.Record(7, 100)
	starts.Record(7, 200)
	if ts, _ := starts.Take(7); ts != 200 {
		t.Fatalf("Take(7) = %d, want latest record 200", ts)
	}
}
