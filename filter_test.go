package main

import (
	"testing"
)

func newTestEngine(mode TraceMode, patterns []string, targetPid uint32) (*EligibilityEngine, PidTable) {
	tracked := NewPidTable()
	engine := NewEligibilityEngine(mode, tracked, NewCommandFilterSet(patterns), targetPid)
	return engine, tracked
}

func TestParseTraceMode(t *testing.T) {
	tests := []struct {
		input   string
		want    TraceMode
		wantErr bool
	}{
		{"all", ModeAll, false},
		{"proc", ModeProc, false},
		{"filter", ModeFilter, false},
		{"FILTER", ModeFilter, false},
		{"", ModeFilter, false},
		{"bogus", ModeFilter, true},
	}

	for _, tt := range tests {
		got, err := ParseTraceMode(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTraceMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseTraceMode(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestShouldTraceCommFilter(t *testing.T) {
	engine, _ := newTestEngine(ModeFilter, []string{"python", "nginx"}, 0)

	tests := []struct {
		comm string
		pid  uint32
		want bool
	}{
		{"python3", 100, true},
		{"python", 101, true},
		{"nginx", 102, true},
		{"bash", 103, false},
		{"pytho", 104, false},
	}

	for _, tt := range tests {
		if got := engine.ShouldTrace(tt.comm, tt.pid, 1); got != tt.want {
			t.Errorf("ShouldTrace(%q) = %v, want %v", tt.comm, got, tt.want)
		}
	}
}

func TestShouldTraceInheritance(t *testing.T) {
	engine, tracked := newTestEngine(ModeFilter, []string{"python"}, 0)

	// Root match inserts the pid.
	if !engine.ShouldTrace("python3", 100, 1) {
		t.Fatal("root process should be traced")
	}
	// Child of a tracked parent inherits even with a non-matching comm.
	if !engine.ShouldTrace("sh", 200, 100) {
		t.Fatal("child of tracked parent should be traced")
	}
	// Grandchild inherits transitively through the child's entry.
	if !engine.ShouldTrace("curl", 300, 200) {
		t.Fatal("grandchild should inherit through child entry")
	}
	// Unrelated process stays invisible.
	if engine.ShouldTrace("cat", 400, 1) {
		t.Fatal("unrelated process should not be traced")
	}

	for _, pid := range []uint32{100, 200, 300} {
		if info, ok := tracked.Get(pid); !ok || !info.Tracked {
			t.Errorf("pid %d should be in the tracked table", pid)
		}
	}
}

func TestShouldTraceModeAllNeverTouchesTable(t *testing.T) {
	engine, tracked := newTestEngine(ModeAll, nil, 0)

	if !engine.ShouldTrace("anything", 100, 1) {
		t.Fatal("mode all should trace everything")
	}
	if !engine.IsTracked(999) {
		t.Fatal("mode all should consider every pid tracked")
	}
	engine.HandleExit(100)
	if tracked.Len() != 0 {
		t.Fatalf("mode all should never mutate the table, got %d entries", tracked.Len())
	}
}

func TestShouldTraceTargetPidReplacesFilters(t *testing.T) {
	engine, _ := newTestEngine(ModeFilter, []string{"python"}, 4242)

	// Filter patterns are ignored when a target pid is set.
	if engine.ShouldTrace("python3", 100, 1) {
		t.Fatal("comm filter should be bypassed when target pid is set")
	}
	if !engine.ShouldTrace("whatever", 4242, 1) {
		t.Fatal("target pid should be traced")
	}
	// Descendants of the target still inherit.
	if !engine.ShouldTrace("child", 5000, 4242) {
		t.Fatal("child of target pid should be traced")
	}
}

func TestHandleExitEndsInheritance(t *testing.T) {
	engine, tracked := newTestEngine(ModeFilter, []string{"python"}, 0)

	engine.ShouldTrace("python3", 100, 1)
	engine.ShouldTrace("sh", 200, 100)

	engine.HandleExit(100)
	if _, ok := tracked.Get(100); ok {
		t.Fatal("exited pid should be removed")
	}
	// The child keeps its own entry and keeps propagating.
	if !engine.ShouldTrace("curl", 300, 200) {
		t.Fatal("surviving child should still confer eligibility")
	}
	// A new process reusing the exited parent as ppid no longer inherits.
	if engine.ShouldTrace("cat", 400, 100) {
		t.Fatal("inheritance should end at exit")
	}
}

func TestCommandFilterSetCapacity(t *testing.T) {
	patterns := make([]string, 0, MaxCommandFilters+1)
	for i := 0; i < MaxCommandFilters; i++ {
		patterns = append(patterns, string(rune('a'+i)))
	}
	patterns = append(patterns, "overflow")

	s := NewCommandFilterSet(patterns)

	if got := len(s.Enabled()); got != MaxCommandFilters {
		t.Fatalf("Enabled() = %d patterns, want %d", got, MaxCommandFilters)
	}
	// The first ten still match.
	if !s.Matches("a-something") {
		t.Error("first configured pattern should match")
	}
	// The eleventh is silently dropped.
	if s.Matches("overflow") {
		t.Error("pattern beyond capacity should be ignored")
	}
}

func TestCommandFilterSetEmptyPatternsSkipped(t *testing.T) {
	s := NewCommandFilterSet([]string{"", "redis", ""})
	if got := len(s.Enabled()); got != 1 {
		t.Fatalf("Enabled() = %d patterns, want 1", got)
	}
	if !s.Matches("redis-server") {
		t.Error("non-empty pattern should still match after empty ones are skipped")
	}
	if s.Matches("anything") {
		t.Error("empty patterns must not match everything")
	}
}

func TestCommStartsWithTruncation(t *testing.T) {
	// Pattern longer than the comm buffer is truncated like the kernel
	// truncates comm itself.
	long := "averyveryverylongcommandname"
	s := NewCommandFilterSet([]string{long})
	if !s.Matches(long[:15]) {
		t.Error("truncated pattern should match the truncated comm")
	}
}
