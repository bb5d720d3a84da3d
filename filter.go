package main

import (
	"fmt"
	"strings"
)

// TraceMode selects the eligibility policy.
type TraceMode int

const (
	// ModeAll traces every process and never mutates the tracked table.
	ModeAll TraceMode = iota
	// ModeProc decides process lifecycle eligibility like ModeFilter but
	// defers fine-grained (file/shell/ssl) gating to the consumption
	// loop, which checks tracked-table membership at dispatch time.
	ModeProc
	// ModeFilter traces only filter and lineage matches; fine-grained
	// events are gated at the emission point.
	ModeFilter
)

func (m TraceMode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeProc:
		return "proc"
	case ModeFilter:
		return "filter"
	}
	return "unknown"
}

// ParseTraceMode converts the --mode flag value.
func ParseTraceMode(s string) (TraceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return ModeAll, nil
	case "proc":
		return ModeProc, nil
	case "filter", "":
		return ModeFilter, nil
	}
	return ModeFilter, fmt.Errorf("unknown trace mode: %q (supported: all, proc, filter)", s)
}

// EligibilityEngine is the per-process filtering policy. It models the
// kernel-resident decision procedure: bounded work per call, all shared
// state behind atomic per-key tables, never fails. Lookups against an
// absent key mean "not tracked"; insert failures at table capacity are
// accepted data loss.
type EligibilityEngine struct {
	mode      TraceMode
	tracked   PidTable
	filters   *CommandFilterSet
	targetPid uint32 // when nonzero, replaces the filter-set check
}

// NewEligibilityEngine wires the engine to its injected tables.
func NewEligibilityEngine(mode TraceMode, tracked PidTable, filters *CommandFilterSet, targetPid uint32) *EligibilityEngine {
	return &EligibilityEngine{
		mode:      mode,
		tracked:   tracked,
		filters:   filters,
		targetPid: targetPid,
	}
}

func (e *EligibilityEngine) Mode() TraceMode { return e.mode }

// ShouldTrace is invoked on every process-creation event. In FILTER and
// PROC modes eligibility is the first match of: pid already tracked,
// parent tracked (child inherits, with a table insert making inheritance
// transitive and permanent for the child's lifetime), or a command-name
// filter match. A configured target pid replaces the filter-set check.
func (e *EligibilityEngine) ShouldTrace(comm string, pid, ppid uint32) bool {
	if e.mode == ModeAll {
		return true
	}

	if info, ok := e.tracked.Get(pid); ok && info.Tracked {
		return true
	}

	if info, ok := e.tracked.Get(ppid); ok && info.Tracked {
		e.tracked.Put(PidInfo{Pid: pid, Ppid: ppid, Tracked: true})
		return true
	}

	if e.targetPid != 0 {
		if pid == e.targetPid {
			e.tracked.Put(PidInfo{Pid: pid, Ppid: ppid, Tracked: true})
			return true
		}
		return false
	}

	if e.filters.Matches(comm) {
		e.tracked.Put(PidInfo{Pid: pid, Ppid: ppid, Tracked: true})
		return true
	}

	return false
}

// IsTracked is the membership-only check used to gate fine-grained
// operations. It never mutates the table.
func (e *EligibilityEngine) IsTracked(pid uint32) bool {
	if e.mode == ModeAll {
		return true
	}
	info, ok := e.tracked.Get(pid)
	return ok && info.Tracked
}

// HandleExit ends inheritance for a lineage. Children already spawned
// keep their own entries. In ModeAll entries are never proactively
// deleted during the run.
func (e *EligibilityEngine) HandleExit(pid uint32) {
	if e.mode == ModeAll {
		return
	}
	e.tracked.Delete(pid)
}
