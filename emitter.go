package main

import (
	"bytes"
	"encoding/binary"
	"time"

	"proctrace/types"
)

// ExecInfo carries the raw arguments of a process-creation probe.
type ExecInfo struct {
	Pid         uint32
	Ppid        uint32
	Comm        string
	Filename    string
	TimestampNs uint64
}

// ExitInfo carries the raw arguments of a process-exit probe. Tid is the
// exiting thread; only the thread whose id equals the pid represents a
// true process exit.
type ExitInfo struct {
	Pid         uint32
	Tid         uint32
	Ppid        uint32
	Comm        string
	ExitCode    uint32
	TimestampNs uint64
}

// ReadlineInfo carries one captured interactive shell line.
type ReadlineInfo struct {
	Pid         uint32
	Ppid        uint32
	Comm        string
	Command     string
	TimestampNs uint64
}

// FileOpenInfo carries the raw arguments of a file-open probe.
type FileOpenInfo struct {
	Pid         uint32
	Ppid        uint32
	Comm        string
	Filepath    string
	Flags       int32
	TimestampNs uint64
}

// FileCloseInfo carries the raw arguments of a file-close probe.
type FileCloseInfo struct {
	Pid         uint32
	Ppid        uint32
	Comm        string
	Fd          int32
	TimestampNs uint64
}

// SSLDataInfo carries one SSL library read or write.
type SSLDataInfo struct {
	Pid         uint32
	Tid         uint32
	Ppid        uint32
	Uid         uint32
	Comm        string
	Data        []byte
	Len         uint32 // full payload length before truncation
	DeltaNs     uint64 // call latency
	Write       bool
	TimestampNs uint64
}

// Emitter gates probe callbacks through the eligibility engine and
// publishes accepted events onto the transport ring. It runs in probe
// context: every path is non-blocking and a full ring drops the event
// with only a metric to show for it.
type Emitter struct {
	ring        *RingBuffer
	engine      *EligibilityEngine
	starts      StartTable
	minDuration time.Duration
}

// NewEmitter wires the emitter to the ring and the shared tables.
func NewEmitter(ring *RingBuffer, engine *EligibilityEngine, starts StartTable, minDuration time.Duration) *Emitter {
	return &Emitter{
		ring:        ring,
		engine:      engine,
		starts:      starts,
		minDuration: minDuration,
	}
}

// HandleExec processes a process-creation probe callback.
func (em *Emitter) HandleExec(ev ExecInfo) {
	if !em.engine.ShouldTrace(ev.Comm, ev.Pid, ev.Ppid) {
		excludedEventsTotal.WithLabelValues("eligibility").Inc()
		return
	}

	em.starts.Record(ev.Pid, ev.TimestampNs)

	// Exec emission is suppressed entirely under a minimum-duration
	// filter: duration is unknown until exit.
	if em.minDuration > 0 {
		return
	}

	var out types.ProcessExecEvent
	out.EventType = types.EVENT_PROCESS_EXEC
	out.Pid = ev.Pid
	out.Ppid = ev.Ppid
	out.Timestamp = ev.TimestampNs
	out.Comm = types.CommBytes(ev.Comm)
	copy(out.Filename[:types.MaxFilenameLen-1], ev.Filename)
	em.submit("process_exec", &out)
}

// HandleExit processes a process-exit probe callback.
func (em *Emitter) HandleExit(ev ExitInfo) {
	// Thread exits are not process exits.
	if ev.Tid != ev.Pid {
		return
	}

	if !em.engine.IsTracked(ev.Pid) {
		excludedEventsTotal.WithLabelValues("eligibility").Inc()
		return
	}

	var durationNs uint64
	start, ok := em.starts.Take(ev.Pid)
	if ok {
		durationNs = ev.TimestampNs - start
	} else if em.minDuration > 0 {
		// No exec recorded: duration is unknowable, treat as not
		// meeting the bar.
		return
	}

	if em.minDuration > 0 && durationNs < uint64(em.minDuration.Nanoseconds()) {
		return
	}

	var out types.ProcessExitEvent
	out.EventType = types.EVENT_PROCESS_EXIT
	out.Pid = ev.Pid
	out.Ppid = ev.Ppid
	out.ExitCode = ev.ExitCode
	out.Timestamp = ev.TimestampNs
	out.Comm = types.CommBytes(ev.Comm)
	out.DurationNs = durationNs

	// The exit ends eligibility inheritance for this lineage; children
	// already spawned keep their own entries.
	em.engine.HandleExit(ev.Pid)

	em.submit("process_exit", &out)
}

// HandleReadline processes a captured shell input line.
func (em *Emitter) HandleReadline(ev ReadlineInfo) {
	if !em.allowFineGrained(ev.Pid) {
		return
	}

	var out types.ShellEvent
	out.EventType = types.EVENT_SHELL_READLINE
	out.Pid = ev.Pid
	out.Ppid = ev.Ppid
	out.Timestamp = ev.TimestampNs
	out.Comm = types.CommBytes(ev.Comm)
	copy(out.Command[:types.MaxCommandLen-1], ev.Command)
	em.submit("shell_readline", &out)
}

// HandleFileOpen processes a file-open probe callback.
func (em *Emitter) HandleFileOpen(ev FileOpenInfo) {
	if !em.allowFineGrained(ev.Pid) {
		return
	}

	var out types.FileOpenEvent
	out.EventType = types.EVENT_FILE_OPEN
	out.Pid = ev.Pid
	out.Ppid = ev.Ppid
	out.Flags = ev.Flags
	out.Timestamp = ev.TimestampNs
	out.Comm = types.CommBytes(ev.Comm)
	out.Filepath = types.PathBytes(ev.Filepath)
	em.submit("file_open", &out)
}

// HandleFileClose processes a file-close probe callback.
func (em *Emitter) HandleFileClose(ev FileCloseInfo) {
	if !em.allowFineGrained(ev.Pid) {
		return
	}

	var out types.FileCloseEvent
	out.EventType = types.EVENT_FILE_CLOSE
	out.Pid = ev.Pid
	out.Ppid = ev.Ppid
	out.Fd = ev.Fd
	out.Timestamp = ev.TimestampNs
	out.Comm = types.CommBytes(ev.Comm)
	em.submit("file_close", &out)
}

// HandleSSLData processes one SSL read/write library call.
func (em *Emitter) HandleSSLData(ev SSLDataInfo) {
	if !em.allowFineGrained(ev.Pid) {
		return
	}

	var out types.SSLDataEvent
	if ev.Write {
		out.EventType = types.EVENT_SSL_WRITE
	} else {
		out.EventType = types.EVENT_SSL_READ
	}
	out.Pid = ev.Pid
	out.Ppid = ev.Ppid
	out.Tid = ev.Tid
	out.Uid = ev.Uid
	out.Timestamp = ev.TimestampNs
	out.Comm = types.CommBytes(ev.Comm)
	out.Len = ev.Len
	out.DeltaNs = ev.DeltaNs
	n := copy(out.Data[:], ev.Data)
	out.DataLen = uint32(n)
	em.submit(sslEventName(ev.Write), &out)
}

// allowFineGrained implements the per-mode gate for sub-operation
// events. ModeFilter gates at the emission point by tracked membership;
// ModeProc emits everything and lets the consumption loop gate by table
// membership at dispatch; ModeAll emits everything.
func (em *Emitter) allowFineGrained(pid uint32) bool {
	switch em.engine.Mode() {
	case ModeFilter:
		if !em.engine.IsTracked(pid) {
			excludedEventsTotal.WithLabelValues("eligibility").Inc()
			return false
		}
	}
	return true
}

func (em *Emitter) submit(eventType string, v interface{}) {
	record, err := encodeEvent(v)
	if err != nil {
		eventProcessingErrors.WithLabelValues(eventType).Inc()
		return
	}
	if err := em.ring.Write(record); err != nil {
		// Lossy by design: no retry, no blocking.
		droppedEventsTotal.WithLabelValues(eventType).Inc()
		return
	}
	emittedEventsTotal.WithLabelValues(eventType).Inc()
}

// encodeEvent serializes a fixed-size wire struct little-endian, the
// layout the consumption loop decodes with binary.Read.
func encodeEvent(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sslEventName(write bool) string {
	if write {
		return "ssl_write"
	}
	return "ssl_read"
}
