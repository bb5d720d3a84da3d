// output.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"proctrace/types"
)

// ConfigRecord is the one-shot startup snapshot emitted before any
// event: the active policy plus the pids pre-seeded as eligible.
type ConfigRecord struct {
	Mode               string   `json:"mode"`
	MinDurationMs      int64    `json:"min_duration_ms"`
	Commands           []string `json:"commands"`
	TargetPid          uint32   `json:"target_pid,omitempty"`
	DedupWindowSec     int64    `json:"dedup_window_sec"`
	InitialTrackedPids []uint32 `json:"initial_tracked_pids"`
}

// EventFormatter defines the interface for different output formats.
type EventFormatter interface {
	Initialize() error
	Close() error

	FormatConfig(cfg *ConfigRecord) error
	FormatProcessExec(ev *types.ProcessExecEvent) error
	FormatProcessExit(ev *types.ProcessExitEvent) error
	FormatShellCommand(ev *types.ShellEvent) error
	FormatFileOpen(ev *types.FileOpenEvent) error
	FormatFileClose(ev *types.FileCloseEvent) error
	FormatFileSummary(entry AggregationEntry, reason FlushReason, timestamp time.Time) error
	FormatSSLData(ev *types.SSLDataEvent) error
}

// JSONFormatter emits one self-delimited JSON object per line.
type JSONFormatter struct {
	mu         sync.Mutex
	encoder    *json.Encoder
	sessionUID string
}

func NewJSONFormatter(output io.Writer, sessionUID string) *JSONFormatter {
	return &JSONFormatter{
		encoder:    json.NewEncoder(output),
		sessionUID: sessionUID,
	}
}

func (f *JSONFormatter) Initialize() error { return nil }
func (f *JSONFormatter) Close() error      { return nil }

type processJSON struct {
	Timestamp  string `json:"timestamp"`
	SessionUID string `json:"session_uid"`
	EventType  string `json:"event_type"`
	Pid        uint32 `json:"pid"`
	Ppid       uint32 `json:"ppid"`
	Comm       string `json:"comm"`
	Filename   string `json:"filename,omitempty"`
	ExitCode   uint32 `json:"exit_code,omitempty"`
	DurationMs uint64 `json:"duration_ms,omitempty"`
}

type shellJSON struct {
	Timestamp  string `json:"timestamp"`
	SessionUID string `json:"session_uid"`
	EventType  string `json:"event_type"`
	Pid        uint32 `json:"pid"`
	Comm       string `json:"comm"`
	Command    string `json:"command"`
}

type fileJSON struct {
	Timestamp  string `json:"timestamp"`
	SessionUID string `json:"session_uid"`
	EventType  string `json:"event_type"`
	Pid        uint32 `json:"pid"`
	Comm       string `json:"comm"`
	Filepath   string `json:"filepath,omitempty"`
	Flags      int32  `json:"flags,omitempty"`
	Fd         int32  `json:"fd,omitempty"`
	Count      uint64 `json:"count,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type sslJSON struct {
	Timestamp  string  `json:"timestamp"`
	SessionUID string  `json:"session_uid"`
	EventType  string  `json:"event_type"`
	Pid        uint32  `json:"pid"`
	Tid        uint32  `json:"tid"`
	Uid        uint32  `json:"uid"`
	Comm       string  `json:"comm"`
	Len        uint32  `json:"len"`
	LatencyMs  float64 `json:"latency_ms"`
	Data       string  `json:"data,omitempty"`
	Truncated  bool    `json:"truncated"`
	BytesLost  uint32  `json:"bytes_lost,omitempty"`
}

func (f *JSONFormatter) write(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoder.Encode(v)
}

func (f *JSONFormatter) FormatConfig(cfg *ConfigRecord) error {
	return f.write(struct {
		Type       string `json:"type"`
		SessionUID string `json:"session_uid"`
		*ConfigRecord
	}{"config", f.sessionUID, cfg})
}

func (f *JSONFormatter) FormatProcessExec(ev *types.ProcessExecEvent) error {
	return f.write(&processJSON{
		Timestamp:  formatTimestamp(ev.Timestamp),
		SessionUID: f.sessionUID,
		EventType:  "process_exec",
		Pid:        ev.Pid,
		Ppid:       ev.Ppid,
		Comm:       types.CommString(ev.Comm),
		Filename:   nulTrimmed(ev.Filename[:]),
	})
}

func (f *JSONFormatter) FormatProcessExit(ev *types.ProcessExitEvent) error {
	return f.write(&processJSON{
		Timestamp:  formatTimestamp(ev.Timestamp),
		SessionUID: f.sessionUID,
		EventType:  "process_exit",
		Pid:        ev.Pid,
		Ppid:       ev.Ppid,
		Comm:       types.CommString(ev.Comm),
		ExitCode:   ev.ExitCode,
		DurationMs: ev.DurationNs / 1000000,
	})
}

func (f *JSONFormatter) FormatShellCommand(ev *types.ShellEvent) error {
	return f.write(&shellJSON{
		Timestamp:  formatTimestamp(ev.Timestamp),
		SessionUID: f.sessionUID,
		EventType:  "shell_readline",
		Pid:        ev.Pid,
		Comm:       types.CommString(ev.Comm),
		Command:    nulTrimmed(ev.Command[:]),
	})
}

func (f *JSONFormatter) FormatFileOpen(ev *types.FileOpenEvent) error {
	return f.write(&fileJSON{
		Timestamp:  formatTimestamp(ev.Timestamp),
		SessionUID: f.sessionUID,
		EventType:  "file_open",
		Pid:        ev.Pid,
		Comm:       types.CommString(ev.Comm),
		Filepath:   types.PathString(ev.Filepath),
		Flags:      ev.Flags,
	})
}

func (f *JSONFormatter) FormatFileClose(ev *types.FileCloseEvent) error {
	return f.write(&fileJSON{
		Timestamp:  formatTimestamp(ev.Timestamp),
		SessionUID: f.sessionUID,
		EventType:  "file_close",
		Pid:        ev.Pid,
		Comm:       types.CommString(ev.Comm),
		Fd:         ev.Fd,
	})
}

func (f *JSONFormatter) FormatFileSummary(entry AggregationEntry, reason FlushReason, timestamp time.Time) error {
	return f.write(&fileJSON{
		Timestamp:  timestamp.Format(time.RFC3339Nano),
		SessionUID: f.sessionUID,
		EventType:  "file_open_summary",
		Pid:        entry.Pid,
		Comm:       entry.Comm,
		Filepath:   entry.Filepath,
		Flags:      entry.Flags,
		Count:      entry.Count,
		Reason:     string(reason),
	})
}

func (f *JSONFormatter) FormatSSLData(ev *types.SSLDataEvent) error {
	eventType := "ssl_read"
	if ev.EventType == types.EVENT_SSL_WRITE {
		eventType = "ssl_write"
	}

	dataLen := ev.DataLen
	if dataLen > types.MaxSSLDataLen {
		dataLen = types.MaxSSLDataLen
	}
	out := &sslJSON{
		Timestamp:  formatTimestamp(ev.Timestamp),
		SessionUID: f.sessionUID,
		EventType:  eventType,
		Pid:        ev.Pid,
		Tid:        ev.Tid,
		Uid:        ev.Uid,
		Comm:       types.CommString(ev.Comm),
		Len:        ev.Len,
		LatencyMs:  float64(ev.DeltaNs) / 1000000,
		Data:       sanitizeSSLData(ev.Data[:dataLen]),
	}
	if dataLen < ev.Len {
		out.Truncated = true
		out.BytesLost = ev.Len - dataLen
	}
	return f.write(out)
}

// TextFormatter implements a pipe-delimited single-stream format.
type TextFormatter struct {
	mu     sync.Mutex
	output io.Writer
}

func NewTextFormatter(output io.Writer) *TextFormatter {
	return &TextFormatter{output: output}
}

func (f *TextFormatter) Initialize() error { return nil }
func (f *TextFormatter) Close() error      { return nil }

func (f *TextFormatter) writeLine(format string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.output, format+"\n", args...)
	return err
}

func (f *TextFormatter) FormatConfig(cfg *ConfigRecord) error {
	return f.writeLine("CONFIG|mode=%s|min_duration_ms=%d|commands=%v|initial_tracked_pids=%v",
		cfg.Mode, cfg.MinDurationMs, cfg.Commands, cfg.InitialTrackedPids)
}

func (f *TextFormatter) FormatProcessExec(ev *types.ProcessExecEvent) error {
	return f.writeLine("EXEC|%s|%s|%d|%d|%s",
		formatTimestamp(ev.Timestamp), types.CommString(ev.Comm), ev.Pid, ev.Ppid,
		nulTrimmed(ev.Filename[:]))
}

func (f *TextFormatter) FormatProcessExit(ev *types.ProcessExitEvent) error {
	return f.writeLine("EXIT|%s|%s|%d|%d|%d|%dms",
		formatTimestamp(ev.Timestamp), types.CommString(ev.Comm), ev.Pid, ev.Ppid,
		ev.ExitCode, ev.DurationNs/1000000)
}

func (f *TextFormatter) FormatShellCommand(ev *types.ShellEvent) error {
	return f.writeLine("SHELL|%s|%s|%d|%s",
		formatTimestamp(ev.Timestamp), types.CommString(ev.Comm), ev.Pid,
		nulTrimmed(ev.Command[:]))
}

func (f *TextFormatter) FormatFileOpen(ev *types.FileOpenEvent) error {
	return f.writeLine("OPEN|%s|%s|%d|%s|%d",
		formatTimestamp(ev.Timestamp), types.CommString(ev.Comm), ev.Pid,
		types.PathString(ev.Filepath), ev.Flags)
}

func (f *TextFormatter) FormatFileClose(ev *types.FileCloseEvent) error {
	return f.writeLine("CLOSE|%s|%s|%d|%d",
		formatTimestamp(ev.Timestamp), types.CommString(ev.Comm), ev.Pid, ev.Fd)
}

func (f *TextFormatter) FormatFileSummary(entry AggregationEntry, reason FlushReason, timestamp time.Time) error {
	return f.writeLine("OPEN_SUMMARY|%s|%s|%d|%s|count=%d|reason=%s",
		timestamp.Format(time.RFC3339Nano), entry.Comm, entry.Pid,
		entry.Filepath, entry.Count, reason)
}

func (f *TextFormatter) FormatSSLData(ev *types.SSLDataEvent) error {
	eventType := "SSL_READ"
	if ev.EventType == types.EVENT_SSL_WRITE {
		eventType = "SSL_WRITE"
	}
	return f.writeLine("%s|%s|%s|%d|len=%d|latency_ms=%.3f",
		eventType, formatTimestamp(ev.Timestamp), types.CommString(ev.Comm),
		ev.Pid, ev.Len, float64(ev.DeltaNs)/1000000)
}

func nulTrimmed(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// sanitizeSSLData keeps printable bytes and replaces the rest, so one
// event stays one line of output.
func sanitizeSSLData(data []byte) string {
	out := make([]byte, 0, len(data))
	for _, c := range data {
		switch {
		case c == '\n':
			out = append(out, '\\', 'n')
		case c == '\r':
			out = append(out, '\\', 'r')
		case c == '\t':
			out = append(out, '\\', 't')
		case c >= 32 && c <= 126, c >= 128:
			out = append(out, c)
		default:
			out = append(out, '.')
		}
	}
	return string(out)
}

// formatTimestamp maps a monotonic kernel timestamp to wall clock using
// the boot time reference.
func formatTimestamp(bpfTimestampNs uint64) string {
	return BpfTimestampToTime(bpfTimestampNs).Format(time.RFC3339Nano)
}
