package types

import (
	"bytes"
)

// Event type constants
const (
	EVENT_PROCESS_EXEC   = 1
	EVENT_PROCESS_EXIT   = 2
	EVENT_SHELL_READLINE = 3
	EVENT_FILE_OPEN      = 4
	EVENT_FILE_CLOSE     = 5
	EVENT_SSL_READ       = 6
	EVENT_SSL_WRITE      = 7
)

// Wire sizing constants matching the BPF programs
const (
	TaskCommLen    = 16
	MaxFilenameLen = 128
	MaxFilepathLen = 256
	MaxCommandLen  = 256
	MaxSSLDataLen  = 256
)

// EventHeader leads every record on the transport ring and is used for
// event type routing. Timestamps are monotonic kernel nanoseconds, not
// wall clock.
type EventHeader struct {
	EventType uint32
	Pid       uint32
	Ppid      uint32
	_         uint32 // padding for 8-byte alignment
	Timestamp uint64
	Comm      [TaskCommLen]byte
}

// ProcessExecEvent reports a process execution
type ProcessExecEvent struct {
	EventType uint32
	Pid       uint32
	Ppid      uint32
	_         uint32
	Timestamp uint64
	Comm      [TaskCommLen]byte
	Filename  [MaxFilenameLen]byte
}

// ProcessExitEvent reports a process exit. DurationNs is zero when no
// matching exec was recorded.
type ProcessExitEvent struct {
	EventType  uint32
	Pid        uint32
	Ppid       uint32
	ExitCode   uint32
	Timestamp  uint64
	Comm       [TaskCommLen]byte
	DurationNs uint64
}

// ShellEvent reports one line of interactive shell input
type ShellEvent struct {
	EventType uint32
	Pid       uint32
	Ppid      uint32
	_         uint32
	Timestamp uint64
	Comm      [TaskCommLen]byte
	Command   [MaxCommandLen]byte
}

// FileOpenEvent reports a file open by a traced process
type FileOpenEvent struct {
	EventType uint32
	Pid       uint32
	Ppid      uint32
	Flags     int32
	Timestamp uint64
	Comm      [TaskCommLen]byte
	Filepath  [MaxFilepathLen]byte
}

// FileCloseEvent reports a file descriptor close by a traced process
type FileCloseEvent struct {
	EventType uint32
	Pid       uint32
	Ppid      uint32
	Fd        int32
	Timestamp uint64
	Comm      [TaskCommLen]byte
}

// SSLDataEvent reports one SSL_read/SSL_write library call. Len is the
// full payload length; DataLen is how much of it fits in Data.
type SSLDataEvent struct {
	EventType uint32
	Pid       uint32
	Ppid      uint32
	Tid       uint32
	Timestamp uint64
	Comm      [TaskCommLen]byte
	Uid       uint32
	Len       uint32
	DataLen   uint32
	_         uint32
	DeltaNs   uint64
	Data      [MaxSSLDataLen]byte
}

// ProcessMeta is the enriched, user-space view of a process kept in the
// process cache between events.
type ProcessMeta struct {
	Pid     uint32
	Ppid    uint32
	Comm    string
	ExePath string
}

// CommString converts a fixed-size comm buffer to a Go string.
func CommString(comm [TaskCommLen]byte) string {
	return string(bytes.TrimRight(comm[:], "\x00"))
}

// CommBytes truncates a command name into a fixed-size comm buffer,
// always leaving a trailing NUL.
func CommBytes(comm string) [TaskCommLen]byte {
	var out [TaskCommLen]byte
	copy(out[:TaskCommLen-1], comm)
	return out
}

// PathBytes truncates a path into a fixed-size filepath buffer.
func PathBytes(path string) [MaxFilepathLen]byte {
	var out [MaxFilepathLen]byte
	copy(out[:MaxFilepathLen-1], path)
	return out
}

// PathString converts a fixed-size filepath buffer to a Go string.
func PathString(path [MaxFilepathLen]byte) string {
	return string(bytes.TrimRight(path[:], "\x00"))
}
