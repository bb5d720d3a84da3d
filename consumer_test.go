package main

import (
	"context"
	"io"
	"testing"
	"time"

	"proctrace/types"
)

// recordingFormatter captures formatted events for assertions.
type recordingFormatter struct {
	execs     []*types.ProcessExecEvent
	exits     []*types.ProcessExitEvent
	shells    []*types.ShellEvent
	opens     []*types.FileOpenEvent
	closes    []*types.FileCloseEvent
	ssl       []*types.SSLDataEvent
	summaries []flushRecord
}

func (r *recordingFormatter) Initialize() error                { return nil }
func (r *recordingFormatter) Close() error                     { return nil }
func (r *recordingFormatter) FormatConfig(*ConfigRecord) error { return nil }

func (r *recordingFormatter) FormatProcessExec(ev *types.ProcessExecEvent) error {
	r.execs = append(r.execs, ev)
	return nil
}

func (r *recordingFormatter) FormatProcessExit(ev *types.ProcessExitEvent) error {
	r.exits = append(r.exits, ev)
	return nil
}

func (r *recordingFormatter) FormatShellCommand(ev *types.ShellEvent) error {
	r.shells = append(r.shells, ev)
	return nil
}

func (r *recordingFormatter) FormatFileOpen(ev *types.FileOpenEvent) error {
	r.opens = append(r.opens, ev)
	return nil
}

func (r *recordingFormatter) FormatFileClose(ev *types.FileCloseEvent) error {
	r.closes = append(r.closes, ev)
	return nil
}

func (r *recordingFormatter) FormatFileSummary(entry AggregationEntry, reason FlushReason, _ time.Time) error {
	r.summaries = append(r.summaries, flushRecord{entry, reason})
	return nil
}

func (r *recordingFormatter) FormatSSLData(ev *types.SSLDataEvent) error {
	r.ssl = append(r.ssl, ev)
	return nil
}

type consumerFixture struct {
	consumer  *Consumer
	ring      *RingBuffer
	tracked   PidTable
	formatter *recordingFormatter
	cache     *ProcessCache
}

func newConsumerFixture(t *testing.T, mode TraceMode, sslComm string) *consumerFixture {
	t.Helper()
	ring := NewRingBuffer(DefaultRingSize)
	tracked := NewPidTable()
	formatter := &recordingFormatter{}
	agg := NewFileOpenAggregator(time.Minute, func(entry AggregationEntry, reason FlushReason) {
		formatter.FormatFileSummary(entry, reason, time.Time{})
	})
	cache, err := NewProcessCache(1000)
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}
	logger := NewLogger(io.Discard, LogLevelError, false)
	return &consumerFixture{
		consumer:  NewConsumer(ring, tracked, mode, agg, formatter, cache, logger, sslComm),
		ring:      ring,
		tracked:   tracked,
		formatter: formatter,
		cache:     cache,
	}
}

func mustEncode(t *testing.T, v interface{}) []byte {
	t.Helper()
	record, err := encodeEvent(v)
	if err != nil {
		t.Fatalf("encoding event: %v", err)
	}
	return record
}

func execRecord(t *testing.T, pid, ppid uint32, comm string, ts uint64) []byte {
	var ev types.ProcessExecEvent
	ev.EventType = types.EVENT_PROCESS_EXEC
	ev.Pid = pid
	ev.Ppid = ppid
	ev.Timestamp = ts
	ev.Comm = types.CommBytes(comm)
	return mustEncode(t, &ev)
}

func exitRecord(t *testing.T, pid uint32, comm string, ts, durationNs uint64) []byte {
	var ev types.ProcessExitEvent
	ev.EventType = types.EVENT_PROCESS_EXIT
	ev.Pid = pid
	ev.Timestamp = ts
	ev.Comm = types.CommBytes(comm)
	ev.DurationNs = durationNs
	return mustEncode(t, &ev)
}

func fileOpenRecord(t *testing.T, pid uint32, comm, path string, ts uint64) []byte {
	var ev types.FileOpenEvent
	ev.EventType = types.EVENT_FILE_OPEN
	ev.Pid = pid
	ev.Timestamp = ts
	ev.Comm = types.CommBytes(comm)
	ev.Filepath = types.PathBytes(path)
	return mustEncode(t, &ev)
}

func sslRecord(t *testing.T, pid uint32, comm string, write bool, ts uint64) []byte {
	var ev types.SSLDataEvent
	ev.EventType = types.EVENT_SSL_READ
	if write {
		ev.EventType = types.EVENT_SSL_WRITE
	}
	ev.Pid = pid
	ev.Timestamp = ts
	ev.Comm = types.CommBytes(comm)
	ev.Len = 4
	ev.DataLen = 4
	copy(ev.Data[:], "data")
	return mustEncode(t, &ev)
}

func TestConsumerDispatch(t *testing.T) {
	fx := newConsumerFixture(t, ModeFilter, "")

	var shell types.ShellEvent
	shell.EventType = types.EVENT_SHELL_READLINE
	shell.Pid = 100
	shell.Comm = types.CommBytes("bash")
	copy(shell.Command[:], "ls -la")

	var fclose types.FileCloseEvent
	fclose.EventType = types.EVENT_FILE_CLOSE
	fclose.Pid = 100
	fclose.Fd = 3
	fclose.Comm = types.CommBytes("bash")

	records := [][]byte{
		execRecord(t, 100, 1, "bash", 1000),
		mustEncode(t, &shell),
		fileOpenRecord(t, 100, "bash", "/etc/hosts", 2000),
		mustEncode(t, &fclose),
		sslRecord(t, 100, "curl", true, 3000),
		exitRecord(t, 100, "bash", 9000, 8000),
	}
	for _, record := range records {
		if err := fx.consumer.handleRecord(record); err != nil {
			t.Fatalf("handleRecord failed: %v", err)
		}
	}

	if len(fx.formatter.execs) != 1 || fx.formatter.execs[0].Pid != 100 {
		t.Errorf("execs = %d, want 1 for pid 100", len(fx.formatter.execs))
	}
	if len(fx.formatter.shells) != 1 {
		t.Errorf("shells = %d, want 1", len(fx.formatter.shells))
	}
	if len(fx.formatter.opens) != 1 {
		t.Errorf("opens = %d, want 1", len(fx.formatter.opens))
	}
	if len(fx.formatter.closes) != 1 {
		t.Errorf("closes = %d, want 1", len(fx.formatter.closes))
	}
	if len(fx.formatter.ssl) != 1 {
		t.Errorf("ssl = %d, want 1", len(fx.formatter.ssl))
	}
	if len(fx.formatter.exits) != 1 || fx.formatter.exits[0].DurationNs != 8000 {
		t.Errorf("exits = %+v, want one with duration 8000", fx.formatter.exits)
	}
}

func TestConsumerUnknownEventType(t *testing.T) {
	fx := newConsumerFixture(t, ModeFilter, "")

	var bogus types.EventHeader
	bogus.EventType = 99
	if err := fx.consumer.handleRecord(mustEncode(t, &bogus)); err == nil {
		t.Fatal("unknown event type should error")
	}
}

func TestConsumerFileOpenAggregation(t *testing.T) {
	fx := newConsumerFixture(t, ModeFilter, "")

	for i := 0; i < 10; i++ {
		record := fileOpenRecord(t, 100, "vim", "/etc/hosts", uint64(1000+i))
		if err := fx.consumer.handleRecord(record); err != nil {
			t.Fatalf("handleRecord failed: %v", err)
		}
	}

	// Only the first occurrence reaches the formatter raw.
	if len(fx.formatter.opens) != 1 {
		t.Fatalf("opens = %d, want 1", len(fx.formatter.opens))
	}

	// Process exit flushes the accumulated count.
	if err := fx.consumer.handleRecord(exitRecord(t, 100, "vim", 5000, 4000)); err != nil {
		t.Fatalf("handleRecord failed: %v", err)
	}
	if len(fx.formatter.summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(fx.formatter.summaries))
	}
	summary := fx.formatter.summaries[0]
	if summary.entry.Count != 10 || summary.reason != FlushProcessExit {
		t.Errorf("summary = count %d reason %q, want 10 %q",
			summary.entry.Count, summary.reason, FlushProcessExit)
	}
}

func TestConsumerProcModeGate(t *testing.T) {
	fx := newConsumerFixture(t, ModeProc, "")

	// Untracked pid: fine-grained events are dropped at dispatch.
	if err := fx.consumer.handleRecord(fileOpenRecord(t, 100, "vim", "/tmp/x", 1000)); err != nil {
		t.Fatalf("handleRecord failed: %v", err)
	}
	if len(fx.formatter.opens) != 0 {
		t.Fatalf("untracked open reached formatter")
	}

	// Tracked pid passes.
	fx.tracked.Put(PidInfo{Pid: 100, Tracked: true})
	if err := fx.consumer.handleRecord(fileOpenRecord(t, 100, "vim", "/tmp/x", 2000)); err != nil {
		t.Fatalf("handleRecord failed: %v", err)
	}
	if len(fx.formatter.opens) != 1 {
		t.Fatalf("tracked open did not reach formatter")
	}

	// Lifecycle events are never gated here.
	if err := fx.consumer.handleRecord(execRecord(t, 999, 1, "cat", 3000)); err != nil {
		t.Fatalf("handleRecord failed: %v", err)
	}
	if len(fx.formatter.execs) != 1 {
		t.Fatalf("exec should pass the proc mode gate")
	}
}

func TestConsumerSSLCommFilter(t *testing.T) {
	fx := newConsumerFixture(t, ModeAll, "curl")

	fx.consumer.handleRecord(sslRecord(t, 100, "curl", false, 1000))
	fx.consumer.handleRecord(sslRecord(t, 200, "wget", false, 2000))

	if len(fx.formatter.ssl) != 1 {
		t.Fatalf("ssl = %d, want only the matching comm", len(fx.formatter.ssl))
	}
	if got := types.CommString(fx.formatter.ssl[0].Comm); got != "curl" {
		t.Errorf("comm = %q, want curl", got)
	}
}

func TestConsumerSSLCommFilterPrefersCachedComm(t *testing.T) {
	fx := newConsumerFixture(t, ModeAll, "curl")

	// The wire comm is a worker thread name; the exec-time name in the
	// cache is what the filter should match against.
	fx.cache.Set(300, &types.ProcessMeta{Pid: 300, Comm: "curl", ExePath: "/usr/bin/curl"})
	fx.cache.Wait()

	fx.consumer.handleRecord(sslRecord(t, 300, "worker-0", false, 1000))
	if len(fx.formatter.ssl) != 1 {
		t.Fatalf("ssl = %d, want the cached comm to satisfy the filter", len(fx.formatter.ssl))
	}
}

func TestConsumerRunDrainsAndFlushesOnClose(t *testing.T) {
	fx := newConsumerFixture(t, ModeFilter, "")

	fx.ring.Write(fileOpenRecord(t, 100, "vim", "/etc/hosts", 1000))
	fx.ring.Write(fileOpenRecord(t, 100, "vim", "/etc/hosts", 2000))
	fx.ring.Close()

	if err := fx.consumer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(fx.formatter.opens) != 1 {
		t.Errorf("opens = %d, want 1", len(fx.formatter.opens))
	}
	// Shutdown flushes the pending aggregation entry.
	if len(fx.formatter.summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(fx.formatter.summaries))
	}
	if fx.formatter.summaries[0].reason != FlushShutdown {
		t.Errorf("reason = %q, want %q", fx.formatter.summaries[0].reason, FlushShutdown)
	}
}

func TestConsumerRunStopsOnContextCancel(t *testing.T) {
	fx := newConsumerFixture(t, ModeFilter, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.consumer.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
