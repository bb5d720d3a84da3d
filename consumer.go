// consumer.go
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"proctrace/types"
)

// DefaultPollTimeout matches the ring polling cadence of the original
// event loop.
const DefaultPollTimeout = 100 * time.Millisecond

// Consumer is the single-threaded consumption loop: it drains the
// transport ring, routes records by event type, applies the proc-mode
// fine-grained gate, runs file opens through the aggregator, and hands
// everything surviving to the formatter.
type Consumer struct {
	ring        *RingBuffer
	tracked     PidTable
	mode        TraceMode
	agg         *FileOpenAggregator
	formatter   EventFormatter
	cache       *ProcessCache
	logger      *Logger
	sslComm     string
	pollTimeout time.Duration
}

func NewConsumer(ring *RingBuffer, tracked PidTable, mode TraceMode, agg *FileOpenAggregator, formatter EventFormatter, cache *ProcessCache, logger *Logger, sslComm string) *Consumer {
	return &Consumer{
		ring:        ring,
		tracked:     tracked,
		mode:        mode,
		agg:         agg,
		formatter:   formatter,
		cache:       cache,
		logger:      logger,
		sslComm:     sslComm,
		pollTimeout: DefaultPollTimeout,
	}
}

// Run polls until the context is cancelled or the ring is closed and
// drained. On shutdown every remaining aggregation entry is flushed so
// no accumulated count is lost.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		c.agg.FlushAll(FlushShutdown)
		aggregationEntries.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		batch, err := c.ring.Poll(c.pollTimeout)
		if err != nil {
			if errors.Is(err, ErrRingClosed) {
				return nil
			}
			return fmt.Errorf("polling transport ring: %w", err)
		}

		for _, record := range batch {
			if err := c.handleRecord(record); err != nil {
				c.logger.Error("consumer", "record handling failed: %v", err)
				eventProcessingErrors.WithLabelValues("decode").Inc()
			}
		}
		aggregationEntries.Set(float64(c.agg.Len()))
	}
}

func (c *Consumer) handleRecord(record []byte) error {
	var header types.EventHeader
	if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("reading event header: %w", err)
	}

	switch header.EventType {
	case types.EVENT_PROCESS_EXEC:
		return c.handleExec(record)
	case types.EVENT_PROCESS_EXIT:
		return c.handleExit(record)
	case types.EVENT_SHELL_READLINE:
		return c.handleShell(record, &header)
	case types.EVENT_FILE_OPEN:
		return c.handleFileOpen(record, &header)
	case types.EVENT_FILE_CLOSE:
		return c.handleFileClose(record, &header)
	case types.EVENT_SSL_READ, types.EVENT_SSL_WRITE:
		return c.handleSSL(record, &header)
	}
	return fmt.Errorf("unknown event type %d", header.EventType)
}

// allowFineGrained is the dispatch-time gate for sub-operation events.
// In proc mode eligibility was already decided at the lifecycle level;
// the check here is plain table membership.
func (c *Consumer) allowFineGrained(pid uint32) bool {
	if c.mode != ModeProc {
		return true
	}
	info, ok := c.tracked.Get(pid)
	if !ok || !info.Tracked {
		excludedEventsTotal.WithLabelValues("proc_mode").Inc()
		return false
	}
	return true
}

func (c *Consumer) handleExec(record []byte) error {
	var ev types.ProcessExecEvent
	if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &ev); err != nil {
		return fmt.Errorf("decoding exec event: %w", err)
	}

	c.cache.Set(ev.Pid, &types.ProcessMeta{
		Pid:     ev.Pid,
		Ppid:    ev.Ppid,
		Comm:    types.CommString(ev.Comm),
		ExePath: nulTrimmed(ev.Filename[:]),
	})

	return c.formatter.FormatProcessExec(&ev)
}

func (c *Consumer) handleExit(record []byte) error {
	var ev types.ProcessExitEvent
	if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &ev); err != nil {
		return fmt.Errorf("decoding exit event: %w", err)
	}

	// Exit closes the window for the pid's pending file-open counts.
	c.agg.FlushPid(ev.Pid)

	err := c.formatter.FormatProcessExit(&ev)
	c.cache.Delete(ev.Pid)
	return err
}

func (c *Consumer) handleShell(record []byte, header *types.EventHeader) error {
	if !c.allowFineGrained(header.Pid) {
		return nil
	}
	var ev types.ShellEvent
	if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &ev); err != nil {
		return fmt.Errorf("decoding shell event: %w", err)
	}
	return c.formatter.FormatShellCommand(&ev)
}

func (c *Consumer) handleFileOpen(record []byte, header *types.EventHeader) error {
	if !c.allowFineGrained(header.Pid) {
		return nil
	}
	var ev types.FileOpenEvent
	if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &ev); err != nil {
		return fmt.Errorf("decoding file open event: %w", err)
	}

	emit := c.agg.Observe(ev.Pid, types.CommString(ev.Comm), types.PathString(ev.Filepath), ev.Flags, ev.Timestamp)
	if !emit {
		return nil
	}
	return c.formatter.FormatFileOpen(&ev)
}

func (c *Consumer) handleFileClose(record []byte, header *types.EventHeader) error {
	if !c.allowFineGrained(header.Pid) {
		return nil
	}
	var ev types.FileCloseEvent
	if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &ev); err != nil {
		return fmt.Errorf("decoding file close event: %w", err)
	}
	return c.formatter.FormatFileClose(&ev)
}

func (c *Consumer) handleSSL(record []byte, header *types.EventHeader) error {
	if !c.allowFineGrained(header.Pid) {
		return nil
	}
	var ev types.SSLDataEvent
	if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &ev); err != nil {
		return fmt.Errorf("decoding ssl event: %w", err)
	}

	if c.sslComm != "" {
		// The wire comm is the calling thread's name; prefer the
		// exec-time process name from the cache when we have it.
		comm := types.CommString(ev.Comm)
		if meta, ok := c.cache.Get(ev.Pid); ok {
			comm = meta.Comm
		}
		if !strings.HasPrefix(comm, c.sslComm) {
			excludedEventsTotal.WithLabelValues("ssl_comm").Inc()
			return nil
		}
	}
	return c.formatter.FormatSSLData(&ev)
}
