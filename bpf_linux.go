//go:build linux
// +build linux

// Linux-specific probe attachment. The BPF programs emit raw records for
// every process; eligibility, duration filtering and mode gating all
// happen in the Emitter before anything reaches the transport ring.

package main

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -cc clang procmon bpf/procmon.c -- -I./bpf
//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -cc clang sslsniff bpf/sslsniff.c -- -I./bpf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"

	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"

	"proctrace/types"
)

type probeSet struct {
	links   []link.Link
	readers []*ringbuf.Reader
	closers []io.Closer
	wg      sync.WaitGroup
	once    sync.Once
}

func (ps *probeSet) close() {
	ps.once.Do(func() {
		for _, l := range ps.links {
			l.Close()
		}
		for _, r := range ps.readers {
			r.Close()
		}
		ps.wg.Wait()
		for _, c := range ps.closers {
			c.Close()
		}
	})
}

// attachProbes loads the BPF objects, attaches every probe target and
// starts one reader goroutine per kernel ring. The returned cleanup is
// idempotent and waits for the readers to drain.
func attachProbes(cfg ProbeConfig, em *Emitter, logger *Logger) (func(), error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock limit: %w", err)
	}

	ps := &probeSet{}

	var objs procmonObjects
	if err := loadProcmonObjects(&objs, nil); err != nil {
		return nil, fmt.Errorf("loading process monitor objects: %w", err)
	}
	ps.closers = append(ps.closers, &objs)

	execTP, err := link.Tracepoint("sched", "sched_process_exec", objs.HandleExec, nil)
	if err != nil {
		ps.close()
		return nil, fmt.Errorf("attaching exec tracepoint: %w", err)
	}
	ps.links = append(ps.links, execTP)

	exitTP, err := link.Tracepoint("sched", "sched_process_exit", objs.HandleExit, nil)
	if err != nil {
		ps.close()
		return nil, fmt.Errorf("attaching exit tracepoint: %w", err)
	}
	ps.links = append(ps.links, exitTP)

	openTP, err := link.Tracepoint("syscalls", "sys_enter_openat", objs.HandleOpenat, nil)
	if err != nil {
		logger.Warning("bpf", "file open tracing unavailable: %v", err)
	} else {
		ps.links = append(ps.links, openTP)
	}

	closeTP, err := link.Tracepoint("syscalls", "sys_enter_close", objs.HandleClose, nil)
	if err != nil {
		logger.Warning("bpf", "file close tracing unavailable: %v", err)
	} else {
		ps.links = append(ps.links, closeTP)
	}

	if cfg.ShellPath != "" {
		shell, err := link.OpenExecutable(cfg.ShellPath)
		if err != nil {
			logger.Warning("bpf", "shell tracing unavailable, cannot open %s: %v", cfg.ShellPath, err)
		} else {
			rl, err := shell.Uretprobe("readline", objs.HandleReadline, nil)
			if err != nil {
				logger.Warning("bpf", "shell tracing unavailable, readline probe failed: %v", err)
			} else {
				ps.links = append(ps.links, rl)
			}
		}
	}

	procReader, err := ringbuf.NewReader(objs.Events)
	if err != nil {
		ps.close()
		return nil, fmt.Errorf("opening process event ring: %w", err)
	}
	ps.readers = append(ps.readers, procReader)
	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		readProbeEvents(procReader, em, logger, "process")
	}()

	if cfg.SSLLib != "" {
		var sslObjs sslsniffObjects
		if err := loadSslsniffObjects(&sslObjs, nil); err != nil {
			ps.close()
			return nil, fmt.Errorf("loading ssl monitor objects: %w", err)
		}
		ps.closers = append(ps.closers, &sslObjs)

		lib, err := link.OpenExecutable(cfg.SSLLib)
		if err != nil {
			ps.close()
			return nil, fmt.Errorf("opening ssl library %s: %w", cfg.SSLLib, err)
		}

		readEnter, err := lib.Uprobe("SSL_read", sslObjs.SslReadEnter, nil)
		if err != nil {
			ps.close()
			return nil, fmt.Errorf("attaching SSL_read entry probe: %w", err)
		}
		ps.links = append(ps.links, readEnter)

		readRet, err := lib.Uretprobe("SSL_read", sslObjs.SslReadRet, nil)
		if err != nil {
			ps.close()
			return nil, fmt.Errorf("attaching SSL_read return probe: %w", err)
		}
		ps.links = append(ps.links, readRet)

		writeEnter, err := lib.Uprobe("SSL_write", sslObjs.SslWriteEnter, nil)
		if err != nil {
			ps.close()
			return nil, fmt.Errorf("attaching SSL_write entry probe: %w", err)
		}
		ps.links = append(ps.links, writeEnter)

		writeRet, err := lib.Uretprobe("SSL_write", sslObjs.SslWriteRet, nil)
		if err != nil {
			ps.close()
			return nil, fmt.Errorf("attaching SSL_write return probe: %w", err)
		}
		ps.links = append(ps.links, writeRet)

		sslReader, err := ringbuf.NewReader(sslObjs.Events)
		if err != nil {
			ps.close()
			return nil, fmt.Errorf("opening ssl event ring: %w", err)
		}
		ps.readers = append(ps.readers, sslReader)
		ps.wg.Add(1)
		go func() {
			defer ps.wg.Done()
			readProbeEvents(sslReader, em, logger, "ssl")
		}()
	}

	return ps.close, nil
}

// readProbeEvents drains one kernel ring until it is closed, handing
// each raw record to the emitter.
func readProbeEvents(reader *ringbuf.Reader, em *Emitter, logger *Logger, name string) {
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, syscall.EINTR) {
				continue
			}
			logger.Error("bpf", "%s ring read failed: %v", name, err)
			return
		}
		if len(record.RawSample) == 0 {
			continue
		}
		if err := dispatchProbeEvent(record.RawSample, em); err != nil {
			logger.Debug("bpf", "%s event dropped: %v", name, err)
			eventProcessingErrors.WithLabelValues("probe_decode").Inc()
		}
	}
}

// dispatchProbeEvent decodes a kernel record and routes it through the
// emitter, where all filtering happens.
func dispatchProbeEvent(data []byte, em *Emitter) error {
	var header types.EventHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("reading event header: %w", err)
	}

	switch header.EventType {
	case types.EVENT_PROCESS_EXEC:
		var ev types.ProcessExecEvent
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &ev); err != nil {
			return fmt.Errorf("parsing exec event: %w", err)
		}
		em.HandleExec(ExecInfo{
			Pid:         ev.Pid,
			Ppid:        ev.Ppid,
			Comm:        types.CommString(ev.Comm),
			Filename:    nulTrimmed(ev.Filename[:]),
			TimestampNs: ev.Timestamp,
		})

	case types.EVENT_PROCESS_EXIT:
		var ev types.ProcessExitEvent
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &ev); err != nil {
			return fmt.Errorf("parsing exit event: %w", err)
		}
		// The BPF program already discards thread exits; tid==pid here.
		em.HandleExit(ExitInfo{
			Pid:         ev.Pid,
			Tid:         ev.Pid,
			Ppid:        ev.Ppid,
			Comm:        types.CommString(ev.Comm),
			ExitCode:    ev.ExitCode,
			TimestampNs: ev.Timestamp,
		})

	case types.EVENT_SHELL_READLINE:
		var ev types.ShellEvent
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &ev); err != nil {
			return fmt.Errorf("parsing shell event: %w", err)
		}
		em.HandleReadline(ReadlineInfo{
			Pid:         ev.Pid,
			Ppid:        ev.Ppid,
			Comm:        types.CommString(ev.Comm),
			Command:     nulTrimmed(ev.Command[:]),
			TimestampNs: ev.Timestamp,
		})

	case types.EVENT_FILE_OPEN:
		var ev types.FileOpenEvent
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &ev); err != nil {
			return fmt.Errorf("parsing file open event: %w", err)
		}
		em.HandleFileOpen(FileOpenInfo{
			Pid:         ev.Pid,
			Ppid:        ev.Ppid,
			Comm:        types.CommString(ev.Comm),
			Filepath:    types.PathString(ev.Filepath),
			Flags:       ev.Flags,
			TimestampNs: ev.Timestamp,
		})

	case types.EVENT_FILE_CLOSE:
		var ev types.FileCloseEvent
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &ev); err != nil {
			return fmt.Errorf("parsing file close event: %w", err)
		}
		em.HandleFileClose(FileCloseInfo{
			Pid:         ev.Pid,
			Ppid:        ev.Ppid,
			Comm:        types.CommString(ev.Comm),
			Fd:          ev.Fd,
			TimestampNs: ev.Timestamp,
		})

	case types.EVENT_SSL_READ, types.EVENT_SSL_WRITE:
		var ev types.SSLDataEvent
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &ev); err != nil {
			return fmt.Errorf("parsing ssl event: %w", err)
		}
		dataLen := ev.DataLen
		if dataLen > types.MaxSSLDataLen {
			dataLen = types.MaxSSLDataLen
		}
		em.HandleSSLData(SSLDataInfo{
			Pid:         ev.Pid,
			Tid:         ev.Tid,
			Ppid:        ev.Ppid,
			Uid:         ev.Uid,
			Comm:        types.CommString(ev.Comm),
			Data:        ev.Data[:dataLen],
			Len:         ev.Len,
			DeltaNs:     ev.DeltaNs,
			Write:       ev.EventType == types.EVENT_SSL_WRITE,
			TimestampNs: ev.Timestamp,
		})

	default:
		return fmt.Errorf("unknown event type: %d", header.EventType)
	}

	return nil
}
