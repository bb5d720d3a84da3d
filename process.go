// process.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"proctrace/types"
)

// SnapshotBuilder walks the proc filesystem once at startup and runs
// every live process through the eligibility engine, so processes that
// started before the probes attached are still traceable. procRoot is
// "/proc" in production and a fixture directory in tests.
type SnapshotBuilder struct {
	procRoot string
	engine   *EligibilityEngine
	cache    *ProcessCache
	logger   *Logger
}

func NewSnapshotBuilder(procRoot string, engine *EligibilityEngine, cache *ProcessCache, logger *Logger) *SnapshotBuilder {
	return &SnapshotBuilder{
		procRoot: procRoot,
		engine:   engine,
		cache:    cache,
		logger:   logger,
	}
}

// Build scans procRoot and returns the pids the engine accepted.
// Failure to read the root is fatal; per-entry failures are expected
// (processes vanish between ReadDir and the reads) and skipped.
func (b *SnapshotBuilder) Build() ([]uint32, error) {
	entries, err := os.ReadDir(b.procRoot)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.procRoot, err)
	}

	var tracked []uint32
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid64, err := strconv.ParseUint(entry.Name(), 10, 32)
		if err != nil {
			continue
		}
		pid := uint32(pid64)

		comm, err := b.readComm(pid)
		if err != nil {
			continue
		}
		ppid, err := b.readPpid(pid)
		if err != nil {
			continue
		}

		if !b.engine.ShouldTrace(comm, pid, ppid) {
			continue
		}
		tracked = append(tracked, pid)

		exePath, _ := os.Readlink(filepath.Join(b.procRoot, entry.Name(), "exe"))
		b.cache.Set(pid, &types.ProcessMeta{
			Pid:     pid,
			Ppid:    ppid,
			Comm:    comm,
			ExePath: exePath,
		})
		b.logger.Debug("snapshot", "tracking existing process %d (%s)", pid, comm)
	}

	b.logger.Info("snapshot", "scanned %d proc entries, tracking %d existing processes",
		len(entries), len(tracked))
	return tracked, nil
}

func (b *SnapshotBuilder) readComm(pid uint32) (string, error) {
	data, err := os.ReadFile(filepath.Join(b.procRoot, strconv.FormatUint(uint64(pid), 10), "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

// readPpid parses the fourth field of /proc/N/stat. The comm field is
// parenthesized and may itself contain spaces and parentheses, so
// parsing starts after the last ')'.
func (b *SnapshotBuilder) readPpid(pid uint32) (uint32, error) {
	data, err := os.ReadFile(filepath.Join(b.procRoot, strconv.FormatUint(uint64(pid), 10), "stat"))
	if err != nil {
		return 0, err
	}
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 || idx+2 >= len(s) {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(s[idx+2:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	ppid, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing ppid for pid %d: %w", pid, err)
	}
	return uint32(ppid), nil
}
